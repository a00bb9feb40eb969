package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/pulselabs/pulseclient/internal/adapters/log"
	"github.com/pulselabs/pulseclient/internal/domain"
)

func newTestTransport(baseURL string) *Transport {
	return New(baseURL, &http.Client{Timeout: 2 * time.Second}, log.NewNoopLogger(), Identity{
		ClientName: "test-client",
		Hostname:   "test-host",
		InstanceID: "instance-1",
	})
}

func TestPostJSON_Success(t *testing.T) {
	var gotPath, gotName, gotHost string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotName = r.Header.Get("X-Client-Name")
		gotHost = r.Header.Get("X-Client-Hostname")
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	tr := newTestTransport(ts.URL)

	var out struct {
		OK bool `json:"ok"`
	}
	err := tr.PostJSON(context.Background(), "streams/test", map[string]string{"type": "app.activity"}, &out)
	if err != nil {
		t.Fatalf("PostJSON() failed: %v", err)
	}
	if !out.OK {
		t.Error("response not decoded")
	}
	if gotPath != "/api/0/streams/test" {
		t.Errorf("path = %q, want /api/0/streams/test", gotPath)
	}
	if gotName != "test-client" || gotHost != "test-host" {
		t.Errorf("identity headers = %q/%q", gotName, gotHost)
	}
}

func TestPostJSON_BadRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "malformed event", http.StatusBadRequest)
	}))
	defer ts.Close()

	err := newTestTransport(ts.URL).PostJSON(context.Background(), "streams/test/heartbeat?pulsetime=5", map[string]string{}, nil)
	if !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("err = %v, want ErrBadRequest", err)
	}
}

func TestPostJSON_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	err := newTestTransport(ts.URL).PostJSON(context.Background(), "streams/test", nil, nil)
	if !errors.Is(err, domain.ErrServerError) {
		t.Errorf("err = %v, want ErrServerError", err)
	}
}

func TestPostJSON_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // nothing listens here anymore

	err := newTestTransport(ts.URL).PostJSON(context.Background(), "streams/test", nil, nil)
	if !errors.Is(err, domain.ErrConnectivity) {
		t.Errorf("err = %v, want ErrConnectivity", err)
	}
}

func TestPostJSON_CanceledContextIsNotConnectivity(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestTransport(ts.URL).PostJSON(ctx, "streams/test", nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, domain.ErrConnectivity) {
		t.Error("canceled context misclassified as connectivity failure")
	}
}

func TestGetJSON_Params(t *testing.T) {
	var gotQuery url.Values
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	params := url.Values{}
	params.Set("limit", "10")

	var out []any
	if err := newTestTransport(ts.URL).GetJSON(context.Background(), "streams/test/events", params, &out); err != nil {
		t.Fatalf("GetJSON() failed: %v", err)
	}
	if gotQuery.Get("limit") != "10" {
		t.Errorf("limit param = %q, want 10", gotQuery.Get("limit"))
	}
}

func TestDeleteJSON(t *testing.T) {
	var gotMethod string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
	}))
	defer ts.Close()

	if err := newTestTransport(ts.URL).DeleteJSON(context.Background(), "streams/test", nil); err != nil {
		t.Fatalf("DeleteJSON() failed: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", gotMethod)
	}
}
