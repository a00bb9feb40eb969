// Package rest implements the Transport port against the collector's JSON
// REST API, classifying failures into the domain error taxonomy.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pulselabs/pulseclient/internal/domain"
	"github.com/pulselabs/pulseclient/internal/ports"
)

const apiPrefix = "/api/0/"

// Responses to failed requests are captured for error messages, bounded so
// a misbehaving server cannot balloon memory.
const maxErrorBody = 4 << 10

// Identity describes the client to the collector via request headers.
type Identity struct {
	ClientName string
	Hostname   string
	InstanceID string
}

// Transport performs JSON requests against one collector base URL.
type Transport struct {
	base   string
	client ports.HTTPClient
	logger ports.Logger
	ident  Identity
}

// New creates a Transport for the given base URL (scheme://host:port).
func New(baseURL string, client ports.HTTPClient, logger ports.Logger, ident Identity) *Transport {
	return &Transport{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
		logger: logger,
		ident:  ident,
	}
}

// GetJSON implements ports.Transport.
func (t *Transport) GetJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := t.url(endpoint)
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return t.do(req, out)
}

// PostJSON implements ports.Transport.
func (t *Transport) PostJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url(endpoint), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req, out)
}

// DeleteJSON implements ports.Transport.
func (t *Transport) DeleteJSON(ctx context.Context, endpoint string, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.url(endpoint), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req, nil)
}

func (t *Transport) url(endpoint string) string {
	return t.base + apiPrefix + endpoint
}

func encode(payload any) (io.Reader, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return bytes.NewReader(b), nil
}

func (t *Transport) do(req *http.Request, out any) error {
	req.Header.Set("X-Client-Name", t.ident.ClientName)
	req.Header.Set("X-Client-Hostname", t.ident.Hostname)
	req.Header.Set("X-Client-Instance", t.ident.InstanceID)

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return context.Canceled
		}
		// Refused connections and timeouts both surface here; either way
		// the collector is unreachable and the request is safe to retry.
		return fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 2:
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrBadRequest, errorBody(resp.Body))
	case resp.StatusCode/100 == 5:
		return fmt.Errorf("%w: status %d: %s", domain.ErrServerError, resp.StatusCode, errorBody(resp.Body))
	default:
		return fmt.Errorf("pulseclient: unexpected status %d: %s", resp.StatusCode, errorBody(resp.Body))
	}
}

func errorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
