package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/pulselabs/pulseclient/internal/domain"
)

func openTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName("test-client", true))
	q, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q, path
}

func req(n int) domain.QueuedRequest {
	return domain.QueuedRequest{
		Endpoint: "streams/s/heartbeat?pulsetime=5",
		Payload:  json.RawMessage(fmt.Sprintf(`{"n":%d}`, n)),
	}
}

func TestQueue_FIFOOrder(t *testing.T) {
	q, _ := openTestQueue(t)

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(req(i)); err != nil {
			t.Fatalf("Enqueue(%d) failed: %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		front, ok, err := q.PeekFront()
		if err != nil || !ok {
			t.Fatalf("PeekFront() = ok=%v, err=%v", ok, err)
		}
		want := fmt.Sprintf(`{"n":%d}`, i)
		if string(front.Payload) != want {
			t.Errorf("item %d payload = %s, want %s", i, front.Payload, want)
		}
		if err := q.Commit(); err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}
	}

	if _, ok, _ := q.PeekFront(); ok {
		t.Error("queue not empty after committing all items")
	}
}

func TestQueue_PeekStableUntilCommit(t *testing.T) {
	q, _ := openTestQueue(t)

	if err := q.Enqueue(req(1)); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(req(2)); err != nil {
		t.Fatal(err)
	}

	first, _, err := q.PeekFront()
	if err != nil {
		t.Fatal(err)
	}
	again, _, err := q.PeekFront()
	if err != nil {
		t.Fatal(err)
	}
	if first.Seq != again.Seq {
		t.Errorf("repeated peek returned different items: %d then %d", first.Seq, again.Seq)
	}

	// Peeking holds, not removes: size still counts the in-flight item.
	if n, _ := q.Size(); n != 2 {
		t.Errorf("Size() = %d, want 2 while item in flight", n)
	}

	if err := q.Commit(); err != nil {
		t.Fatal(err)
	}
	next, _, err := q.PeekFront()
	if err != nil {
		t.Fatal(err)
	}
	if next.Seq == first.Seq {
		t.Error("commit did not advance the queue")
	}
	if n, _ := q.Size(); n != 1 {
		t.Errorf("Size() = %d, want 1 after commit", n)
	}
}

func TestQueue_CommitWithoutPeek(t *testing.T) {
	q, _ := openTestQueue(t)

	if err := q.Enqueue(req(1)); err != nil {
		t.Fatal(err)
	}
	if err := q.Commit(); !errors.Is(err, domain.ErrNothingInFlight) {
		t.Errorf("Commit() without peek = %v, want ErrNothingInFlight", err)
	}
}

func TestQueue_CrashRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName("test-client", true))

	q, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	const total = 7
	const committed = 3
	for i := 0; i < total; i++ {
		if err := q.Enqueue(req(i)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < committed; i++ {
		if _, _, err := q.PeekFront(); err != nil {
			t.Fatal(err)
		}
		if err := q.Commit(); err != nil {
			t.Fatal(err)
		}
	}
	// Peek one more but crash before commit.
	if _, _, err := q.PeekFront(); err != nil {
		t.Fatal(err)
	}
	q.Close()

	q2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer q2.Close()

	n, err := q2.Size()
	if err != nil {
		t.Fatal(err)
	}
	if n != total-committed {
		t.Fatalf("Size() after restart = %d, want %d", n, total-committed)
	}

	// Remaining items come back in original order, starting with the one
	// that was in flight at crash time.
	for i := committed; i < total; i++ {
		front, ok, err := q2.PeekFront()
		if err != nil || !ok {
			t.Fatalf("PeekFront() = ok=%v, err=%v", ok, err)
		}
		want := fmt.Sprintf(`{"n":%d}`, i)
		if string(front.Payload) != want {
			t.Errorf("recovered item payload = %s, want %s", front.Payload, want)
		}
		if err := q2.Commit(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestQueue_NewerFormatFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", FormatVersion+1)); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := Open(path); !errors.Is(err, domain.ErrIncompatibleFormat) {
		t.Errorf("Open() on newer format = %v, want ErrIncompatibleFormat", err)
	}
}

func TestQueue_MigratesFromV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	// Version-1 shape: no enqueued_at column.
	if _, err := db.Exec(`CREATE TABLE queue (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		endpoint TEXT NOT NULL,
		payload  TEXT NOT NULL
	)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("INSERT INTO queue (endpoint, payload) VALUES ('streams/s/heartbeat?pulsetime=5', '{}')"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("PRAGMA user_version = 1"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	q, err := Open(path)
	if err != nil {
		t.Fatalf("Open() on v1 database failed: %v", err)
	}
	defer q.Close()

	// The old row survives and new enqueues work with the new column.
	if n, _ := q.Size(); n != 1 {
		t.Errorf("Size() = %d, want 1 after migration", n)
	}
	if err := q.Enqueue(req(2)); err != nil {
		t.Errorf("Enqueue() after migration failed: %v", err)
	}
}

func TestFileName(t *testing.T) {
	got := FileName("tracker", false)
	want := fmt.Sprintf("tracker.v%d.db", FormatVersion)
	if got != want {
		t.Errorf("FileName() = %q, want %q", got, want)
	}

	got = FileName("tracker", true)
	want = fmt.Sprintf("tracker-testing.v%d.db", FormatVersion)
	if got != want {
		t.Errorf("FileName(testing) = %q, want %q", got, want)
	}
}
