// Package sqlite implements the durable request queue on an embedded
// SQLite database, one file per client identity and environment.
package sqlite

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pulselabs/pulseclient/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// FormatVersion is the on-disk queue format, tracked in PRAGMA user_version.
// Version history:
//
//	1 - endpoint + payload columns only
//	2 - added enqueued_at
//
// A database written by a newer binary fails fast on open rather than being
// read with the wrong shape; older versions are migrated in place.
const FormatVersion = 2

// FileName returns the queue file name for a client identity. The name
// carries the format version so incompatible formats never share a file,
// and a "-testing" marker so test and production queues stay separate.
func FileName(clientName string, testing bool) string {
	suffix := ""
	if testing {
		suffix = "-testing"
	}
	return fmt.Sprintf("%s%s.v%d.db", clientName, suffix, FormatVersion)
}

// Queue is a crash-safe FIFO of pending deliveries.
//
// PeekFront holds the front item without removing it; Commit deletes it.
// Every enqueue is synced to disk before returning, so an acknowledged
// enqueue survives a crash. The single in-flight item is only cached in
// memory between PeekFront and Commit - after a crash it is simply peeked
// again, which is what gives at-least-once delivery.
type Queue struct {
	db *sql.DB

	mu   sync.Mutex
	head *domain.QueuedRequest
}

// Open creates or opens the queue database at path, creating parent
// directories as needed.
func Open(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// between the enqueueing callers and the delivery loop.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Queue{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		// FULL so that an acknowledged enqueue survives power loss, not
		// just a process crash.
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > FormatVersion {
		return fmt.Errorf("%w: on-disk version %d, binary supports up to %d",
			domain.ErrIncompatibleFormat, version, FormatVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", FormatVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV2 adds the enqueued_at column to version-1 databases. Fresh
// databases get the column from schema.sql, so the migration checks first.
func migrateToV2(db *sql.DB) error {
	has, err := hasColumn(db, "queue", "enqueued_at")
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if _, err := db.Exec("ALTER TABLE queue ADD COLUMN enqueued_at INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Enqueue appends a request to the back of the queue. The row is durable
// when Enqueue returns.
func (q *Queue) Enqueue(req domain.QueuedRequest) error {
	_, err := q.db.Exec(
		"INSERT INTO queue (endpoint, payload, enqueued_at) VALUES (?, ?, ?)",
		req.Endpoint, string(req.Payload), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// PeekFront returns the oldest not-yet-committed request. Repeated calls
// return the same item until Commit is called. The second return is false
// when the queue is empty.
func (q *Queue) PeekFront() (domain.QueuedRequest, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head != nil {
		return *q.head, true, nil
	}

	var req domain.QueuedRequest
	var payload string
	err := q.db.QueryRow(
		"SELECT id, endpoint, payload FROM queue ORDER BY id LIMIT 1",
	).Scan(&req.Seq, &req.Endpoint, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QueuedRequest{}, false, nil
	}
	if err != nil {
		return domain.QueuedRequest{}, false, fmt.Errorf("peek: %w", err)
	}
	req.Payload = json.RawMessage(payload)

	q.head = &req
	return req, true, nil
}

// Commit permanently removes the item returned by the last PeekFront.
// Returns domain.ErrNothingInFlight when nothing has been peeked.
func (q *Queue) Commit() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == nil {
		return domain.ErrNothingInFlight
	}
	if _, err := q.db.Exec("DELETE FROM queue WHERE id = ?", q.head.Seq); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	q.head = nil
	return nil
}

// Size returns the number of items in the queue, including a peeked but
// uncommitted item.
func (q *Queue) Size() (int, error) {
	var n int
	if err := q.db.QueryRow("SELECT COUNT(*) FROM queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("size: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}
