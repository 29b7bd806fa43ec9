package trace

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/botrule/dbopen"
)

// Schema is the sql_traces DDL applied by Init.
const Schema = `
CREATE TABLE IF NOT EXISTS sql_traces (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id    TEXT NOT NULL DEFAULT '',
	op          TEXT NOT NULL,
	verb        TEXT NOT NULL,
	table_name  TEXT NOT NULL DEFAULT '',
	query       TEXT NOT NULL,
	duration_us INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	timestamp   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sql_traces_tid ON sql_traces(trace_id, id);
CREATE INDEX IF NOT EXISTS idx_sql_traces_table ON sql_traces(table_name, timestamp);
`

const (
	batchSize  = 64
	flushDelay = 500 * time.Millisecond
)

// Store persists entries in batches from one goroutine. Its db must use the
// raw "sqlite" driver, otherwise every flush would trace itself.
type Store struct {
	db   *sql.DB
	ch   chan *Entry
	done chan struct{}
	once sync.Once
}

// NewStore starts the writer goroutine; Close drains it.
func NewStore(db *sql.DB) *Store {
	s := &Store{
		db:   db,
		ch:   make(chan *Entry, 1024),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// Init creates sql_traces.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// RecordAsync queues e. It never blocks: entries are dropped while the
// buffer is full.
func (s *Store) RecordAsync(e *Entry) {
	select {
	case s.ch <- e:
	default:
	}
}

// Close flushes what is queued and stops the writer.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
	return nil
}

// ByTraceID returns the statements recorded for one request, in execution
// order.
func (s *Store) ByTraceID(ctx context.Context, traceID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, op, verb, table_name, query, duration_us, error, timestamp
		FROM sql_traces WHERE trace_id = ? ORDER BY id`, traceID)
	if err != nil {
		return nil, fmt.Errorf("trace: by trace id: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TraceID, &e.Op, &e.Verb, &e.Table, &e.Query,
			&e.DurationUs, &e.Error, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// run flushes a batch when it is full or flushDelay after its first entry.
func (s *Store) run() {
	defer close(s.done)

	batch := make([]*Entry, 0, batchSize)
	timer := time.NewTimer(flushDelay)
	timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.write(batch); err != nil {
			slog.Error("trace store: flush", "error", err, "entries", len(batch))
		}
		batch = batch[:0]
		timer.Stop()
	}

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				flush()
				return
			}
			if len(batch) == 0 {
				timer.Reset(flushDelay)
			}
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-timer.C:
			flush()
		}
	}
}

func (s *Store) write(batch []*Entry) error {
	return dbopen.RunTx(context.Background(), s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO sql_traces
			(trace_id, op, verb, table_name, query, duration_us, error, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range batch {
			if _, err := stmt.Exec(e.TraceID, e.Op, e.Verb, e.Table, e.Query,
				e.DurationUs, e.Error, e.Timestamp); err != nil {
				return err
			}
		}
		return nil
	})
}
