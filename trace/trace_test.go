package trace

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/botrule/kit"
)

func setupTraceDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStore_Init(t *testing.T) {
	db := setupTraceDB(t)
	store := NewStore(db)
	defer store.Close()

	if err := store.Init(); err != nil {
		t.Fatal(err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sql_traces'").Scan(&count)
	if count != 1 {
		t.Fatal("sql_traces table not created")
	}
}

func TestStore_CloseFlushes(t *testing.T) {
	db := setupTraceDB(t)
	store := NewStore(db)
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 100; i++ {
		store.RecordAsync(&Entry{
			TraceID:    "a1b2c3d4",
			Op:         "Query",
			Verb:       "SELECT",
			Table:      "rule_for_web",
			Query:      "SELECT host FROM rule_for_web",
			DurationUs: 42,
			Timestamp:  time.Now().UnixMicro(),
		})
	}
	store.RecordAsync(&Entry{TraceID: "other", Op: "Exec", Verb: "DELETE", Table: "rule_for_web", Query: "DELETE FROM rule_for_web"})
	store.Close()

	entries, err := store.ByTraceID(context.Background(), "a1b2c3d4")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 100 {
		t.Fatalf("entries: got %d, want 100", len(entries))
	}
	if e := entries[0]; e.Verb != "SELECT" || e.Table != "rule_for_web" || e.DurationUs != 42 {
		t.Errorf("entry = %+v", e)
	}

	none, err := store.ByTraceID(context.Background(), "missing")
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("missing trace: %v, %v", none, err)
	}
}

func TestStore_FlushesWithoutClose(t *testing.T) {
	db := setupTraceDB(t)
	store := NewStore(db)
	defer store.Close()
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}

	store.RecordAsync(&Entry{TraceID: "cafe0001", Op: "Exec", Verb: "INSERT", Table: "rule_for_web", Query: "INSERT INTO rule_for_web"})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := store.ByTraceID(context.Background(), "cafe0001")
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("entry not flushed after the flush delay")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		query       string
		verb, table string
		data        bool
	}{
		{"SELECT id, host FROM rule_for_web WHERE host = ? ORDER BY rowid", "SELECT", "rule_for_web", true},
		{"\n\t\tINSERT INTO rule_for_web\n\t\t\t(id, host) VALUES (?,?)", "INSERT", "rule_for_web", true},
		{"DELETE FROM rule_for_web WHERE id = ?", "DELETE", "rule_for_web", true},
		{"UPDATE business_event_logs SET success = 0", "UPDATE", "business_event_logs", true},
		{"INSERT OR REPLACE INTO sql_traces (id) VALUES (1)", "INSERT", "sql_traces", true},
		{"CREATE TABLE IF NOT EXISTS rule_for_web (id TEXT)", "CREATE", "rule_for_web", false},
		{"CREATE INDEX IF NOT EXISTS idx_rule_for_web_host ON rule_for_web(host)", "CREATE", "rule_for_web", false},
		{"PRAGMA busy_timeout = 10000", "PRAGMA", "", false},
		{"select count(*) from \"rule_for_web\"", "SELECT", "rule_for_web", true},
		{"", "", "", false},
	}
	for _, tt := range tests {
		sh := Classify(tt.query)
		if sh.Verb != tt.verb || sh.Table != tt.table || sh.Data() != tt.data {
			t.Errorf("Classify(%q) = %+v (data=%v), want %s %s data=%v",
				tt.query, sh, sh.Data(), tt.verb, tt.table, tt.data)
		}
	}
}

type memRecorder struct{ entries chan *Entry }

func (m *memRecorder) RecordAsync(e *Entry) { m.entries <- e }
func (m *memRecorder) Close() error         { return nil }

func TestTracingDriver_RecordsTraceID(t *testing.T) {
	rec := &memRecorder{entries: make(chan *Entry, 16)}
	SetStore(rec)
	defer SetStore(nil)

	db, err := sql.Open("sqlite-trace", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	ctx := kit.WithTraceID(context.Background(), "deadbeef")
	if _, err := db.ExecContext(ctx, `CREATE TABLE rule_for_web (host TEXT)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO rule_for_web (host) VALUES (?)`, "x.com"); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-rec.entries:
		if e.TraceID != "deadbeef" {
			t.Errorf("TraceID: got %q, want deadbeef", e.TraceID)
		}
		if e.Op != "Exec" || e.Verb != "INSERT" || e.Table != "rule_for_web" {
			t.Errorf("entry = %+v, want Exec INSERT rule_for_web", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no trace entry recorded")
	}
	if n := len(rec.entries); n != 0 {
		t.Errorf("%d extra entries recorded; DDL should not be kept", n)
	}
}
