// Package trace registers the "sqlite-trace" driver: a wrapper over
// modernc.org/sqlite that logs every statement through slog with its verb,
// table and request trace ID (Debug, Warn above 100ms, Error on failure).
// With a Store installed, data statements are kept in a sql_traces table so
// the SQL behind one X-Trace-ID can be looked up later.
//
//	import _ "github.com/hazyhaar/botrule/trace"
//
//	store := trace.NewStore(traceDB) // traceDB opened with the raw "sqlite" driver
//	store.Init()
//	trace.SetStore(store)
//
//	db, _ := dbopen.Open("botrule.db", dbopen.WithTrace())
package trace

import (
	"database/sql"
	"sync"

	sqlite "modernc.org/sqlite"
)

// Entry is a single SQL trace record.
type Entry struct {
	TraceID    string `json:"trace_id"` // request correlation (kit.GetTraceID)
	Op         string `json:"op"`       // "Exec" or "Query"
	Verb       string `json:"verb"`
	Table      string `json:"table"`
	Query      string `json:"query"`
	DurationUs int64  `json:"duration_us"`
	Error      string `json:"error,omitempty"`
	Timestamp  int64  `json:"timestamp"` // unix microseconds
}

// Recorder persists trace entries.
type Recorder interface {
	RecordAsync(e *Entry)
	Close() error
}

var (
	globalStore Recorder
	storeMu     sync.RWMutex
)

// SetStore installs the process-wide recorder. nil means slog only.
func SetStore(s Recorder) {
	storeMu.Lock()
	globalStore = s
	storeMu.Unlock()
}

func getStore() Recorder {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return globalStore
}

func init() {
	sql.Register("sqlite-trace", &TracingDriver{
		Driver: &sqlite.Driver{},
	})
}
