package trace

import (
	"context"
	"database/sql/driver"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/botrule/kit"
)

const slowQuery = 100 * time.Millisecond

// TracingDriver wraps the modernc.org/sqlite driver and times every prepared
// statement. Registered as "sqlite-trace"; select it with dbopen.WithTrace().
type TracingDriver struct {
	driver.Driver
}

func (d *TracingDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	return &tracingConn{Conn: conn}, nil
}

type tracingConn struct {
	driver.Conn
}

func (c *tracingConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *tracingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var stmt driver.Stmt
	var err error
	if pc, ok := c.Conn.(driver.ConnPrepareContext); ok {
		stmt, err = pc.PrepareContext(ctx, query)
	} else {
		stmt, err = c.Conn.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	return &tracingStmt{Stmt: stmt, query: query, shape: Classify(query)}, nil
}

// Shape is what a statement does and to which table.
type Shape struct {
	Verb  string // SELECT, INSERT, DELETE, PRAGMA...
	Table string // "" when the statement names none
}

// Data reports whether the statement reads or writes rows, as opposed to
// connection setup, DDL or transaction control.
func (s Shape) Data() bool {
	switch s.Verb {
	case "SELECT", "INSERT", "UPDATE", "DELETE", "REPLACE", "WITH":
		return true
	}
	return false
}

// Classify extracts the leading verb and the first table a statement names
// after FROM, INTO, UPDATE, TABLE or ON.
func Classify(query string) Shape {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return Shape{}
	}
	sh := Shape{Verb: strings.ToUpper(fields[0])}
	for i := 0; i < len(fields); i++ {
		switch strings.ToUpper(fields[i]) {
		case "FROM", "INTO", "UPDATE", "TABLE", "ON":
		default:
			continue
		}
		j := i + 1
		for j < len(fields) && isModifier(fields[j]) {
			j++
		}
		if j < len(fields) {
			if t := tableName(fields[j]); t != "" {
				sh.Table = t
				return sh
			}
		}
	}
	return sh
}

func isModifier(tok string) bool {
	switch strings.ToUpper(tok) {
	case "IF", "NOT", "EXISTS", "OR", "ROLLBACK", "ABORT", "IGNORE", "FAIL", "REPLACE":
		return true
	}
	return false
}

func tableName(tok string) string {
	if i := strings.IndexByte(tok, '('); i >= 0 {
		tok = tok[:i]
	}
	return strings.ToLower(strings.Trim(tok, "`\"[];,"))
}

type tracingStmt struct {
	driver.Stmt
	query string
	shape Shape
}

func (s *tracingStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var result driver.Result
	var err error
	if ec, ok := s.Stmt.(driver.StmtExecContext); ok {
		result, err = ec.ExecContext(ctx, args)
	} else {
		result, err = s.Stmt.Exec(namedToValues(args))
	}
	s.record(ctx, "Exec", time.Since(start), err)
	return result, err
}

func (s *tracingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var rows driver.Rows
	var err error
	if qc, ok := s.Stmt.(driver.StmtQueryContext); ok {
		rows, err = qc.QueryContext(ctx, args)
	} else {
		rows, err = s.Stmt.Query(namedToValues(args))
	}
	s.record(ctx, "Query", time.Since(start), err)
	return rows, err
}

// record logs every statement. Data statements, failures and slow statements
// are also handed to the recorder; setup noise (PRAGMA, DDL, BEGIN) is not.
func (s *tracingStmt) record(ctx context.Context, op string, d time.Duration, err error) {
	traceID := kit.GetTraceID(ctx)

	level := slog.LevelDebug
	switch {
	case err != nil:
		level = slog.LevelError
	case d > slowQuery:
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("component", "sql"),
		slog.String("op", op),
		slog.String("verb", s.shape.Verb),
		slog.String("table", s.shape.Table),
		slog.Duration("duration", d),
	}
	if traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if err != nil {
		attrs = append(attrs, slog.String("query", s.query), slog.String("error", err.Error()))
	}
	slog.LogAttrs(ctx, level, "SQL", attrs...)

	if !s.shape.Data() && err == nil && d <= slowQuery {
		return
	}
	rec := getStore()
	if rec == nil {
		return
	}
	e := &Entry{
		TraceID:    traceID,
		Op:         op,
		Verb:       s.shape.Verb,
		Table:      s.shape.Table,
		Query:      s.query,
		DurationUs: d.Microseconds(),
		Timestamp:  time.Now().UnixMicro(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	rec.RecordAsync(e)
}

func namedToValues(named []driver.NamedValue) []driver.Value {
	vals := make([]driver.Value, len(named))
	for i, nv := range named {
		vals[i] = nv.Value
	}
	return vals
}
