// CLAUDE:SUMMARY SQLite rule repository: find by host, create, destroy, transactional view.
// Package store provides the SQLite persistence layer for botrule.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/botrule/dbopen"
	"github.com/hazyhaar/botrule/idgen"
)

// Row is one persisted rule. Nil pointers are NULL columns.
type Row struct {
	ID               string
	Host             string
	RuleName         string
	Selector         string
	RemoveSelector   *string
	GetContentAction *string
	GetURLAction     *string
	Type             *string
	CheckSetting     *string
	CreatedAt        int64
}

// Filter narrows FindAll. A nil Host matches every row.
type Filter struct {
	Host *string
}

// querier is the subset of *sql.DB / *sql.Tx the queries need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store is the botrule database handle.
type Store struct {
	DB    *sql.DB
	q     querier
	newID idgen.Generator
}

// New wraps an already-opened database. The schema must be applied.
func New(db *sql.DB) *Store {
	return &Store{DB: db, q: db, newID: idgen.Prefixed("rul_", idgen.Default)}
}

// Open opens (or creates) the database at path and applies Schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// FindAll returns rows matching f in insertion order.
func (s *Store) FindAll(ctx context.Context, f Filter) ([]*Row, error) {
	query := `SELECT id, host, rule_name, selector, remove_selector, get_content_action,
	                 get_url_action, type, check_setting, created_at
	          FROM rule_for_web`
	var args []any
	if f.Host != nil {
		query += ` WHERE host = ?`
		args = append(args, *f.Host)
	}
	query += ` ORDER BY rowid`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: find rules: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r := &Row{}
		var removeSel, contentAction, urlAction, typ, check sql.NullString
		if err := rows.Scan(
			&r.ID, &r.Host, &r.RuleName, &r.Selector, &removeSel, &contentAction,
			&urlAction, &typ, &check, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan rule: %w", err)
		}
		r.RemoveSelector = strPtr(removeSel)
		r.GetContentAction = strPtr(contentAction)
		r.GetURLAction = strPtr(urlAction)
		r.Type = strPtr(typ)
		r.CheckSetting = strPtr(check)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Create inserts r, assigning ID and CreatedAt when unset.
func (s *Store) Create(ctx context.Context, r *Row) error {
	if r.ID == "" {
		r.ID = s.newID()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO rule_for_web
			(id, host, rule_name, selector, remove_selector, get_content_action,
			 get_url_action, type, check_setting, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Host, r.RuleName, r.Selector, nullStr(r.RemoveSelector), nullStr(r.GetContentAction),
		nullStr(r.GetURLAction), nullStr(r.Type), nullStr(r.CheckSetting), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create rule: %w", err)
	}
	return nil
}

// Destroy deletes the row with r.ID. A missing row is not an error.
func (s *Store) Destroy(ctx context.Context, r *Row) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM rule_for_web WHERE id = ?`, r.ID); err != nil {
		return fmt.Errorf("store: destroy rule: %w", err)
	}
	return nil
}

// Tx runs fn against a Store bound to one transaction. BUSY errors retry the
// whole transaction through dbopen.RunTx.
func (s *Store) Tx(ctx context.Context, fn func(*Store) error) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		return fn(&Store{DB: s.DB, q: tx, newID: s.newID})
	})
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
