// CLAUDE:SUMMARY Rule collection service: replace-all per host, list, delete, distinct host list.
// Package botrule stores the scraping rules (selectors and post-processing
// actions) used to extract book metadata and chapter content, one rule set
// per website host.
//
// A write replaces the whole rule set of one host; rules are never edited in
// place. The package exposes the operations as a Service, as chi routes
// (Routes) and as MCP tools (RegisterMCP).
//
// Usage:
//
//	svc, err := botrule.New(cfg, logger)
//	defer svc.Close()
//	r := chi.NewRouter()
//	svc.Routes(r)
package botrule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/botrule/botrule/internal/store"
	"github.com/hazyhaar/botrule/dbopen"
	"github.com/hazyhaar/botrule/extract"
	"github.com/hazyhaar/botrule/horosafe"
	"github.com/hazyhaar/botrule/observability"
	_ "github.com/hazyhaar/botrule/trace" // registers "sqlite-trace" for cfg.TraceSQL
)

// Service implements the rule operations on top of a Repository.
type Service struct {
	repo      Repository
	logger    *slog.Logger
	events    *observability.EventLogger
	extractor *extract.Extractor
	closer    func() error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithEvents records a business event for each replace and delete.
func WithEvents(ev *observability.EventLogger) Option { return func(s *Service) { s.events = ev } }

// WithExtractor sets the extractor used by Preview.
func WithExtractor(x *extract.Extractor) Option { return func(s *Service) { s.extractor = x } }

// NewService builds a Service around repo.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.extractor == nil {
		s.extractor = extract.New()
	}
	return s
}

// New opens the SQLite database described by cfg and returns a Service with
// business events enabled.
func New(cfg *Config, logger *slog.Logger) (*Service, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	opts := []dbopen.Option{dbopen.WithSchema(observability.Schema)}
	if cfg.TraceSQL {
		opts = append(opts, dbopen.WithTrace())
	}
	if cfg.SQLite.BusyTimeoutMS > 0 {
		opts = append(opts, dbopen.WithBusyTimeout(cfg.SQLite.BusyTimeoutMS))
	}
	if cfg.SQLite.Synchronous != "" {
		opts = append(opts, dbopen.WithSynchronous(cfg.SQLite.Synchronous))
	}
	st, err := store.Open(cfg.DBPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("botrule: open store: %w", err)
	}

	if cfg.EventRetentionDays > 0 {
		if err := observability.Cleanup(context.Background(), st.DB, cfg.EventRetentionDays); err != nil {
			logger.Warn("botrule: event cleanup failed", "error", err)
		}
	}

	xopts := []extract.Option{
		extract.WithTimeout(cfg.Preview.Timeout),
		extract.WithUserAgent(cfg.Preview.UserAgent),
	}
	if !cfg.Preview.AllowPrivate {
		xopts = append(xopts, extract.WithURLCheck(horosafe.ValidateURL))
	}

	svc := NewService(NewSQLRepository(st),
		WithLogger(logger),
		WithEvents(observability.NewEventLogger(st.DB)),
		WithExtractor(extract.New(xopts...)),
	)
	svc.closer = st.Close
	return svc, nil
}

// Close releases the database when the Service was built by New.
func (s *Service) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Replace deletes every rule of the host named by inputs and inserts inputs
// in order, inside one transaction. All inputs must share exactly one host,
// otherwise ErrMultipleHosts is returned and nothing is touched.
func (s *Service) Replace(ctx context.Context, inputs []RuleInput) error {
	host, err := singleHost(inputs)
	if err != nil {
		return err
	}
	for _, in := range inputs {
		if !in.RuleName.Known() {
			s.logger.Warn("botrule: unknown rule name", "host", host, "rule_name", in.RuleName)
		}
	}

	var removed int
	err = s.repo.Tx(ctx, func(tx Repository) error {
		rows, err := tx.FindAll(ctx, store.Filter{Host: &host})
		if err != nil {
			return err
		}
		for _, r := range rows {
			if err := tx.Destroy(ctx, r); err != nil {
				return err
			}
		}
		removed = len(rows)
		for _, in := range inputs {
			if err := tx.Create(ctx, toRow(in)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("botrule: replace %s: %w", host, err)
	}

	s.logger.Info("botrule: rules replaced", "host", host, "removed", removed, "inserted", len(inputs))
	s.logEvent(ctx, "replace", host, map[string]int{"removed": removed, "inserted": len(inputs)})
	return nil
}

// List returns the rules of host in insertion order. An empty host matches
// rows stored with an empty host, typically none.
func (s *Service) List(ctx context.Context, host string) ([]Rule, error) {
	rows, err := s.repo.FindAll(ctx, store.Filter{Host: &host})
	if err != nil {
		return nil, fmt.Errorf("botrule: list %s: %w", host, err)
	}
	out := make([]Rule, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Delete removes every rule of host. Deleting an unknown host succeeds.
func (s *Service) Delete(ctx context.Context, host string) error {
	var removed int
	err := s.repo.Tx(ctx, func(tx Repository) error {
		rows, err := tx.FindAll(ctx, store.Filter{Host: &host})
		if err != nil {
			return err
		}
		for _, r := range rows {
			if err := tx.Destroy(ctx, r); err != nil {
				return err
			}
		}
		removed = len(rows)
		return nil
	})
	if err != nil {
		return fmt.Errorf("botrule: delete %s: %w", host, err)
	}
	if removed > 0 {
		s.logger.Info("botrule: rules deleted", "host", host, "removed", removed)
		s.logEvent(ctx, "delete", host, map[string]int{"removed": removed})
	}
	return nil
}

// Hosts returns the distinct hosts that have rules, in first-stored order.
func (s *Service) Hosts(ctx context.Context) ([]string, error) {
	rows, err := s.repo.FindAll(ctx, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("botrule: host list: %w", err)
	}
	seen := make(map[string]struct{}, len(rows))
	hosts := make([]string, 0)
	for _, r := range rows {
		if _, ok := seen[r.Host]; ok {
			continue
		}
		seen[r.Host] = struct{}{}
		hosts = append(hosts, r.Host)
	}
	return hosts, nil
}

// Events returns the most recent business events recorded for host, newest
// first. Without an event logger the list is empty.
func (s *Service) Events(ctx context.Context, host string, limit int) ([]observability.StoredEvent, error) {
	if s.events == nil {
		return []observability.StoredEvent{}, nil
	}
	events, err := s.events.ListEvents(ctx, "host", host, limit)
	if err != nil {
		return nil, fmt.Errorf("botrule: events %s: %w", host, err)
	}
	if events == nil {
		events = []observability.StoredEvent{}
	}
	return events, nil
}

// DecodeInputs turns a validated payload into rule inputs. A single object
// is treated as a one-rule batch.
func DecodeInputs(p Payload) ([]RuleInput, error) {
	items := p.Items()
	inputs := make([]RuleInput, 0, len(items))
	for i, raw := range items {
		var in RuleInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func singleHost(inputs []RuleInput) (string, error) {
	var host string
	hosts := make(map[string]struct{}, 1)
	for _, in := range inputs {
		host = in.Host
		hosts[in.Host] = struct{}{}
	}
	if len(hosts) != 1 {
		return "", ErrMultipleHosts
	}
	return host, nil
}

// toRow applies the storage policy: optional strings are kept only when
// non-empty, type only when Object or List, removeSelector only when it has
// at least one entry.
func toRow(in RuleInput) *store.Row {
	r := &store.Row{
		Host:     in.Host,
		RuleName: string(in.RuleName),
		Selector: in.Selector,
	}
	r.RemoveSelector = joinSelectors(in.RemoveSelector)
	r.GetContentAction = nonEmpty(in.GetContentAction)
	r.GetURLAction = nonEmpty(in.GetURLAction)
	r.CheckSetting = nonEmpty(in.CheckSetting)
	if in.Type != nil && (RuleType(*in.Type) == TypeObject || RuleType(*in.Type) == TypeList) {
		t := *in.Type
		r.Type = &t
	}
	return r
}

func fromRow(r *store.Row) Rule {
	out := Rule{
		Host:             r.Host,
		RuleName:         RuleName(r.RuleName),
		Selector:         r.Selector,
		GetContentAction: r.GetContentAction,
		GetURLAction:     r.GetURLAction,
		CheckSetting:     r.CheckSetting,
		RemoveSelector:   splitSelectors(r.RemoveSelector),
	}
	if r.Type != nil {
		t := RuleType(*r.Type)
		out.Type = &t
	}
	return out
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

func (s *Service) logEvent(ctx context.Context, action, host string, details any) {
	if s.events == nil {
		return
	}
	d, _ := json.Marshal(details)
	s.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "botrule." + action,
		ServiceName: "botrule",
		EntityType:  "host",
		EntityID:    host,
		Action:      action,
		Details:     string(d),
		Success:     true,
	})
}
