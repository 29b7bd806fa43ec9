package botrule

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/botrule/botrule/internal/store"
	"github.com/hazyhaar/botrule/dbopen"
	"github.com/hazyhaar/botrule/observability"
)

// testService creates a Service backed by an in-memory SQLite database with
// business events enabled.
func testService(t *testing.T) (*Service, *observability.EventLogger) {
	t.Helper()
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(store.Schema),
		dbopen.WithSchema(observability.Schema),
	)
	ev := observability.NewEventLogger(db)
	return NewService(NewSQLRepository(store.New(db)), WithEvents(ev)), ev
}

func ptr(s string) *string { return &s }

func rule(host, name, selector string) RuleInput {
	return RuleInput{Host: host, RuleName: RuleName(name), Selector: selector}
}

func TestReplaceAndList(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	in := []RuleInput{
		{
			Host:             "x.com",
			RuleName:         ChapterList,
			Selector:         "#list a",
			RemoveSelector:   removeSelectors{"span.ad", "div.footer"},
			GetContentAction: ptr("text"),
			GetURLAction:     ptr("href"),
			Type:             ptr("List"),
			CheckSetting:     ptr(`{"min":1}`),
		},
		rule("x.com", "BookName", "h1.title"),
	}
	if err := svc.Replace(ctx, in); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := svc.List(ctx, "x.com")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rules = %d, want 2", len(got))
	}

	first := got[0]
	if first.RuleName != ChapterList || first.Selector != "#list a" {
		t.Errorf("first = %+v", first)
	}
	if len(first.RemoveSelector) != 2 || first.RemoveSelector[0] != "span.ad" || first.RemoveSelector[1] != "div.footer" {
		t.Errorf("removeSelector = %#v", first.RemoveSelector)
	}
	if first.Type == nil || *first.Type != TypeList {
		t.Errorf("type = %v, want List", first.Type)
	}
	if first.GetContentAction == nil || *first.GetContentAction != "text" {
		t.Errorf("getContentAction = %v", first.GetContentAction)
	}
	if first.CheckSetting == nil || *first.CheckSetting != `{"min":1}` {
		t.Errorf("checkSetting = %v", first.CheckSetting)
	}

	second := got[1]
	if second.RuleName != BookName || second.Type != nil || second.RemoveSelector != nil ||
		second.GetContentAction != nil || second.GetURLAction != nil || second.CheckSetting != nil {
		t.Errorf("second = %+v, want optional fields unset", second)
	}
}

func TestReplace_OptionalFieldPolicy(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	in := rule("x.com", "Content", "#content")
	in.RemoveSelector = removeSelectors{}
	in.GetContentAction = ptr("")
	in.GetURLAction = ptr("")
	in.CheckSetting = ptr("")
	in.Type = ptr("Grid")
	if err := svc.Replace(ctx, []RuleInput{in}); err != nil {
		t.Fatal(err)
	}

	got, err := svc.List(ctx, "x.com")
	if err != nil {
		t.Fatal(err)
	}
	r := got[0]
	if r.RemoveSelector != nil || r.GetContentAction != nil || r.GetURLAction != nil ||
		r.CheckSetting != nil || r.Type != nil {
		t.Errorf("rule = %+v, want every optional field unset", r)
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	if v, ok := m["type"]; !ok || v != nil {
		t.Errorf("type should render as null, got %v (present=%v)", v, ok)
	}
	if _, ok := m["removeSelector"]; ok {
		t.Error("removeSelector should be omitted")
	}
}

func TestReplace_ReplacesWholeSet(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	first := []RuleInput{
		rule("x.com", "BookName", "h1"),
		rule("x.com", "Content", "#c"),
		rule("x.com", "Content", "#c2"),
	}
	if err := svc.Replace(ctx, first); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.List(ctx, "x.com")
	if len(got) != 3 {
		t.Fatalf("duplicates should be kept: got %d rules", len(got))
	}

	if err := svc.Replace(ctx, []RuleInput{rule("x.com", "ChapterTitle", "h2")}); err != nil {
		t.Fatal(err)
	}
	got, _ = svc.List(ctx, "x.com")
	if len(got) != 1 || got[0].RuleName != ChapterTitle {
		t.Fatalf("after replace: %+v", got)
	}
}

func TestReplace_MultipleHostsNoMutation(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	if err := svc.Replace(ctx, []RuleInput{rule("a.com", "BookName", "h1")}); err != nil {
		t.Fatal(err)
	}

	err := svc.Replace(ctx, []RuleInput{
		rule("a.com", "Content", "#c"),
		rule("b.com", "Content", "#c"),
	})
	if !errors.Is(err, ErrMultipleHosts) {
		t.Fatalf("err = %v, want ErrMultipleHosts", err)
	}
	var de *DomainError
	if !errors.As(err, &de) || de.Code != CodeMultipleHosts {
		t.Fatalf("err = %v, want code %d", err, CodeMultipleHosts)
	}

	a, _ := svc.List(ctx, "a.com")
	if len(a) != 1 || a[0].Selector != "h1" {
		t.Errorf("a.com changed: %+v", a)
	}
	b, _ := svc.List(ctx, "b.com")
	if len(b) != 0 {
		t.Errorf("b.com written: %+v", b)
	}
}

func TestReplace_EmptyIsRejected(t *testing.T) {
	svc, _ := testService(t)
	if err := svc.Replace(context.Background(), nil); !errors.Is(err, ErrMultipleHosts) {
		t.Fatalf("err = %v, want ErrMultipleHosts", err)
	}
}

func TestReplace_UnknownRuleNameStored(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	if err := svc.Replace(ctx, []RuleInput{rule("x.com", "Cover", "img")}); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.List(ctx, "x.com")
	if len(got) != 1 || got[0].RuleName != "Cover" || got[0].RuleName.Known() {
		t.Errorf("got %+v", got)
	}
}

func TestList_EmptyHost(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	svc.Replace(ctx, []RuleInput{rule("x.com", "BookName", "h1")})

	got, err := svc.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %#v, want empty non-nil slice", got)
	}
}

func TestDelete(t *testing.T) {
	svc, ev := testService(t)
	ctx := context.Background()

	svc.Replace(ctx, []RuleInput{rule("x.com", "BookName", "h1"), rule("x.com", "Content", "#c")})
	svc.Replace(ctx, []RuleInput{rule("y.com", "BookName", "h1")})

	if err := svc.Delete(ctx, "x.com"); err != nil {
		t.Fatal(err)
	}
	if got, _ := svc.List(ctx, "x.com"); len(got) != 0 {
		t.Errorf("x.com still has %d rules", len(got))
	}
	if got, _ := svc.List(ctx, "y.com"); len(got) != 1 {
		t.Errorf("y.com rules = %d, want 1", len(got))
	}

	// Deleting again is a no-op and records no event.
	if err := svc.Delete(ctx, "x.com"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	events, err := ev.ListEvents(ctx, "host", "x.com", 10)
	if err != nil {
		t.Fatal(err)
	}
	var deletes int
	for _, e := range events {
		if e.EventType == "botrule.delete" {
			deletes++
		}
	}
	if deletes != 1 {
		t.Errorf("delete events = %d, want 1", deletes)
	}
}

func TestHosts(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	hosts, err := svc.Hosts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if hosts == nil || len(hosts) != 0 {
		t.Fatalf("hosts = %#v, want empty non-nil", hosts)
	}

	svc.Replace(ctx, []RuleInput{rule("b.com", "BookName", "h1"), rule("b.com", "Content", "#c")})
	svc.Replace(ctx, []RuleInput{rule("a.com", "BookName", "h1")})
	svc.Replace(ctx, []RuleInput{rule("c.com", "BookName", "h1")})
	svc.Delete(ctx, "c.com")

	hosts, err = svc.Hosts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 2 || hosts[0] != "b.com" || hosts[1] != "a.com" {
		t.Errorf("hosts = %v, want [b.com a.com]", hosts)
	}
}

func TestReplace_RecordsEvent(t *testing.T) {
	svc, ev := testService(t)
	ctx := context.Background()

	svc.Replace(ctx, []RuleInput{rule("x.com", "BookName", "h1"), rule("x.com", "Content", "#c")})

	events, err := ev.ListEvents(ctx, "host", "x.com", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	e := events[0]
	if e.EventType != "botrule.replace" || e.Action != "replace" || !e.Success {
		t.Errorf("event = %+v", e)
	}
	var details map[string]int
	if err := json.Unmarshal([]byte(e.Details), &details); err != nil {
		t.Fatal(err)
	}
	if details["inserted"] != 2 || details["removed"] != 0 {
		t.Errorf("details = %v", details)
	}
}

// failingRepo fails every call with err.
type failingRepo struct{ err error }

func (f failingRepo) FindAll(context.Context, store.Filter) ([]*store.Row, error) { return nil, f.err }
func (f failingRepo) Create(context.Context, *store.Row) error                   { return f.err }
func (f failingRepo) Destroy(context.Context, *store.Row) error                  { return f.err }
func (f failingRepo) Tx(_ context.Context, fn func(Repository) error) error      { return fn(f) }

func TestRepositoryFailurePropagates(t *testing.T) {
	boom := errors.New("disk I/O error")
	svc := NewService(failingRepo{err: boom})
	ctx := context.Background()

	if err := svc.Replace(ctx, []RuleInput{rule("x.com", "BookName", "h1")}); !errors.Is(err, boom) {
		t.Errorf("Replace err = %v", err)
	}
	if _, err := svc.List(ctx, "x.com"); !errors.Is(err, boom) {
		t.Errorf("List err = %v", err)
	}
	if err := svc.Delete(ctx, "x.com"); !errors.Is(err, boom) {
		t.Errorf("Delete err = %v", err)
	}
	if _, err := svc.Hosts(ctx); !errors.Is(err, boom) {
		t.Errorf("Hosts err = %v", err)
	}
}

func TestDecodeInputs(t *testing.T) {
	p, err := ParseAndValidate(`{"host":"x.com","ruleName":"BookName","selector":"h1"}`, "host")
	if err != nil {
		t.Fatal(err)
	}
	in, err := DecodeInputs(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(in) != 1 || in[0].Host != "x.com" || in[0].Selector != "h1" {
		t.Fatalf("inputs = %+v", in)
	}

	p, _ = ParseAndValidate(`[{"host":"x.com","ruleName":"BookName","selector":5}]`)
	if _, err := DecodeInputs(p); err == nil {
		t.Fatal("expected error for numeric selector")
	}
}

func TestReplace_EventFailureDoesNotFailWrite(t *testing.T) {
	rules := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	// No business_event_logs table: every event write fails.
	broken := dbopen.OpenMemory(t)
	svc := NewService(NewSQLRepository(store.New(rules)),
		WithEvents(observability.NewEventLogger(broken)))
	ctx := context.Background()

	if err := svc.Replace(ctx, []RuleInput{rule("x.com", "BookName", "h1")}); err != nil {
		t.Fatalf("Replace with a failing event log: %v", err)
	}
	got, err := svc.List(ctx, "x.com")
	if err != nil || len(got) != 1 {
		t.Fatalf("rules = %+v, err = %v", got, err)
	}
	if _, err := svc.Events(ctx, "x.com", 10); err == nil {
		t.Error("Events should report the missing table")
	}
}

func TestEvents_WithoutLogger(t *testing.T) {
	svc := NewService(NewSQLRepository(store.New(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))))
	events, err := svc.Events(context.Background(), "x.com", 0)
	if err != nil || events == nil || len(events) != 0 {
		t.Errorf("events = %#v, err = %v, want empty slice", events, err)
	}
}
