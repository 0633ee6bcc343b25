package ruleset

import (
	"context"
	"errors"
	"testing"

	"github.com/relaylog/logcore/pkg/queue"
)

type stubAction struct {
	name string
	err  error
}

func (s *stubAction) Name() string                { return s.name }
func (s *stubAction) Invoke(_ *Message) error      { return s.err }

type stubQueue struct{ closed bool }

func (s *stubQueue) Enqueue(*queue.Message)        {}
func (s *stubQueue) Flush(context.Context) error   { return nil }
func (s *stubQueue) Close(context.Context) error   { s.closed = true; return nil }

func newTestRegistry() *Registry {
	return NewRegistry(nil, nil)
}

func TestConstructRejectsDuplicateName(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Construct("rs1"); err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if _, err := r.Construct("rs1"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestConstructSetsCurrentAlwaysAndDefaultOnlyIfUnset(t *testing.T) {
	r := newTestRegistry()
	rs1, _ := r.Construct("rs1")
	if r.Current() != rs1 || r.Default() != rs1 {
		t.Fatal("first constructed ruleset should be both current and default")
	}

	rs2, _ := r.Construct("rs2")
	if r.Current() != rs2 {
		t.Fatal("current should always move to the newest ruleset")
	}
	if r.Default() != rs1 {
		t.Fatal("default should stay put once set")
	}
}

func TestConstructRejectsDuplicateNameCaseInsensitive(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Construct("Mail"); err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if _, err := r.Construct("mail"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for differently-cased name, got %v", err)
	}
	if _, err := r.Construct("MAIL"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for differently-cased name, got %v", err)
	}
}

func TestGetIsCaseInsensitive(t *testing.T) {
	r := newTestRegistry()
	rs, _ := r.Construct("Mail")

	for _, name := range []string{"Mail", "mail", "MAIL", "mAiL"} {
		got, ok := r.Get(name)
		if !ok || got != rs {
			t.Fatalf("Get(%q): expected to resolve the same ruleset, got %v ok=%v", name, got, ok)
		}
	}
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected unknown name to miss")
	}
}

func TestSetDefaultAndSetCurrentAreCaseInsensitive(t *testing.T) {
	r := newTestRegistry()
	rs1, _ := r.Construct("rs1")
	rs2, _ := r.Construct("rs2")

	r.SetDefault("RS2")
	if r.Default() != rs2 {
		t.Fatal("SetDefault should resolve a differently-cased name")
	}
	r.SetCurrent("RS1")
	if r.Current() != rs1 {
		t.Fatal("SetCurrent should resolve a differently-cased name")
	}
}

func TestNameDisplayKeepsOriginalCaseAfterCaseInsensitiveLookup(t *testing.T) {
	r := newTestRegistry()
	rs, _ := r.Construct("Mail")
	r.AddRule(rs, &Rule{Actions: []Action{&stubAction{name: "a"}}})

	var seen string
	r.IterateAllActions(func(rulesetName string, a Action) { seen = rulesetName })
	if seen != "Mail" {
		t.Fatalf("expected display name to keep original case Mail, got %q", seen)
	}
}

func TestAddRuleDiscardsZeroActionRule(t *testing.T) {
	r := newTestRegistry()
	rs, _ := r.Construct("rs1")
	r.AddRule(rs, &Rule{})
	if len(rs.Rules()) != 0 {
		t.Fatal("zero-action rule must never be stored")
	}
}

func TestAddRuleAcceptsRuleWithActions(t *testing.T) {
	r := newTestRegistry()
	rs, _ := r.Construct("rs1")
	r.AddRule(rs, &Rule{Actions: []Action{&stubAction{name: "a"}}})
	if len(rs.Rules()) != 1 {
		t.Fatal("expected rule to be stored")
	}
}

func TestAddRuleWithNilTargetUsesCurrent(t *testing.T) {
	r := newTestRegistry()
	rs, _ := r.Construct("rs1")
	r.AddRule(nil, &Rule{Actions: []Action{&stubAction{name: "a"}}})
	if len(rs.Rules()) != 1 {
		t.Fatal("expected rule to land on the current ruleset")
	}
}

func TestAddRuleWithNoCurrentRulesetIsDiscarded(t *testing.T) {
	r := newTestRegistry()
	r.AddRule(nil, &Rule{Actions: []Action{&stubAction{name: "a"}}})
}

func TestSetDefaultUnknownNameIsSilentNoOp(t *testing.T) {
	r := newTestRegistry()
	rs, _ := r.Construct("rs1")
	r.SetDefault("does-not-exist")
	if r.Default() != rs {
		t.Fatal("unknown name must leave the default ruleset untouched")
	}
}

func TestSetCurrentUnknownNameIsSilentNoOp(t *testing.T) {
	r := newTestRegistry()
	rs, _ := r.Construct("rs1")
	r.SetCurrent("does-not-exist")
	if r.Current() != rs {
		t.Fatal("unknown name must leave the current ruleset untouched")
	}
}

func TestAttachQueueNoCurrRuleset(t *testing.T) {
	r := newTestRegistry()
	if err := r.AttachQueue(nil, &stubQueue{}); !errors.Is(err, ErrNoCurrRuleset) {
		t.Fatalf("expected ErrNoCurrRuleset, got %v", err)
	}
}

func TestAttachQueueExistingQueueRejected(t *testing.T) {
	r := newTestRegistry()
	rs, _ := r.Construct("rs1")
	if err := r.AttachQueue(rs, &stubQueue{}); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := r.AttachQueue(rs, &stubQueue{}); !errors.Is(err, ErrQueueExists) {
		t.Fatalf("expected ErrQueueExists, got %v", err)
	}
}

func TestAddParserUnknownNameRejected(t *testing.T) {
	r := NewRegistry(nil, map[string]bool{"json": true})
	rs, _ := r.Construct("rs1")
	if err := r.AddParser(rs, "xml"); !errors.Is(err, ErrParserNotFound) {
		t.Fatalf("expected ErrParserNotFound, got %v", err)
	}
	if err := r.AddParser(rs, "json"); err != nil {
		t.Fatalf("known parser should be accepted: %v", err)
	}
	list, ok := rs.ParserList()
	if !ok || len(list) != 1 || list[0] != "json" {
		t.Fatalf("unexpected parser list: %v ok=%v", list, ok)
	}
}

func TestIterateAllActionsVisitsEveryRulesetInOrder(t *testing.T) {
	r := newTestRegistry()
	rs1, _ := r.Construct("rs1")
	rs2, _ := r.Construct("rs2")
	r.AddRule(rs1, &Rule{Actions: []Action{&stubAction{name: "a1"}, &stubAction{name: "a2"}}})
	r.AddRule(rs2, &Rule{Actions: []Action{&stubAction{name: "b1"}}})

	var visited []string
	r.IterateAllActions(func(rulesetName string, a Action) {
		visited = append(visited, rulesetName+"/"+a.Name())
	})

	want := []string{"rs1/a1", "rs1/a2", "rs2/b1"}
	if len(visited) != len(want) {
		t.Fatalf("got %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("got %v, want %v", visited, want)
		}
	}
}

func TestDestroyAllClosesEveryQueue(t *testing.T) {
	r := newTestRegistry()
	rs1, _ := r.Construct("rs1")
	rs2, _ := r.Construct("rs2")
	q1 := &stubQueue{}
	q2 := &stubQueue{}
	r.AttachQueue(rs1, q1)
	r.AttachQueue(rs2, q2)

	var closed []queue.Queue
	r.DestroyAll(func(q queue.Queue) error {
		closed = append(closed, q)
		return q.Close(context.Background())
	})

	if !q1.closed || !q2.closed {
		t.Fatal("expected both queues to be closed")
	}
	if r.Current() != nil || r.Default() != nil {
		t.Fatal("expected registry to be cleared after DestroyAll")
	}
}
