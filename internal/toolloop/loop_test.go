package toolloop

import (
	"context"
	"errors"
	"testing"

	"github.com/mirahq/mira/internal/config"
)

type stubModel struct {
	turns          []Turn
	calls          int
	stateful       bool
	statefulCounts []int // len(newMessages) passed to each ChatStateful call, in order
}

func (m *stubModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (Turn, error) {
	if m.calls >= len(m.turns) {
		return Turn{}, errors.New("stubModel: ran out of scripted turns")
	}
	t := m.turns[m.calls]
	m.calls++
	return t, nil
}

func (m *stubModel) ChatStateful(ctx context.Context, stateID string, newMessages []Message, tools []ToolSpec) (Turn, error) {
	m.statefulCounts = append(m.statefulCounts, len(newMessages))
	return m.Chat(ctx, newMessages, tools)
}

func (m *stubModel) SupportsStateful() bool { return m.stateful }

func newTestRegistry(t *testing.T, handlers map[string]Tool) *Registry {
	t.Helper()
	return &Registry{tools: handlers}
}

func TestLoop_TerminatesWithoutToolCalls(t *testing.T) {
	model := &stubModel{turns: []Turn{{Content: "final answer"}}}
	reg := newTestRegistry(t, map[string]Tool{})
	loop := NewLoop(model, reg, nil, config.Default())

	out, err := loop.Run(context.Background(), 1, nil, []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "final answer" {
		t.Fatalf("expected final answer, got %q", out)
	}
	if model.calls != 1 {
		t.Fatalf("expected exactly 1 model call, got %d", model.calls)
	}
}

func TestLoop_DispatchesToolCallsAndContinues(t *testing.T) {
	echoCalled := false
	reg := newTestRegistry(t, map[string]Tool{
		"echo": {Name: "echo", Handler: func(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
			echoCalled = true
			return "echoed:" + paramString(params, "msg"), nil
		}},
	})
	model := &stubModel{turns: []Turn{
		{ToolCalls: []ToolCall{{ID: "1", Name: "echo", Params: map[string]interface{}{"msg": "hello"}}}},
		{Content: "done"},
	}}
	loop := NewLoop(model, reg, nil, config.Default())

	out, err := loop.Run(context.Background(), 1, nil, []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !echoCalled {
		t.Fatal("expected echo tool to be dispatched")
	}
	if out != "done" {
		t.Fatalf("expected final turn content, got %q", out)
	}
}

func TestLoop_UnknownToolSurfacesAsToolResultError(t *testing.T) {
	reg := newTestRegistry(t, map[string]Tool{})
	model := &stubModel{turns: []Turn{
		{ToolCalls: []ToolCall{{ID: "1", Name: "nonexistent", Params: nil}}},
		{Content: "done"},
	}}
	loop := NewLoop(model, reg, nil, config.Default())

	out, err := loop.Run(context.Background(), 1, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "done" {
		t.Fatalf("expected loop to recover and terminate, got %q", out)
	}
}

func TestLoop_ExceedsMaxIterations(t *testing.T) {
	reg := newTestRegistry(t, map[string]Tool{
		"loopy": {Name: "loopy", Handler: func(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
			return "again", nil
		}},
	})
	turns := make([]Turn, 0, 5)
	for i := 0; i < 5; i++ {
		turns = append(turns, Turn{ToolCalls: []ToolCall{{ID: "1", Name: "loopy"}}})
	}
	model := &stubModel{turns: turns}
	loop := NewLoop(model, reg, nil, config.Default())
	loop.MaxIters = 3

	_, err := loop.Run(context.Background(), 1, nil, nil)
	if err == nil {
		t.Fatal("expected timeout error after exceeding MaxIters")
	}
}

func TestLoop_StatefulContinuationForwardsAllToolResultsFromPriorTurn(t *testing.T) {
	reg := newTestRegistry(t, map[string]Tool{
		"echo": {Name: "echo", Handler: func(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
			return "ok", nil
		}},
	})
	model := &stubModel{stateful: true, turns: []Turn{
		{
			StateID: "s1",
			ToolCalls: []ToolCall{
				{ID: "1", Name: "echo", Params: map[string]interface{}{"msg": "a"}},
				{ID: "2", Name: "echo", Params: map[string]interface{}{"msg": "b"}},
				{ID: "3", Name: "echo", Params: map[string]interface{}{"msg": "c"}},
			},
		},
		{Content: "done"},
	}}
	loop := NewLoop(model, reg, nil, config.Default())

	out, err := loop.Run(context.Background(), 1, nil, []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "done" {
		t.Fatalf("expected final turn content, got %q", out)
	}

	// First call is non-stateful (no stateID yet), so only the second call
	// goes through ChatStateful. It must see the assistant turn plus all 3
	// tool results (4 messages), not just the last one.
	if len(model.statefulCounts) != 1 || model.statefulCounts[0] != 4 {
		t.Fatalf("expected one stateful call carrying 4 new messages, got %v", model.statefulCounts)
	}
}

type stubReasoner struct{ out string }

func (r *stubReasoner) Synthesize(ctx context.Context, messages []Message) (string, error) {
	return r.out, nil
}

func TestLoop_ReasonerSynthesizesFinalTurn(t *testing.T) {
	reg := newTestRegistry(t, map[string]Tool{})
	model := &stubModel{turns: []Turn{{Content: "draft"}}}
	loop := NewLoop(model, reg, &stubReasoner{out: "synthesized"}, config.Default())

	out, err := loop.Run(context.Background(), 1, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "synthesized" {
		t.Fatalf("expected reasoner output, got %q", out)
	}
}
