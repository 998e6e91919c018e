package toolloop

import (
	"context"
	"fmt"
	"time"

	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/errorsx"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ToolCall is one tool invocation requested by a model turn.
type ToolCall struct {
	ID     string
	Name   string
	Params map[string]interface{}
}

// ToolResult is the outcome of running one ToolCall.
type ToolResult struct {
	ID      string
	Content string
	Err     error
}

// Turn is what a model call returns: either a final answer (no tool
// calls) or a set of tool calls to run before the next turn.
type Turn struct {
	Content   string
	ToolCalls []ToolCall
	// StateID carries a provider's opaque server-side reasoning handle
	// (spec §9: "preserves server-side reasoning across tool turns via
	// an opaque response id"), empty when the provider is stateless.
	StateID string
}

// Model is "two capabilities on one client interface" (spec §9): a
// stateless chat call that replays the full transcript each turn, and an
// optional stateful continuation that references a prior StateID instead.
// Loop picks chat_stateful automatically when SupportsStateful is true
// and a StateID is available.
type Model interface {
	// Chat sends the full transcript (system prompt, history, tool
	// results) and returns the next turn.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (Turn, error)
	// ChatStateful continues from a prior opaque StateID rather than
	// replaying history. Only called when SupportsStateful() is true.
	ChatStateful(ctx context.Context, stateID string, newMessages []Message, tools []ToolSpec) (Turn, error)
	SupportsStateful() bool
}

// Message is one transcript entry (role + content, plus the original
// tool-call ID when role is "tool").
type Message struct {
	Role      string
	Content   string
	ToolCalls []ToolCall
	ToolID    string
}

// ToolSpec is the model-facing description of one dispatchable tool.
type ToolSpec struct {
	Name        string
	Description string
}

// Reasoner, if set, runs once after the tool-using model terminates
// without further tool calls, for a final non-tool synthesis turn (spec
// §4.J "optionally hands off to a reasoner model"). Distinguished from
// Model by having no tool-calling capability at all.
type Reasoner interface {
	Synthesize(ctx context.Context, messages []Message) (string, error)
}

// Loop runs one bounded agentic consultation (spec §4.J): drives Model
// turns, dispatches any requested tool calls in parallel through a
// Registry, appends their results to the transcript, and repeats until
// the model stops requesting tools, MAX_ITERATIONS is hit, or ctx is
// cancelled.
type Loop struct {
	Model      Model
	Registry   *Registry
	Reasoner   Reasoner // optional
	MaxIters   int
	CallTimeout time.Duration
}

// NewLoop builds a Loop reading iteration bounds from cfg
// (config.Config.MaxToolIterations, defaulting per
// config.DefaultMaxToolIterations when unset).
func NewLoop(model Model, registry *Registry, reasoner Reasoner, cfg *config.Config) *Loop {
	maxIters := config.DefaultMaxToolIterations
	if cfg != nil && cfg.MaxToolIterations > 0 {
		maxIters = cfg.MaxToolIterations
	}
	return &Loop{
		Model:       model,
		Registry:    registry,
		Reasoner:    reasoner,
		MaxIters:    maxIters,
		CallTimeout: 60 * time.Second,
	}
}

// Run drives the consultation for one project, returning the final
// assistant-facing text. The caller's ctx is the single cooperative
// cancellation token threaded into every model call and every tool
// dispatch (spec §9 "cooperative cancellation token passed explicitly").
func (l *Loop) Run(ctx context.Context, projectID int64, tools []ToolSpec, messages []Message) (string, error) {
	var stateID string
	newSinceLastCall := len(messages)
	for iter := 0; iter < l.MaxIters; iter++ {
		select {
		case <-ctx.Done():
			return "", errorsx.Cancelled(fmt.Sprintf("tool loop cancelled after %d iterations: %v", iter, ctx.Err()))
		default:
		}

		turn, err := l.callModel(ctx, stateID, messages, newSinceLastCall, tools)
		if err != nil {
			return "", err
		}
		if len(turn.ToolCalls) == 0 {
			if l.Reasoner != nil {
				final := append(messages, Message{Role: "assistant", Content: turn.Content})
				out, err := l.Reasoner.Synthesize(ctx, final)
				if err != nil {
					log.Warn().Err(err).Msg("toolloop: reasoner synthesis failed, returning model turn verbatim")
					return turn.Content, nil
				}
				return out, nil
			}
			return turn.Content, nil
		}

		stateID = turn.StateID
		messages = append(messages, Message{Role: "assistant", Content: turn.Content, ToolCalls: turn.ToolCalls})

		results := l.runToolCalls(ctx, projectID, turn.ToolCalls)
		for _, res := range results {
			content := res.Content
			if res.Err != nil {
				content = "error: " + res.Err.Error()
			}
			messages = append(messages, Message{Role: "tool", Content: content, ToolID: res.ID})
		}
		newSinceLastCall = 1 + len(results) // the assistant turn plus every tool result appended above
	}
	return "", errorsx.Timeout(fmt.Sprintf("tool loop exceeded %d iterations without terminating", l.MaxIters))
}

// callModel sends messages to the model, either the full transcript or, for
// a stateful continuation, only the messages appended since the previous
// call (the prior assistant turn plus every tool result it produced — a
// stateful model already has everything before that in its own context).
func (l *Loop) callModel(ctx context.Context, stateID string, messages []Message, newSinceLastCall int, tools []ToolSpec) (Turn, error) {
	cctx, cancel := context.WithTimeout(ctx, l.CallTimeout)
	defer cancel()

	if stateID != "" && l.Model.SupportsStateful() {
		start := len(messages) - newSinceLastCall
		if start < 0 {
			start = 0
		}
		return l.Model.ChatStateful(cctx, stateID, messages[start:], tools)
	}
	return l.Model.Chat(cctx, messages, tools)
}

// runToolCalls dispatches every call in one model turn concurrently
// (spec §4.J "executes tool calls from one LLM turn in parallel"),
// preserving call order in the returned slice regardless of completion
// order.
func (l *Loop) runToolCalls(ctx context.Context, projectID int64, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, l.CallTimeout)
			defer cancel()
			content, err := l.Registry.Dispatch(cctx, projectID, call.Name, call.Params)
			results[i] = ToolResult{ID: call.ID, Content: content, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
