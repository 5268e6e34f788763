package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
	"github.com/ghostwrite-dev/ghostwrite/pkg/instruct"
)

type fakeSender struct {
	mu      sync.Mutex
	msgs    []any
	failing bool
}

func (f *fakeSender) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("channel write failed")
	}
	f.msgs = append(f.msgs, v)
	return nil
}

func (f *fakeSender) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeSender) sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.msgs))
	copy(out, f.msgs)
	return out
}

// results extracts the tool results delivered so far, in order.
func (f *fakeSender) results(t *testing.T) []types.ToolResult {
	t.Helper()
	var out []types.ToolResult
	for _, msg := range f.sent() {
		sub, ok := msg.(types.SubmitToolOutputs)
		if !ok {
			continue
		}
		for _, output := range sub.ToolOutputs {
			var res types.ToolResult
			if err := json.Unmarshal([]byte(output.Output), &res); err != nil {
				t.Fatalf("tool output not a result: %v", err)
			}
			out = append(out, res)
		}
	}
	return out
}

type fixedMode struct{ mode instruct.Mode }

func (m fixedMode) Mode() instruct.Mode { return m.mode }

func newTestDispatcher(mode instruct.Mode) (*Dispatcher, *fakeSender) {
	sink := &fakeSender{}
	d := NewDispatcher(sink, fixedMode{mode}, nil)
	return d, sink
}

func noteCall(id, responseID string) types.ToolCallInvocation {
	return types.ToolCallInvocation{
		ID:         id,
		Name:       instruct.ToolSetLanguage,
		Args:       map[string]any{"language": "English"},
		RawArgs:    `{"language":"English"}`,
		ResponseID: responseID,
	}
}

func TestDispatcherExecutesOnce(t *testing.T) {
	d, sink := newTestDispatcher(instruct.ModeIntake)
	runs := 0
	d.Register(instruct.ToolSetLanguage, func(ctx context.Context, call types.ToolCallInvocation) (any, error) {
		runs++
		return map[string]any{"language": "English"}, nil
	})

	call := noteCall("call_1", "resp_1")
	d.Observe(context.Background(), []types.ToolCallInvocation{call})
	// The protocol replays completed calls inside later snapshot events.
	d.Observe(context.Background(), []types.ToolCallInvocation{call})
	d.Observe(context.Background(), []types.ToolCallInvocation{call})

	if runs != 1 {
		t.Fatalf("handler ran %d times, want 1", runs)
	}
	results := sink.results(t)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !results[0].Success {
		t.Errorf("result = %+v", results[0])
	}
}

func TestDispatcherResultMessageShape(t *testing.T) {
	d, sink := newTestDispatcher(instruct.ModeIntake)
	d.Register(instruct.ToolSetLanguage, func(ctx context.Context, call types.ToolCallInvocation) (any, error) {
		return "ok", nil
	})
	d.Observe(context.Background(), []types.ToolCallInvocation{noteCall("call_1", "resp_1")})

	msgs := sink.sent()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want submit + system item + response.create", len(msgs))
	}
	sub, ok := msgs[0].(types.SubmitToolOutputs)
	if !ok || sub.ResponseID != "resp_1" || sub.Type != types.MsgSubmitToolOutputs {
		t.Fatalf("first message = %#v", msgs[0])
	}
	item, ok := msgs[1].(types.ItemCreate)
	if !ok || !strings.HasPrefix(item.Item.Content[0].Text, types.TagToolResult+"::") {
		t.Fatalf("second message = %#v", msgs[1])
	}
	if _, ok := msgs[2].(types.ResponseCreate); !ok {
		t.Fatalf("third message = %#v", msgs[2])
	}
}

func TestDispatcherDefersUntilTurnIDArrives(t *testing.T) {
	d, sink := newTestDispatcher(instruct.ModeIntake)
	runs := 0
	d.Register(instruct.ToolSetLanguage, func(ctx context.Context, call types.ToolCallInvocation) (any, error) {
		runs++
		return "ok", nil
	})

	// First sighting has no owning turn id: no side effect yet.
	d.Observe(context.Background(), []types.ToolCallInvocation{noteCall("call_1", "")})
	if runs != 0 || len(sink.sent()) != 0 {
		t.Fatalf("call without turn id executed: runs=%d msgs=%d", runs, len(sink.sent()))
	}

	// A later sighting of the same id carries the turn id; the merged call runs.
	d.Observe(context.Background(), []types.ToolCallInvocation{{ID: "call_1", ResponseID: "resp_1"}})
	if runs != 1 {
		t.Fatalf("merged call ran %d times, want 1", runs)
	}
	results := sink.results(t)
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results = %+v", results)
	}
}

func TestDispatcherDefersIncompleteArgumentsThenRejects(t *testing.T) {
	d, sink := newTestDispatcher(instruct.ModeIntake)
	d.Register(instruct.ToolSetLanguage, func(ctx context.Context, call types.ToolCallInvocation) (any, error) {
		t.Fatal("handler must not run on missing arguments")
		return nil, nil
	})

	// Arguments still streaming: required field absent, raw text partial.
	partial := types.ToolCallInvocation{
		ID:         "call_1",
		Name:       instruct.ToolSetLanguage,
		Args:       map[string]any{},
		RawArgs:    `{"lang`,
		ResponseID: "resp_1",
	}
	d.Observe(context.Background(), []types.ToolCallInvocation{partial})
	if len(sink.sent()) != 0 {
		t.Fatal("partial call produced output")
	}

	// Same raw args on the next sighting: the stream settled and the argument
	// is genuinely missing, so the call fails with a structured result.
	d.Observe(context.Background(), []types.ToolCallInvocation{partial})
	results := sink.results(t)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Success || !strings.Contains(results[0].Error, "language") {
		t.Fatalf("result = %+v", results[0])
	}
}

func TestDispatcherCompletesArgumentsAcrossSightings(t *testing.T) {
	d, sink := newTestDispatcher(instruct.ModeIntake)
	var got string
	d.Register(instruct.ToolSetLanguage, func(ctx context.Context, call types.ToolCallInvocation) (any, error) {
		got, _ = call.Args["language"].(string)
		return "ok", nil
	})

	d.Observe(context.Background(), []types.ToolCallInvocation{{
		ID:         "call_1",
		Name:       instruct.ToolSetLanguage,
		Args:       map[string]any{},
		RawArgs:    `{"lang`,
		ResponseID: "resp_1",
	}})
	d.Observe(context.Background(), []types.ToolCallInvocation{{
		ID:      "call_1",
		Args:    map[string]any{"language": "Dutch"},
		RawArgs: `{"language":"Dutch"}`,
	}})

	if got != "Dutch" {
		t.Fatalf("handler saw language %q, want Dutch", got)
	}
	results := sink.results(t)
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results = %+v", results)
	}
}

func TestDispatcherRejectsDisallowedTool(t *testing.T) {
	d, sink := newTestDispatcher(instruct.ModeGhostwriting)
	d.Register(instruct.ToolListProjects, func(ctx context.Context, call types.ToolCallInvocation) (any, error) {
		t.Fatal("disallowed tool must not reach its handler")
		return nil, nil
	})

	d.Observe(context.Background(), []types.ToolCallInvocation{{
		ID:         "call_1",
		Name:       instruct.ToolListProjects,
		Args:       map[string]any{},
		ResponseID: "resp_1",
	}})

	results := sink.results(t)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	res := results[0]
	if res.Success {
		t.Fatal("disallowed call reported success")
	}
	if !strings.Contains(res.Error, instruct.ToolListProjects) {
		t.Errorf("rejection does not name the tool: %q", res.Error)
	}
	if !strings.Contains(res.Error, instruct.ToolQueueDraftUpdate) {
		t.Errorf("rejection does not list available tools: %q", res.Error)
	}
}

func TestDispatcherHandlerErrorBecomesFailureResult(t *testing.T) {
	d, sink := newTestDispatcher(instruct.ModeIntake)
	d.Register(instruct.ToolSetLanguage, func(ctx context.Context, call types.ToolCallInvocation) (any, error) {
		return nil, context.DeadlineExceeded
	})

	d.Observe(context.Background(), []types.ToolCallInvocation{noteCall("call_1", "resp_1")})
	results := sink.results(t)
	if len(results) != 1 || results[0].Success {
		t.Fatalf("results = %+v", results)
	}
	// The failure is a structured result on the stream, not a session fault:
	// a following call still executes.
	d.Register(instruct.ToolSetLanguage, func(ctx context.Context, call types.ToolCallInvocation) (any, error) {
		return "ok", nil
	})
	d.Observe(context.Background(), []types.ToolCallInvocation{noteCall("call_2", "resp_2")})
	results = sink.results(t)
	if len(results) != 2 || !results[1].Success {
		t.Fatalf("results = %+v", results)
	}
}

func TestHandledSetEvictsOldest(t *testing.T) {
	h := newHandledSet(3)
	h.add("a")
	h.add("b")
	h.add("c")
	h.add("d")
	if h.contains("a") {
		t.Error("oldest entry not evicted")
	}
	for _, id := range []string{"b", "c", "d"} {
		if !h.contains(id) {
			t.Errorf("entry %s missing", id)
		}
	}
}

func TestDispatcherRetriesUndeliveredResult(t *testing.T) {
	d, sink := newTestDispatcher(instruct.ModeIntake)
	runs := 0
	d.Register(instruct.ToolSetLanguage, func(ctx context.Context, call types.ToolCallInvocation) (any, error) {
		runs++
		return map[string]any{"language": "English"}, nil
	})

	sink.setFailing(true)
	call := noteCall("call_9", "resp_9")
	d.Observe(context.Background(), []types.ToolCallInvocation{call})

	if runs != 1 {
		t.Fatalf("handler ran %d times, want 1", runs)
	}
	if got := len(sink.sent()); got != 0 {
		t.Fatalf("%d messages delivered while the channel was down, want 0", got)
	}

	// A replay while the channel is still down must not re-run the handler.
	d.Observe(context.Background(), []types.ToolCallInvocation{call})
	if runs != 1 {
		t.Fatalf("handler ran %d times after replay, want 1", runs)
	}

	sink.setFailing(false)
	d.Observe(context.Background(), []types.ToolCallInvocation{call})
	if runs != 1 {
		t.Fatalf("handler ran %d times after recovery, want 1", runs)
	}
	results := sink.results(t)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !results[0].Success {
		t.Errorf("result not successful: %+v", results[0])
	}
	if got := len(sink.sent()); got != 3 {
		t.Fatalf("got %d messages, want submit + item + response.create", got)
	}

	// Only now is the call handled; further replays are no-ops.
	d.Observe(context.Background(), []types.ToolCallInvocation{call})
	if got := len(sink.sent()); got != 3 {
		t.Fatalf("replay after delivery sent %d messages, want 3", got)
	}
}
