package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core"
	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
	"github.com/ghostwrite-dev/ghostwrite/pkg/instruct"
)

// handledCap bounds the handled-ids set. Oldest entries evict first.
const handledCap = 100

// CallState is one tool-call invocation's dispatch state.
type CallState string

const (
	CallObserved    CallState = "observed"
	CallDeferred    CallState = "deferred"
	CallReady       CallState = "ready"
	CallExecuting   CallState = "executing"
	CallUndelivered CallState = "undelivered"
	CallCompleted   CallState = "completed"
	CallFailed      CallState = "failed"
)

// Handler executes one tool against the collaborator stores. The returned
// value is JSON-encoded into the result; errors become structured failure
// results, never session faults.
type Handler func(ctx context.Context, call types.ToolCallInvocation) (any, error)

// ModeSource reports the current conversational mode for allow-list checks.
type ModeSource interface {
	Mode() instruct.Mode
}

type pendingCall struct {
	call      types.ToolCallInvocation
	state     CallState
	seenRaw   string
	deferrals int

	// result caches an executed call's outcome when delivery failed, so the
	// next sighting retries the send without re-running the handler.
	result *types.ToolResult
}

// Dispatcher runs the per-invocation state machine: observed, deferred while
// arguments or the owning turn id are incomplete, then executed exactly once,
// with exactly one result event per handled call.
type Dispatcher struct {
	logger   *slog.Logger
	sender   instruct.Sender
	mode     ModeSource
	handlers map[string]Handler

	mu      sync.Mutex
	pending map[string]*pendingCall
	handled *handledSet
}

// NewDispatcher builds a dispatcher sending results through sender.
func NewDispatcher(sender instruct.Sender, mode ModeSource, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger.With("component", "session.dispatcher"),
		sender:   sender,
		mode:     mode,
		handlers: make(map[string]Handler),
		pending:  make(map[string]*pendingCall),
		handled:  newHandledSet(handledCap),
	}
}

// Register binds a handler to a tool name.
func (d *Dispatcher) Register(tool string, h Handler) {
	d.handlers[tool] = h
}

// Observe takes the tool-call invocations recovered from one inbound event
// and advances each through the state machine. Already-handled ids no-op.
// Deferred calls re-evaluate here when their id reappears in the stream.
func (d *Dispatcher) Observe(ctx context.Context, calls []types.ToolCallInvocation) {
	for _, call := range calls {
		d.observeOne(ctx, call)
	}
}

func (d *Dispatcher) observeOne(ctx context.Context, call types.ToolCallInvocation) {
	if call.ID == "" {
		return
	}

	d.mu.Lock()
	if d.handled.contains(call.ID) {
		d.mu.Unlock()
		return
	}
	entry, ok := d.pending[call.ID]
	if !ok {
		entry = &pendingCall{call: call, state: CallObserved}
		d.pending[call.ID] = entry
	} else {
		mergeCall(&entry.call, call)
	}

	// A call whose handler already ran but whose result never made it onto
	// the channel retries delivery only; the side effect must not repeat.
	if entry.result != nil {
		cached := *entry.result
		d.mu.Unlock()
		d.finish(entry, cached)
		return
	}

	// The turn id is required for delivery; without it the whole call stays
	// deferred so the single side effect happens only when a result can be
	// sent.
	if entry.call.ResponseID == "" {
		entry.state = CallDeferred
		entry.deferrals++
		entry.seenRaw = entry.call.RawArgs
		d.mu.Unlock()
		d.logger.Debug("tool call deferred awaiting turn id", "call_id", call.ID, "tool", call.Name)
		return
	}

	if err := instruct.ValidateArgs(entry.call.Name, entry.call.Args); err != nil {
		if isMissingArgument(err) && !argumentsSettled(entry) {
			// Streaming may still be appending arguments. Wait for the next
			// sighting of this id before concluding they are really missing.
			entry.state = CallDeferred
			entry.deferrals++
			entry.seenRaw = entry.call.RawArgs
			d.mu.Unlock()
			d.logger.Debug("tool call deferred on incomplete arguments",
				"call_id", call.ID, "tool", call.Name)
			return
		}
		entry.state = CallReady
		d.mu.Unlock()
		d.finish(entry, types.ToolResult{
			Tool:       entry.call.Name,
			ToolCallID: entry.call.ID,
			Success:    false,
			Error:      err.Error(),
		})
		return
	}

	entry.state = CallReady
	d.mu.Unlock()
	d.execute(ctx, entry)
}

// execute runs the allow-list check and the handler, then delivers exactly
// one result.
func (d *Dispatcher) execute(ctx context.Context, entry *pendingCall) {
	call := entry.call
	mode := d.mode.Mode()

	if !instruct.Allowed(mode, call.Name) {
		rejection := core.NewToolDisallowedError(fmt.Sprintf(
			"tool %q is not available in %s mode; available tools: %s",
			call.Name, mode, strings.Join(instruct.AllowedNames(mode), ", ")), call.Name)
		d.finish(entry, types.ToolResult{
			Tool:       call.Name,
			ToolCallID: call.ID,
			Success:    false,
			Error:      rejection.Message,
		})
		return
	}

	handler, ok := d.handlers[call.Name]
	if !ok {
		d.finish(entry, types.ToolResult{
			Tool:       call.Name,
			ToolCallID: call.ID,
			Success:    false,
			Error:      fmt.Sprintf("tool %q has no handler", call.Name),
		})
		return
	}

	d.mu.Lock()
	entry.state = CallExecuting
	d.mu.Unlock()

	result, err := handler(ctx, call)
	if err != nil {
		d.logger.Warn("tool handler failed", "tool", call.Name, "call_id", call.ID, "error", err)
		d.finish(entry, types.ToolResult{
			Tool:       call.Name,
			ToolCallID: call.ID,
			Success:    false,
			Error:      err.Error(),
		})
		return
	}
	d.finish(entry, types.ToolResult{
		Tool:       call.Name,
		ToolCallID: call.ID,
		Success:    true,
		Result:     result,
	})
}

// finish delivers the result as the protocol's coordinated message pair plus
// a resume request, then marks the call handled.
func (d *Dispatcher) finish(entry *pendingCall, result types.ToolResult) {
	encoded, err := json.Marshal(result)
	if err != nil {
		// Result values come from our own handlers; an unencodable one is a
		// programming error but must still produce a result event.
		encoded = []byte(fmt.Sprintf(`{"tool":%q,"tool_call_id":%q,"success":false,"error":"result encoding failed"}`,
			result.Tool, result.ToolCallID))
	}

	msgs := []any{
		types.SubmitToolOutputs{
			Type:       types.MsgSubmitToolOutputs,
			ResponseID: entry.call.ResponseID,
			ToolOutputs: []types.ToolOutput{{
				ToolCallID: result.ToolCallID,
				Output:     string(encoded),
			}},
		},
		types.NewSystemItem(types.TagToolResult + "::" + string(encoded)),
		types.ResponseCreate{Type: types.MsgResponseCreate},
	}
	for _, msg := range msgs {
		if err := d.sender.Send(msg); err != nil {
			// The call is handled only once its result is actually on the
			// wire. Park the outcome and retry on the next sighting.
			d.logger.Warn("result delivery failed, will retry", "call_id", result.ToolCallID, "error", err)
			d.mu.Lock()
			entry.state = CallUndelivered
			entry.result = &result
			d.mu.Unlock()
			return
		}
	}

	d.mu.Lock()
	if result.Success {
		entry.state = CallCompleted
	} else {
		entry.state = CallFailed
	}
	entry.result = nil
	d.handled.add(entry.call.ID)
	delete(d.pending, entry.call.ID)
	d.mu.Unlock()

	d.logger.Info("tool call handled",
		"tool", result.Tool, "call_id", result.ToolCallID, "success", result.Success)
}

// Reset drops all pending and handled state. Called on teardown.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.pending = make(map[string]*pendingCall)
	d.handled = newHandledSet(handledCap)
	d.mu.Unlock()
}

// mergeCall folds a later sighting of the same call id into the pending
// entry. Later events may carry the finalized arguments or the turn id.
func mergeCall(dst *types.ToolCallInvocation, src types.ToolCallInvocation) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if len(src.Args) > 0 {
		dst.Args = src.Args
	}
	if src.RawArgs != "" {
		dst.RawArgs = src.RawArgs
	}
	if src.ResponseID != "" {
		dst.ResponseID = src.ResponseID
	}
}

// argumentsSettled reports whether a deferred call's arguments have stopped
// changing between sightings, meaning a still-missing argument is genuinely
// missing rather than still streaming.
func argumentsSettled(entry *pendingCall) bool {
	return entry.deferrals > 0 && entry.seenRaw == entry.call.RawArgs
}

func isMissingArgument(err error) bool {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce.Type == core.ErrMissingArgument
	}
	return false
}

// handledSet is a bounded set with FIFO eviction.
type handledSet struct {
	cap   int
	order []string
	set   map[string]struct{}
}

func newHandledSet(capacity int) *handledSet {
	return &handledSet{cap: capacity, set: make(map[string]struct{}, capacity)}
}

func (h *handledSet) contains(id string) bool {
	_, ok := h.set[id]
	return ok
}

func (h *handledSet) add(id string) {
	if _, ok := h.set[id]; ok {
		return
	}
	if len(h.order) >= h.cap {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.set, oldest)
	}
	h.order = append(h.order, id)
	h.set[id] = struct{}{}
}
