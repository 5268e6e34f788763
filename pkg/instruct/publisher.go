package instruct

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

// DefaultSettle is how long the publisher waits for state mutations to stop
// before pushing one combined session update.
const DefaultSettle = 150 * time.Millisecond

// Sender writes one outbound message to the control channel.
type Sender interface {
	Send(v any) error
}

// Publisher recomputes instructions and the tool list whenever session state
// changes and pushes a single session.update per settle, including only
// fields that differ from the last push.
type Publisher struct {
	sender Sender
	logger *slog.Logger
	settle time.Duration

	mu    sync.Mutex
	timer *time.Timer

	mode Mode
	ctx  Context

	noise types.NoiseProfile
	turn  types.TurnDetection

	lastInstructions string
	lastTools        string
	lastNoise        types.NoiseProfile
	lastLanguage     string
	lastTurn         types.TurnDetection
}

// NewPublisher builds a publisher over sender. A zero settle uses
// DefaultSettle.
func NewPublisher(sender Sender, logger *slog.Logger, settle time.Duration) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Publisher{
		sender: sender,
		logger: logger.With("component", "instruct.publisher"),
		settle: settle,
	}
}

// Update records new mode/context state and schedules a push.
func (p *Publisher) Update(mode Mode, ctx Context) {
	p.mu.Lock()
	p.mode = mode
	p.ctx = ctx
	p.scheduleLocked()
	p.mu.Unlock()
}

// SetNoiseProfile records the audio noise-reduction profile and schedules a
// push.
func (p *Publisher) SetNoiseProfile(profile types.NoiseProfile) {
	p.mu.Lock()
	p.noise = profile
	p.scheduleLocked()
	p.mu.Unlock()
}

// SetTurnDetection records the turn-detection policy and schedules a push.
func (p *Publisher) SetTurnDetection(turn types.TurnDetection) {
	p.mu.Lock()
	p.turn = turn
	p.scheduleLocked()
	p.mu.Unlock()
}

// Mode returns the mode of the most recent Update call.
func (p *Publisher) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == "" {
		return ModeIntake
	}
	return p.mode
}

func (p *Publisher) scheduleLocked() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.settle, p.Flush)
}

// Flush pushes the pending state immediately if anything changed since the
// last push. Safe to call directly; the settle timer calls it too.
func (p *Publisher) Flush() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}

	mode := p.mode
	if mode == "" {
		mode = ModeIntake
	}
	instructions := BuildInstructions(mode, p.ctx)
	tools := ToolsFor(mode)
	toolsKey := toolsFingerprint(tools)

	var cfg types.SessionConfig
	changed := false
	if instructions != p.lastInstructions {
		cfg.Instructions = instructions
		p.lastInstructions = instructions
		changed = true
	}
	if toolsKey != p.lastTools {
		cfg.Tools = tools
		p.lastTools = toolsKey
		changed = true
	}
	if p.noise != p.lastNoise || p.ctx.Language != p.lastLanguage {
		cfg.Audio = &types.AudioConfig{
			NoiseReduction: string(p.noise),
			Language:       p.ctx.Language,
		}
		p.lastNoise = p.noise
		p.lastLanguage = p.ctx.Language
		changed = true
	}
	if p.turn != p.lastTurn {
		cfg.TurnDetection = &types.TurnConfig{Type: string(p.turn)}
		p.lastTurn = p.turn
		changed = true
	}
	p.mu.Unlock()

	if !changed {
		return
	}
	update := types.SessionUpdate{Type: types.MsgSessionUpdate, Session: cfg}
	if err := p.sender.Send(update); err != nil {
		p.logger.Warn("session update push failed", "error", err)
		return
	}
	p.logger.Debug("session update pushed", "mode", string(mode), "tools", toolsKey != "")
}

// Stop cancels any pending push.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
}

func toolsFingerprint(tools []types.ToolDefinition) string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return strings.Join(names, ",")
}
