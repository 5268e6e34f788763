package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core"
)

const (
	// DefaultOpenTimeout bounds the wait for the control channel to reach the
	// open state after the signaling handshake succeeds.
	DefaultOpenTimeout = 5 * time.Second

	eventBufferSize = 256
)

// Credentials carries the short-lived secret minted by the collaborator's
// token endpoint plus the model to bind the session to.
type Credentials struct {
	ClientSecret string
	Model        string
	BaseURL      string
}

// RawEvent is one ordered inbound control-channel message. Payload is the
// decoded JSON body; Raw preserves the original bytes for diagnostics.
type RawEvent struct {
	Type    string
	Payload map[string]any
	Raw     json.RawMessage
}

// Transport establishes realtime sessions against the remote endpoint.
type Transport struct {
	Dialer      *websocket.Dialer
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// NewTransport creates a transport with default dialer and timeouts.
func NewTransport(logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		Dialer:      websocket.DefaultDialer,
		OpenTimeout: DefaultOpenTimeout,
		Logger:      logger.With("component", "realtime.transport"),
	}
}

// Open performs the signaling exchange and returns the control channel once
// the handshake completes. The channel is not necessarily open yet; callers
// must WaitOpen before sending.
func (t *Transport) Open(ctx context.Context, creds Credentials) (*Channel, error) {
	if strings.TrimSpace(creds.ClientSecret) == "" {
		return nil, core.NewInvalidRequestError("credentials client secret must not be empty")
	}

	endpoint, err := websocketEndpoint(creds.BaseURL, creds.Model)
	if err != nil {
		return nil, err
	}

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+creds.ClientSecret)

	dialer := t.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}

	openTimeout := t.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = DefaultOpenTimeout
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, openTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return nil, core.NewHandshakeError("realtime signaling rejected (status " + resp.Status + "): " + err.Error())
		}
		return nil, core.NewHandshakeError("realtime signaling failed: " + err.Error())
	}

	ch := &Channel{
		conn:        conn,
		events:      make(chan RawEvent, eventBufferSize),
		open:        make(chan struct{}),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		openTimeout: openTimeout,
		logger:      t.Logger,
	}
	go ch.readLoop()
	return ch, nil
}

func websocketEndpoint(baseURL, model string) (string, error) {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		base = "wss://api.openai.com/v1/realtime"
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", core.NewInvalidRequestError("invalid realtime base URL")
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already websocket scheme.
	default:
		return "", core.NewInvalidRequestError("realtime base URL must use http(s) or ws(s)")
	}
	if model = strings.TrimSpace(model); model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Channel is the ordered, reliable JSON side-channel multiplexed alongside
// the media connection. It becomes open when the remote announces the
// session, and stays usable until Close or a read failure.
type Channel struct {
	conn *websocket.Conn

	events chan RawEvent
	open   chan struct{}
	quit   chan struct{}
	done   chan struct{}

	openOnce    sync.Once
	writeMu     sync.Mutex
	closeOnce   sync.Once
	closed      atomic.Bool
	openTimeout time.Duration

	errMu sync.Mutex
	err   error

	logger *slog.Logger
}

// Events yields inbound control-channel events in arrival order. The channel
// closes when the connection ends.
func (c *Channel) Events() <-chan RawEvent {
	if c == nil {
		return nil
	}
	return c.events
}

// Send transmits one JSON message on the control channel. It fails if the
// channel has not reached the open state; callers must WaitOpen first.
func (c *Channel) Send(v any) error {
	if c == nil {
		return core.NewChannelClosedError("channel is nil")
	}
	if c.closed.Load() {
		return core.NewChannelClosedError("control channel is closed")
	}
	select {
	case <-c.open:
	default:
		return core.NewChannelClosedError("control channel is not open yet")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// WaitOpen suspends the caller until the channel reaches the open state. It
// is safe to call from any number of goroutines concurrently; all callers are
// released together when the channel opens.
func (c *Channel) WaitOpen(ctx context.Context) error {
	if c == nil {
		return core.NewChannelClosedError("channel is nil")
	}
	timeout := c.openTimeout
	if timeout <= 0 {
		timeout = DefaultOpenTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.open:
		return nil
	case <-c.done:
		return core.NewChannelClosedError("control channel closed before opening")
	case <-ctx.Done():
		return core.NewChannelClosedError("wait for channel open cancelled: " + ctx.Err().Error())
	case <-timer.C:
		return core.NewChannelTimeoutError("control channel did not open within " + timeout.String())
	}
}

// Close tears the channel down. It is idempotent and safe regardless of which
// side triggered teardown.
func (c *Channel) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.quit)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

// Err returns the terminal channel error, if any, once the channel ends.
func (c *Channel) Err() error {
	if c == nil {
		return nil
	}
	<-c.done
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Channel) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Channel) markOpen() {
	c.openOnce.Do(func() { close(c.open) })
}

func (c *Channel) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if !c.closed.Load() {
				c.setErr(core.NewChannelClosedError("control channel read failed: " + err.Error()))
			}
			return
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			// Both frame kinds carry one JSON event.
		default:
			continue
		}

		event, ok := decodeRawEvent(data)
		if !ok {
			c.logger.Warn("dropping undecodable control frame", "bytes", len(data))
			continue
		}
		if event.Type == "session.created" {
			c.markOpen()
		}

		select {
		case c.events <- event:
		case <-c.quit:
			return
		}
	}
}

func decodeRawEvent(data []byte) (RawEvent, bool) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return RawEvent{}, false
	}
	typ, _ := payload["type"].(string)
	return RawEvent{
		Type:    strings.TrimSpace(typ),
		Payload: payload,
		Raw:     append(json.RawMessage(nil), data...),
	}, true
}
