package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
	"github.com/ghostwrite-dev/ghostwrite/pkg/realtime"
	"github.com/ghostwrite-dev/ghostwrite/pkg/store"
)

// wsScript is a scripted remote endpoint: frames pushed to send go to the
// client, frames the client writes land on received.
type wsScript struct {
	send     chan string
	received chan map[string]any
}

func newWSServer(t *testing.T) (*httptest.Server, *wsScript) {
	t.Helper()
	script := &wsScript{
		send:     make(chan string, 16),
		received: make(chan map[string]any, 64),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var frame map[string]any
				if json.Unmarshal(data, &frame) != nil {
					continue
				}
				select {
				case script.received <- frame:
				default:
				}
			}
		}()
		for {
			select {
			case frame := <-script.send:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, script
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// awaitFrame drains received until a frame of the wanted type arrives.
func awaitFrame(t *testing.T, script *wsScript, wantType string) map[string]any {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case frame := <-script.received:
			if frame["type"] == wantType {
				return frame
			}
		case <-deadline:
			t.Fatalf("no %s frame arrived", wantType)
		}
	}
}

func startTestSession(t *testing.T) (*Controller, *store.MemoryStores, *wsScript) {
	t.Helper()
	srv, script := newWSServer(t)
	script.send <- `{"type":"session.created","session":{"id":"rt_1"}}`

	mem := store.NewMemoryStores()
	ctrl := NewController(realtime.NewTransport(nil), mem.Stores(), store.NewMemoryQueue(8), realtime.Credentials{
		ClientSecret: "ek_test",
		Model:        "gpt-realtime",
		BaseURL:      srv.URL,
	}, Callbacks{}, nil)
	t.Cleanup(func() { ctrl.Stop(context.Background()) })

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if status, err := ctrl.Status(); status != types.SessionConnected || err != nil {
		t.Fatalf("status after start = %s, %v", status, err)
	}
	return ctrl, mem, script
}

func TestControllerLifecycle(t *testing.T) {
	ctrl, mem, script := startTestSession(t)
	sc := ctrl.Current()
	if sc == nil {
		t.Fatal("no session context after start")
	}

	// The initial configuration push reaches the remote.
	awaitFrame(t, script, types.MsgSessionUpdate)

	// The announced realtime id lands on the session record.
	waitFor(t, "realtime id", func() bool {
		rec, err := mem.GetSession(context.Background(), sc.ID)
		return err == nil && rec.RealtimeID == "rt_1"
	})

	// A second start while connected is a no-op.
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("redundant start: %v", err)
	}

	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if status, _ := ctrl.Status(); status != types.SessionEnded {
		t.Errorf("status after stop = %s", status)
	}
	rec, err := mem.GetSession(context.Background(), sc.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if rec.Status != types.SessionEnded {
		t.Errorf("record status = %s", rec.Status)
	}
	// Stop again: still fine.
	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestControllerPersistsFinalTranscripts(t *testing.T) {
	ctrl, mem, script := startTestSession(t)
	sc := ctrl.Current()

	script.send <- `{"type":"conversation.item.input_audio_transcription.completed","item_id":"item_1","transcript":"let us work on the memoir"}`

	waitFor(t, "persisted fragment", func() bool {
		return len(mem.TranscriptFor(sc.ID)) == 1
	})
	frag := mem.TranscriptFor(sc.ID)[0]
	if frag.Speaker != types.SpeakerUser || frag.Text != "let us work on the memoir" {
		t.Errorf("fragment = %+v", frag)
	}

	// The fragment's pointer now resolves to a durable id.
	if _, ok := sc.Resolver.ResolvePointer(frag.ID); !ok {
		t.Error("fragment pointer not registered")
	}

	// A replay of the completion event persists nothing new.
	script.send <- `{"type":"conversation.item.input_audio_transcription.completed","item_id":"item_1","transcript":"let us work on the memoir"}`
	time.Sleep(100 * time.Millisecond)
	if got := len(mem.TranscriptFor(sc.ID)); got != 1 {
		t.Errorf("replayed completion persisted: %d fragments", got)
	}
}

func TestControllerDispatchesRemoteToolCalls(t *testing.T) {
	ctrl, mem, script := startTestSession(t)
	sc := ctrl.Current()

	script.send <- `{"type":"response.done","response":{"id":"resp_1","output":[{"type":"function_call","call_id":"call_1","name":"create_project","arguments":"{\"title\":\"Founder Memoir\",\"kind\":\"book\"}"}]}}`

	frame := awaitFrame(t, script, types.MsgSubmitToolOutputs)
	if frame["response_id"] != "resp_1" {
		t.Errorf("submit frame = %v", frame)
	}

	projects, err := mem.List(context.Background(), 10)
	if err != nil || len(projects) != 1 {
		t.Fatalf("projects = %v, %v", projects, err)
	}
	if projects[0].Project.Title != "Founder Memoir" {
		t.Errorf("project = %+v", projects[0].Project)
	}
	// The created project became the session's project.
	waitFor(t, "session assignment", func() bool {
		rec, err := mem.GetSession(context.Background(), sc.ID)
		return err == nil && rec.ProjectID == projects[0].ProjectID
	})
}

func TestControllerSendTextRequiresSession(t *testing.T) {
	mem := store.NewMemoryStores()
	ctrl := NewController(realtime.NewTransport(nil), mem.Stores(), store.NewMemoryQueue(1), realtime.Credentials{}, Callbacks{}, nil)
	if err := ctrl.SendText("hello"); err == nil {
		t.Fatal("send without a session succeeded")
	}
}

func TestControllerSendText(t *testing.T) {
	ctrl, _, script := startTestSession(t)
	if err := ctrl.SendText("hello there"); err != nil {
		t.Fatalf("send text: %v", err)
	}
	frame := awaitFrame(t, script, types.MsgItemCreate)
	item, _ := frame["item"].(map[string]any)
	if item["role"] != "user" {
		t.Errorf("item frame = %v", frame)
	}
	awaitFrame(t, script, types.MsgResponseCreate)
}

// capturingSessions records the id of every session the controller creates.
type capturingSessions struct {
	store.SessionStore
	mu  sync.Mutex
	ids []string
}

func (c *capturingSessions) CreateSession(ctx context.Context, rec *types.SessionRecord) error {
	err := c.SessionStore.CreateSession(ctx, rec)
	c.mu.Lock()
	c.ids = append(c.ids, rec.ID)
	c.mu.Unlock()
	return err
}

func (c *capturingSessions) created() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func TestControllerStartFailureCompletesRecord(t *testing.T) {
	// An endpoint that upgrades but never announces the session, so setup
	// times out waiting for the channel to open.
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	mem := store.NewMemoryStores()
	sessions := &capturingSessions{SessionStore: mem}
	stores := mem.Stores()
	stores.Sessions = sessions

	tr := realtime.NewTransport(nil)
	tr.OpenTimeout = 50 * time.Millisecond
	ctrl := NewController(tr, stores, store.NewMemoryQueue(1), realtime.Credentials{
		ClientSecret: "ek_test",
		Model:        "gpt-realtime",
		BaseURL:      srv.URL,
	}, Callbacks{}, nil)

	if err := ctrl.Start(context.Background()); err == nil {
		t.Fatal("start succeeded without a session announcement")
	}
	if status, err := ctrl.Status(); status != types.SessionError || err == nil {
		t.Fatalf("status = %s, %v", status, err)
	}

	// The record created during setup is completed, not left connecting.
	ids := sessions.created()
	if len(ids) != 1 {
		t.Fatalf("created %d sessions, want 1", len(ids))
	}
	rec, err := mem.GetSession(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if rec.Status != types.SessionEnded {
		t.Errorf("record status = %s, want %s", rec.Status, types.SessionEnded)
	}

	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("stop after failed start: %v", err)
	}
}

// gateSessions holds CreateSession open so a test can land a second call
// inside the first start's setup window.
type gateSessions struct {
	store.SessionStore
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gateSessions) CreateSession(ctx context.Context, rec *types.SessionRecord) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.entered <- struct{}{}
	<-g.release
	return g.SessionStore.CreateSession(ctx, rec)
}

func (g *gateSessions) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestControllerStartDuringSetupWindowIsNoop(t *testing.T) {
	srv, script := newWSServer(t)
	script.send <- `{"type":"session.created","session":{"id":"rt_1"}}`

	mem := store.NewMemoryStores()
	gate := &gateSessions{
		SessionStore: mem,
		entered:      make(chan struct{}, 2),
		release:      make(chan struct{}),
	}
	stores := mem.Stores()
	stores.Sessions = gate

	ctrl := NewController(realtime.NewTransport(nil), stores, store.NewMemoryQueue(8), realtime.Credentials{
		ClientSecret: "ek_test",
		Model:        "gpt-realtime",
		BaseURL:      srv.URL,
	}, Callbacks{}, nil)
	t.Cleanup(func() { ctrl.Stop(context.Background()) })

	errs := make(chan error, 1)
	go func() { errs <- ctrl.Start(context.Background()) }()
	<-gate.entered

	// The first start is still in setup; a second start must not create a
	// second session.
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("overlapping start: %v", err)
	}
	close(gate.release)
	if err := <-errs; err != nil {
		t.Fatalf("first start: %v", err)
	}
	waitFor(t, "connection", func() bool {
		status, _ := ctrl.Status()
		return status == types.SessionConnected
	})
	if got := gate.callCount(); got != 1 {
		t.Errorf("created %d sessions, want 1", got)
	}
}
