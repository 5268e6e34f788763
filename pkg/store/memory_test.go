package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

func TestProjectLifecycle(t *testing.T) {
	mem := NewMemoryStores()
	ctx := context.Background()

	first, err := mem.Create(ctx, "  Founder Memoir ", "book")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Project.Title != "Founder Memoir" {
		t.Errorf("title not trimmed: %q", first.Project.Title)
	}
	if first.Summary.Status != types.BlueprintIncomplete {
		t.Errorf("fresh status = %s", first.Summary.Status)
	}

	second, err := mem.Create(ctx, "Weekly Newsletter", "newsletter")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	listed, err := mem.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed %d projects", len(listed))
	}
	if listed[0].ProjectID != second.ProjectID {
		t.Errorf("listing not newest-first: %v", listed)
	}

	limited, err := mem.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limited list = %v, %v", limited, err)
	}

	if _, err := mem.Get(ctx, "nope"); err != ErrNotFound {
		t.Errorf("get missing = %v, want ErrNotFound", err)
	}
}

func TestBlueprintSyncAndCommit(t *testing.T) {
	mem := NewMemoryStores()
	ctx := context.Background()
	bundle, _ := mem.Create(ctx, "Memoir", "book")
	id := bundle.ProjectID

	for _, field := range types.RequiredBlueprintFields {
		updated, err := mem.SyncBlueprintField(ctx, id, field, "answered")
		if err != nil {
			t.Fatalf("sync %s: %v", field, err)
		}
		bundle = updated
	}
	if bundle.Summary.Status != types.BlueprintComplete {
		t.Errorf("status after all fields = %s", bundle.Summary.Status)
	}
	if len(bundle.Summary.MissingFields) != 0 {
		t.Errorf("missing = %v", bundle.Summary.MissingFields)
	}

	if _, err := mem.SyncBlueprintField(ctx, id, "favouriteColor", "blue"); err != ErrUnknownField {
		t.Errorf("unknown field = %v, want ErrUnknownField", err)
	}
}

func TestCommitBlueprintBypass(t *testing.T) {
	mem := NewMemoryStores()
	ctx := context.Background()
	bundle, _ := mem.Create(ctx, "Memoir", "book")
	mem.SyncBlueprintField(ctx, bundle.ProjectID, "desiredOutcome", "a memoir")

	committed, err := mem.CommitBlueprint(ctx, bundle.ProjectID, true)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if committed.Summary.Status != types.BlueprintBypassed {
		t.Errorf("status = %s", committed.Summary.Status)
	}
	// Every field that was still open is on record as skipped, and stops
	// counting as missing.
	if len(committed.Blueprint.BypassedFields) != len(types.RequiredBlueprintFields)-1 {
		t.Errorf("bypassed = %v", committed.Blueprint.BypassedFields)
	}
	if len(committed.Summary.MissingFields) != 0 {
		t.Errorf("missing after bypass = %v", committed.Summary.MissingFields)
	}
}

func TestAppendMessageIdempotent(t *testing.T) {
	mem := NewMemoryStores()
	ctx := context.Background()

	frag := types.TranscriptFragment{
		ID:        types.FragmentID(types.SpeakerUser, "item_1"),
		Speaker:   types.SpeakerUser,
		Text:      "let's work on the memoir",
		Timestamp: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	first, err := mem.AppendMessage(ctx, "sess-1", frag)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	again, err := mem.AppendMessage(ctx, "sess-1", frag)
	if err != nil {
		t.Fatalf("replay append: %v", err)
	}
	if first != again {
		t.Errorf("replay returned %q, want the original id %q", again, first)
	}
	if got := mem.TranscriptFor("sess-1"); len(got) != 1 {
		t.Errorf("transcript has %d rows, want 1", len(got))
	}
}

func TestTranscriptOrderedByTimestamp(t *testing.T) {
	mem := NewMemoryStores()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	// Finalization events can land out of order; display order is by time.
	mem.AppendMessage(ctx, "sess-1", types.TranscriptFragment{
		ID: "assistant-item_2", Speaker: types.SpeakerAssistant, Text: "second", Timestamp: base.Add(time.Second),
	})
	mem.AppendMessage(ctx, "sess-1", types.TranscriptFragment{
		ID: "user-item_1", Speaker: types.SpeakerUser, Text: "first", Timestamp: base,
	})

	got := mem.TranscriptFor("sess-1")
	if len(got) != 2 || got[0].Text != "first" || got[1].Text != "second" {
		t.Errorf("transcript order = %+v", got)
	}
}

func TestSessionCompleteIsOneShot(t *testing.T) {
	mem := NewMemoryStores()
	ctx := context.Background()
	mem.CreateSession(ctx, &types.SessionRecord{ID: "sess-1", Status: types.SessionConnected})

	if err := mem.Complete(ctx, "sess-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := mem.Complete(ctx, "sess-1"); err != nil {
		t.Fatalf("repeat complete should no-op: %v", err)
	}
	rec, _ := mem.GetSession(ctx, "sess-1")
	if rec.Status != types.SessionEnded {
		t.Errorf("status = %s", rec.Status)
	}
	if err := mem.Complete(ctx, "missing"); err != ErrNotFound {
		t.Errorf("complete missing = %v", err)
	}
}

func TestTodoCreatedFromTodoNote(t *testing.T) {
	mem := NewMemoryStores()
	ctx := context.Background()

	note, err := mem.CreateNote(ctx, types.Note{ProjectID: "p1", Kind: types.NoteTodo, Text: "chase the storm story"})
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	todos, err := mem.ListTodos(ctx, "p1")
	if err != nil || len(todos) != 1 {
		t.Fatalf("todos = %v, %v", todos, err)
	}
	if todos[0].ID != note.ID || todos[0].Status != types.TodoOpen {
		t.Errorf("todo = %+v", todos[0])
	}

	// Non-todo notes never mint a TODO.
	mem.CreateNote(ctx, types.Note{ProjectID: "p1", Kind: types.NoteFact, Text: "sailed as a kid"})
	todos, _ = mem.ListTodos(ctx, "p1")
	if len(todos) != 1 {
		t.Errorf("fact note minted a todo: %v", todos)
	}
}

func TestManageOutlineRenumbers(t *testing.T) {
	mem := NewMemoryStores()
	ctx := context.Background()

	ws, err := mem.ManageOutline(ctx, "p1", []types.OutlineOp{
		{Op: "add", Title: "Opening"},
		{Op: "add", Title: "Middle"},
		{Op: "add", Title: "Ending"},
	})
	if err != nil {
		t.Fatalf("outline add: %v", err)
	}
	if len(ws.Sections) != 3 {
		t.Fatalf("sections = %v", ws.Sections)
	}

	ws, err = mem.ManageOutline(ctx, "p1", []types.OutlineOp{
		{Op: "remove", SectionID: ws.Sections[1].ID},
	})
	if err != nil {
		t.Fatalf("outline remove: %v", err)
	}
	if len(ws.Sections) != 2 {
		t.Fatalf("sections after remove = %v", ws.Sections)
	}
	for i, s := range ws.Sections {
		if s.Order != i {
			t.Errorf("section %q order = %d, want %d", s.Title, s.Order, i)
		}
	}

	ws, err = mem.ManageOutline(ctx, "p1", []types.OutlineOp{
		{Op: "rename", SectionID: ws.Sections[0].ID, Title: "Cold Open"},
	})
	if err != nil {
		t.Fatalf("outline rename: %v", err)
	}
	if ws.Sections[0].Title != "Cold Open" {
		t.Errorf("rename missed: %+v", ws.Sections[0])
	}
}

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Push(ctx, id); err != nil {
			t.Fatalf("push %s: %v", id, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Pop(ctx)
		if err != nil || got != want {
			t.Fatalf("pop = %q, %v, want %q", got, err, want)
		}
	}

	q.Close()
	if err := q.Push(ctx, "d"); err == nil {
		t.Error("push after close succeeded")
	}
}

func TestGetWorkspaceConcurrentFirstReads(t *testing.T) {
	// The draft runner and the session run loop both read workspaces; first
	// reads lazily create the row, so concurrent reads must stay safe.
	mem := NewMemoryStores()
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				projectID := fmt.Sprintf("p-%d", i)
				if _, err := mem.GetWorkspace(ctx, projectID); err != nil {
					t.Errorf("GetWorkspace(%s): %v", projectID, err)
				}
			}
		}()
	}
	wg.Wait()
}
