package instruct

import (
	"fmt"
	"strings"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

const commonRules = `You are a voice ghostwriting collaborator. Keep spoken replies short and
conversational. Call tools the moment you have the information they need; do
not narrate tool usage. Never invent project identifiers, message pointers, or
transcript anchors - use only values you observed in this conversation.`

const intakeTemplate = `Current phase: intake. No project is selected yet.
Workflow: greet the writer, list their existing projects, and either select
one or create a new one. Use select_project once the writer names a choice,
by id, by position in the listing, or by title.`

const blueprintTemplate = `Current phase: blueprint. A project is selected but its intake blueprint is
incomplete. Workflow: interview the writer one question at a time. Record each
answer immediately with sync_blueprint_field, and capture notable facts or
stories as notes along the way. When every required field is filled, or the
writer explicitly asks to skip ahead, call commit_blueprint.`

const ghostwritingTemplate = `Current phase: ghostwriting. The blueprint is committed. Workflow: talk
through the draft with the writer, capture material as notes and TODOs, and
shape the outline with manage_outline. When enough new material has
accumulated, call queue_draft_update. Drafting runs in the background: the
call returns "queued" immediately and progress arrives later as system
messages. Never wait for a draft to finish and never promise one is done
until a progress message says so.`

// BuildInstructions renders the instruction text for mode and ctx. It is a
// pure function of its inputs so callers can diff against the last-sent text.
func BuildInstructions(mode Mode, ctx Context) string {
	var b strings.Builder
	b.WriteString(commonRules)
	b.WriteString("\n\n")

	switch mode {
	case ModeIntake:
		b.WriteString(intakeTemplate)
	case ModeBlueprint:
		b.WriteString(blueprintTemplate)
		writeBlueprintFragment(&b, ctx)
	case ModeGhostwriting:
		b.WriteString(ghostwritingTemplate)
		writeGhostwritingFragment(&b, ctx)
	}

	if ctx.Language != "" {
		fmt.Fprintf(&b, "\n\nSpeak %s with the writer.", ctx.Language)
	}
	return b.String()
}

func writeBlueprintFragment(b *strings.Builder, ctx Context) {
	if ctx.Project == nil {
		return
	}
	fmt.Fprintf(b, "\n\nProject: %q.", ctx.Project.Project.Title)
	if missing := ctx.Project.Summary.MissingFields; len(missing) > 0 {
		fmt.Fprintf(b, " Blueprint fields still missing: %s.", strings.Join(missing, ", "))
	}
}

func writeGhostwritingFragment(b *strings.Builder, ctx Context) {
	if ctx.Project != nil {
		fmt.Fprintf(b, "\n\nProject: %q.", ctx.Project.Project.Title)
	}
	if open := openTodoLines(ctx); len(open) > 0 {
		fmt.Fprintf(b, "\nOpen TODOs: %s.", strings.Join(open, "; "))
	}
	if len(ctx.Sections) > 0 {
		parts := make([]string, 0, len(ctx.Sections))
		for _, s := range ctx.Sections {
			parts = append(parts, fmt.Sprintf("%s (%s)", s.Title, s.Status))
		}
		fmt.Fprintf(b, "\nOutline: %s.", strings.Join(parts, ", "))
	}
	if ctx.LatestProgress != "" {
		fmt.Fprintf(b, "\nLatest draft update: %s", ctx.LatestProgress)
	}
}

func openTodoLines(ctx Context) []string {
	var lines []string
	for _, todo := range ctx.OpenTodos {
		if todo.Status == types.TodoDone {
			continue
		}
		lines = append(lines, todo.Text)
	}
	return lines
}
