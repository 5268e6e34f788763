package ghostwriter

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core"
	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4o"

// OpenAIWorker drafts documents with the OpenAI chat completions API.
type OpenAIWorker struct {
	client openai.Client
	model  string
}

// NewOpenAIWorker builds a worker. An empty model uses DefaultModel.
func NewOpenAIWorker(apiKey, model string) *OpenAIWorker {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIWorker{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (w *OpenAIWorker) Draft(ctx context.Context, req DraftRequest) (DraftResult, error) {
	completion, err := w.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(w.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(draftSystemPrompt),
			openai.UserMessage(buildDraftPrompt(req)),
		},
	})
	if err != nil {
		return DraftResult{}, core.NewDraftWorkerError(fmt.Sprintf("chat completion: %v", err))
	}
	if len(completion.Choices) == 0 {
		return DraftResult{}, core.NewDraftWorkerError("chat completion returned no choices")
	}
	markdown := strings.TrimSpace(completion.Choices[0].Message.Content)
	if markdown == "" {
		return DraftResult{}, core.NewDraftWorkerError("chat completion returned empty draft")
	}
	sections := sectionsFromMarkdown(markdown, req.Workspace.Sections)
	return DraftResult{
		Markdown: markdown,
		Sections: sections,
		Summary:  fmt.Sprintf("rewrote draft: %d sections, %d notes folded in", len(sections), len(req.Notes)),
	}, nil
}

const draftSystemPrompt = `You are a ghostwriter. Rewrite the draft as clean
markdown in the writer's voice, honoring the blueprint's voice guardrails.
Use ## headings for sections. Return only the document.`

func buildDraftPrompt(req DraftRequest) string {
	var b strings.Builder
	bp := req.Project.Blueprint
	fmt.Fprintf(&b, "Project: %s\n", req.Project.Project.Title)
	fmt.Fprintf(&b, "Desired outcome: %s\nAudience: %s\nVoice guardrails: %s\n",
		bp.DesiredOutcome, bp.Audience, bp.VoiceGuardrails)
	if len(req.Notes) > 0 {
		b.WriteString("\nNotes:\n")
		for _, note := range req.Notes {
			fmt.Fprintf(&b, "- [%s] %s\n", note.Kind, note.Text)
		}
	}
	if req.Job.Summary != "" {
		fmt.Fprintf(&b, "\nRequested update: %s\n", req.Job.Summary)
	}
	if len(req.Job.TranscriptAnchors) > 0 {
		fmt.Fprintf(&b, "\nFocus on conversation moments: %s\n",
			strings.Join(req.Job.TranscriptAnchors, "; "))
	}
	if req.Workspace.Markdown != "" {
		b.WriteString("\nCurrent draft:\n")
		b.WriteString(req.Workspace.Markdown)
	} else {
		b.WriteString("\nNo draft exists yet; write the first one from the notes.")
	}
	return b.String()
}

// sectionsFromMarkdown rebuilds the outline from ## headings, keeping ids of
// sections whose titles survived the rewrite.
func sectionsFromMarkdown(markdown string, previous []types.Section) []types.Section {
	known := make(map[string]string, len(previous))
	for _, s := range previous {
		known[strings.ToLower(s.Title)] = s.ID
	}
	var sections []types.Section
	for _, line := range strings.Split(markdown, "\n") {
		if !strings.HasPrefix(line, "## ") {
			continue
		}
		title := strings.TrimSpace(strings.TrimPrefix(line, "## "))
		if title == "" {
			continue
		}
		id, ok := known[strings.ToLower(title)]
		if !ok {
			id = uuid.NewString()
		}
		sections = append(sections, types.Section{
			ID:     id,
			Title:  title,
			Order:  len(sections),
			Status: types.SectionDrafted,
		})
	}
	return sections
}
