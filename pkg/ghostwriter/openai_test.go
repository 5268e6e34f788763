package ghostwriter

import (
	"strings"
	"testing"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

func TestSectionsFromMarkdownKeepsSurvivingIDs(t *testing.T) {
	previous := []types.Section{
		{ID: "s-open", Title: "Opening", Order: 0, Status: types.SectionDrafted},
		{ID: "s-gone", Title: "Dropped Chapter", Order: 1, Status: types.SectionEmpty},
	}
	markdown := "# Memoir\n\n## opening\n\ntext\n\n## The Storm\n\nmore text\n"

	sections := sectionsFromMarkdown(markdown, previous)
	if len(sections) != 2 {
		t.Fatalf("sections = %+v", sections)
	}
	// Title match is case-insensitive; the surviving section keeps its id.
	if sections[0].ID != "s-open" || sections[0].Title != "opening" {
		t.Errorf("surviving section = %+v", sections[0])
	}
	if sections[1].ID == "" || sections[1].ID == "s-gone" {
		t.Errorf("new section id = %q", sections[1].ID)
	}
	for i, s := range sections {
		if s.Order != i || s.Status != types.SectionDrafted {
			t.Errorf("section %d = %+v", i, s)
		}
	}
}

func TestSectionsFromMarkdownIgnoresOtherHeadings(t *testing.T) {
	markdown := "# Title\n### Subsection\nplain text\n##missing-space\n"
	if got := sectionsFromMarkdown(markdown, nil); len(got) != 0 {
		t.Errorf("sections = %+v", got)
	}
}

func TestBuildDraftPromptShape(t *testing.T) {
	req := DraftRequest{
		Project: types.ProjectBundle{
			Project: types.Project{Title: "Founder Memoir"},
			Blueprint: types.Blueprint{
				DesiredOutcome:  "a publishable memoir",
				Audience:        "first-time founders",
				VoiceGuardrails: "plainspoken, no jargon",
			},
		},
		Notes: []types.Note{
			{Kind: types.NoteStory, Text: "the storm of '98"},
		},
		Job: types.DraftJob{
			Summary:           "fold in the sailing stories",
			TranscriptAnchors: []string{"around minute twelve"},
		},
	}

	prompt := buildDraftPrompt(req)
	for _, want := range []string{
		"Founder Memoir",
		"a publishable memoir",
		"[story] the storm of '98",
		"fold in the sailing stories",
		"around minute twelve",
		"No draft exists yet",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	req.Workspace.Markdown = "## Opening\ntext"
	prompt = buildDraftPrompt(req)
	if !strings.Contains(prompt, "Current draft:") {
		t.Error("existing draft not included")
	}
	if strings.Contains(prompt, "No draft exists yet") {
		t.Error("empty-draft line present alongside a draft")
	}
}
