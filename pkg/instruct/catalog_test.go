package instruct

import (
	"errors"
	"testing"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core"
)

func TestAllowlistsPerMode(t *testing.T) {
	if !Allowed(ModeIntake, ToolListProjects) {
		t.Error("intake should allow list_projects")
	}
	if Allowed(ModeIntake, ToolQueueDraftUpdate) {
		t.Error("intake should not allow queue_draft_update")
	}
	if !Allowed(ModeBlueprint, ToolSyncBlueprint) {
		t.Error("blueprint should allow sync_blueprint_field")
	}
	if Allowed(ModeBlueprint, ToolManageOutline) {
		t.Error("blueprint should not allow manage_outline")
	}
	// Drafting drops project creation; select_project stays for switching.
	if Allowed(ModeGhostwriting, ToolListProjects) {
		t.Error("ghostwriting should not allow list_projects")
	}
	if Allowed(ModeGhostwriting, ToolCreateProject) {
		t.Error("ghostwriting should not allow create_project")
	}
	if !Allowed(ModeGhostwriting, ToolSelectProject) {
		t.Error("ghostwriting should allow select_project")
	}
	if !Allowed(ModeGhostwriting, ToolQueueDraftUpdate) {
		t.Error("ghostwriting should allow queue_draft_update")
	}
}

func TestToolsForSortedAndScoped(t *testing.T) {
	defs := ToolsFor(ModeIntake)
	if len(defs) != len(allowlists[ModeIntake]) {
		t.Fatalf("got %d tools, want %d", len(defs), len(allowlists[ModeIntake]))
	}
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Name >= defs[i].Name {
			t.Fatalf("tools not sorted: %q before %q", defs[i-1].Name, defs[i].Name)
		}
	}
	for _, def := range defs {
		if def.Description == "" {
			t.Errorf("tool %s has no description", def.Name)
		}
		if def.Parameters == nil {
			t.Errorf("tool %s has no parameter schema", def.Name)
		}
	}
}

func TestValidateArgsMissingRequired(t *testing.T) {
	err := ValidateArgs(ToolCreateNote, map[string]any{"kind": "fact"})
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Type != core.ErrMissingArgument {
		t.Fatalf("got %v, want missing-argument error", err)
	}
}

func TestValidateArgsSchemaViolation(t *testing.T) {
	err := ValidateArgs(ToolSetNoiseProfile, map[string]any{"profile": "studio"})
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Type != core.ErrInvalidRequest {
		t.Fatalf("got %v, want invalid-request error", err)
	}
}

func TestValidateArgsAccepts(t *testing.T) {
	tests := []struct {
		tool string
		args map[string]any
	}{
		{ToolCreateProject, map[string]any{"title": "Memoir"}},
		{ToolSelectProject, map[string]any{"ordinal": 2}},
		{ToolSyncBlueprint, map[string]any{"field": "audience", "value": "founders"}},
		{ToolSetNoiseProfile, map[string]any{"profile": "far_field"}},
		{ToolManageOutline, map[string]any{
			"ops": []any{map[string]any{"op": "add", "title": "Opening"}},
		}},
		{ToolQueueDraftUpdate, map[string]any{"urgency": "high"}},
	}
	for _, tt := range tests {
		if err := ValidateArgs(tt.tool, tt.args); err != nil {
			t.Errorf("ValidateArgs(%s, %v): %v", tt.tool, tt.args, err)
		}
	}
}

func TestValidateArgsUnknownTool(t *testing.T) {
	if err := ValidateArgs("fly_to_moon", nil); err == nil {
		t.Fatal("unknown tool validated")
	}
}

func TestKnownCoversCatalog(t *testing.T) {
	for _, names := range allowlists {
		for _, name := range names {
			if !Known(name) {
				t.Errorf("allowlisted tool %s missing from catalog", name)
			}
		}
	}
	if Known("fly_to_moon") {
		t.Error("Known accepted an undefined tool")
	}
}
