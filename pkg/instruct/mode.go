// Package instruct derives the conversational mode, the instruction text, and
// the callable tool set for a ghostwriting session, and pushes combined
// session updates over the control channel when any of them change.
package instruct

import (
	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

// Mode is the current conversational mode. Modes form a non-branching
// lattice driven entirely by external project state.
type Mode string

const (
	// ModeIntake applies while no project is selected.
	ModeIntake Mode = "intake"
	// ModeBlueprint applies while the selected project's required intake
	// fields are incomplete.
	ModeBlueprint Mode = "blueprint"
	// ModeGhostwriting applies once the blueprint is complete or bypassed.
	ModeGhostwriting Mode = "ghostwriting"
)

// DeriveMode computes the mode from the selected project, if any.
func DeriveMode(project *types.ProjectBundle) Mode {
	if project == nil {
		return ModeIntake
	}
	switch project.Summary.Status {
	case types.BlueprintComplete, types.BlueprintBypassed:
		return ModeGhostwriting
	default:
		return ModeBlueprint
	}
}

// Context carries the dynamic state BuildInstructions folds into the static
// mode template. All fields are inputs; the builder never mutates them.
type Context struct {
	// Language is the target conversation language ("" means English).
	Language string

	// Project is the selected project bundle, nil in intake mode.
	Project *types.ProjectBundle

	// OpenTodos and Sections feed the ghostwriting-mode status fragment.
	OpenTodos []types.Todo
	Sections  []types.Section

	// LatestProgress is the most recent draft progress line, if any.
	LatestProgress string
}
