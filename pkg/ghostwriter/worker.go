// Package ghostwriter runs the background drafting passes that rewrite a
// project's document from its blueprint, notes, and transcript anchors.
package ghostwriter

import (
	"context"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

// DraftRequest carries everything one drafting pass needs.
type DraftRequest struct {
	Project   types.ProjectBundle
	Notes     []types.Note
	Workspace types.DocumentWorkspace
	Job       types.DraftJob
}

// DraftResult is a completed drafting pass.
type DraftResult struct {
	Markdown string
	Sections []types.Section
	Summary  string
}

// Worker produces a new draft of the document. Implementations may take
// seconds to minutes; callers never block a live conversation on them.
type Worker interface {
	Draft(ctx context.Context, req DraftRequest) (DraftResult, error)
}
