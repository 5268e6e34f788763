// Package session ties the realtime channel to the collaborator stores: it
// resolves identifiers, dispatches tool calls, and owns the session
// lifecycle state machine.
package session

import (
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core"
	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

// maxResolveDepth bounds the recursive id search over argument trees.
const maxResolveDepth = 16

// idKeys are argument keys whose string value is taken as a direct project id.
var idKeys = []string{"projectId", "project_id", "id"}

// containerKeys are argument keys whose object value is searched recursively.
var containerKeys = []string{"project", "selection", "target"}

// Resolver turns partially-specified tool arguments into durable project
// identifiers, and ephemeral message pointers into durable message ids. It
// never fabricates an identifier: every resolved value was either present in
// the arguments, returned by a listing, assigned to the session, or recorded
// in the pointer table as transcripts persisted.
type Resolver struct {
	logger *slog.Logger

	mu             sync.Mutex
	listing        []types.ProjectBundle
	sessionProject string
	pointers       map[string]string
	warned         map[string]struct{}
}

// NewResolver builds an empty resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger:   logger.With("component", "session.resolver"),
		pointers: make(map[string]string),
		warned:   make(map[string]struct{}),
	}
}

// CacheListing records the most recent project-listing result for ordinal and
// title resolution.
func (r *Resolver) CacheListing(bundles []types.ProjectBundle) {
	r.mu.Lock()
	r.listing = bundles
	r.mu.Unlock()
}

// SetSessionProject records the session's assigned project.
func (r *Resolver) SetSessionProject(id string) {
	r.mu.Lock()
	r.sessionProject = id
	r.mu.Unlock()
}

// SessionProject returns the session's assigned project, if any.
func (r *Resolver) SessionProject() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionProject
}

// AddPointer records one ephemeral-to-durable message id mapping. The table
// is additive for the session's lifetime.
func (r *Resolver) AddPointer(ephemeral, durable string) {
	if ephemeral == "" || durable == "" {
		return
	}
	r.mu.Lock()
	r.pointers[ephemeral] = durable
	r.mu.Unlock()
}

// ResolvePointer translates an ephemeral message pointer. On a miss the
// caller degrades to keeping the raw pointer as an anchor string; a warning
// is logged at most once per pointer per session.
func (r *Resolver) ResolvePointer(ephemeral string) (string, bool) {
	r.mu.Lock()
	durable, ok := r.pointers[ephemeral]
	if !ok {
		if _, seen := r.warned[ephemeral]; !seen {
			r.warned[ephemeral] = struct{}{}
			r.mu.Unlock()
			r.logger.Warn("message pointer unresolved, keeping raw anchor", "pointer", ephemeral)
			return "", false
		}
	}
	r.mu.Unlock()
	return durable, ok
}

// ResolveProject produces a durable project id from tool arguments. Each rule
// is tried only if the previous yielded nothing: direct id field anywhere in
// the tree, ordinal against the cached listing, fuzzy title against the
// cached listing, the session's assigned project, the first cached entry.
func (r *Resolver) ResolveProject(args map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id := findDirectID(args, 0, map[uintptr]struct{}{}); id != "" {
		return id, nil
	}
	if id := r.byOrdinalLocked(args); id != "" {
		return id, nil
	}
	if id := r.byTitleLocked(args); id != "" {
		return id, nil
	}
	if r.sessionProject != "" {
		return r.sessionProject, nil
	}
	if len(r.listing) > 0 {
		return r.listing[0].ProjectID, nil
	}
	return "", core.NewMissingProjectIDError("no project id in arguments and no project in scope")
}

// Reset clears all per-session state. Called on teardown; nothing may leak
// into the next session.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.listing = nil
	r.sessionProject = ""
	r.pointers = make(map[string]string)
	r.warned = make(map[string]struct{})
	r.mu.Unlock()
}

func findDirectID(node map[string]any, depth int, visited map[uintptr]struct{}) string {
	if node == nil || depth > maxResolveDepth {
		return ""
	}
	if ptr := mapPointer(node); ptr != 0 {
		if _, seen := visited[ptr]; seen {
			return ""
		}
		visited[ptr] = struct{}{}
	}
	for _, key := range idKeys {
		if s, ok := node[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	for _, key := range containerKeys {
		child, ok := node[key].(map[string]any)
		if !ok {
			continue
		}
		if id := findDirectID(child, depth+1, visited); id != "" {
			return id
		}
	}
	return ""
}

func (r *Resolver) byOrdinalLocked(args map[string]any) string {
	if len(r.listing) == 0 {
		return ""
	}
	for _, key := range []string{"ordinal", "index", "number"} {
		n, ok := numericField(args[key])
		if !ok {
			continue
		}
		// Ordinals are spoken one-based; zero still means the first entry.
		if n <= 0 {
			n = 1
		}
		if n <= len(r.listing) {
			return r.listing[n-1].ProjectID
		}
	}
	return ""
}

func (r *Resolver) byTitleLocked(args map[string]any) string {
	if len(r.listing) == 0 {
		return ""
	}
	for _, key := range []string{"title", "name", "projectTitle", "project"} {
		s, ok := args[key].(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		needle := strings.ToLower(strings.TrimSpace(s))
		for _, bundle := range r.listing {
			if strings.Contains(strings.ToLower(bundle.Project.Title), needle) {
				return bundle.ProjectID
			}
		}
	}
	return ""
}

func mapPointer(m map[string]any) uintptr {
	if m == nil {
		return 0
	}
	return reflect.ValueOf(m).Pointer()
}

func numericField(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
