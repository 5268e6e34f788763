package instruct

import (
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ghostwrite-dev/ghostwrite/pkg/core"
	"github.com/ghostwrite-dev/ghostwrite/pkg/core/types"
)

// Tool names in the catalog.
const (
	ToolListProjects     = "list_projects"
	ToolCreateProject    = "create_project"
	ToolSelectProject    = "select_project"
	ToolUpdateProject    = "update_project_metadata"
	ToolSyncBlueprint    = "sync_blueprint_field"
	ToolCommitBlueprint  = "commit_blueprint"
	ToolCreateNote       = "create_note"
	ToolListNotes        = "list_notes"
	ToolUpdateTodoStatus = "update_todo_status"
	ToolGetDraft         = "get_draft"
	ToolManageOutline    = "manage_outline"
	ToolQueueDraftUpdate = "queue_draft_update"
	ToolSetNoiseProfile  = "set_noise_profile"
	ToolSetLanguage      = "set_language"
)

type catalogEntry struct {
	def      types.ToolDefinition
	required []string
	schema   *jsonschema.Schema
}

// catalog holds the immutable tool definitions keyed by name. Entries are
// shared across modes by reference.
var catalog = map[string]*catalogEntry{}

// allowlists maps each mode to its callable tool names.
var allowlists = map[Mode][]string{
	ModeIntake: {
		ToolListProjects, ToolCreateProject, ToolSelectProject,
		ToolSetNoiseProfile, ToolSetLanguage,
	},
	ModeBlueprint: {
		ToolListProjects, ToolCreateProject, ToolSelectProject,
		ToolUpdateProject, ToolSyncBlueprint, ToolCommitBlueprint,
		ToolCreateNote, ToolSetNoiseProfile, ToolSetLanguage,
	},
	ModeGhostwriting: {
		ToolSelectProject, ToolUpdateProject, ToolSyncBlueprint,
		ToolCreateNote, ToolListNotes, ToolUpdateTodoStatus,
		ToolGetDraft, ToolManageOutline, ToolQueueDraftUpdate,
		ToolSetNoiseProfile, ToolSetLanguage,
	},
}

func init() {
	register(ToolListProjects,
		"List the writer's projects, newest first.",
		objectSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "minimum": 1},
		}))
	register(ToolCreateProject,
		"Create a new writing project with an empty blueprint.",
		objectSchema(map[string]any{
			"title": map[string]any{"type": "string"},
			"kind":  map[string]any{"type": "string"},
		}, "title"))
	register(ToolSelectProject,
		"Select the project this conversation works on. Accepts an id, an ordinal from the last listing, or a title.",
		objectSchema(map[string]any{
			"projectId": map[string]any{"type": "string"},
			"ordinal":   map[string]any{"type": "integer"},
			"title":     map[string]any{"type": "string"},
		}))
	register(ToolUpdateProject,
		"Update a project's title or kind.",
		objectSchema(map[string]any{
			"projectId": map[string]any{"type": "string"},
			"title":     map[string]any{"type": "string"},
			"kind":      map[string]any{"type": "string"},
		}))
	register(ToolSyncBlueprint,
		"Record one blueprint intake field as soon as the writer states it.",
		objectSchema(map[string]any{
			"projectId": map[string]any{"type": "string"},
			"field": map[string]any{
				"type": "string",
				"enum": []any{"desiredOutcome", "audience", "materials", "voiceGuardrails", "cadence", "successMetric"},
			},
			"value": map[string]any{"type": "string"},
		}, "field", "value"))
	register(ToolCommitBlueprint,
		"Commit the blueprint and move to drafting. Set bypassMissing only when the writer explicitly wants to skip remaining questions.",
		objectSchema(map[string]any{
			"projectId":     map[string]any{"type": "string"},
			"bypassMissing": map[string]any{"type": "boolean"},
		}))
	register(ToolCreateNote,
		"Capture a structured note (fact, story, style, voice, todo, or summary) anchored to the conversation.",
		objectSchema(map[string]any{
			"projectId":       map[string]any{"type": "string"},
			"kind":            map[string]any{"type": "string", "enum": []any{"fact", "story", "style", "voice", "todo", "summary"}},
			"text":            map[string]any{"type": "string"},
			"messagePointers": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"confidence":      map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		}, "kind", "text"))
	register(ToolListNotes,
		"List the project's notes, optionally filtered by kind.",
		objectSchema(map[string]any{
			"projectId": map[string]any{"type": "string"},
			"kind":      map[string]any{"type": "string"},
		}))
	register(ToolUpdateTodoStatus,
		"Move a TODO to open, doing, or done.",
		objectSchema(map[string]any{
			"todoId": map[string]any{"type": "string"},
			"status": map[string]any{"type": "string", "enum": []any{"open", "doing", "done"}},
		}, "todoId", "status"))
	register(ToolGetDraft,
		"Fetch the current draft document and its outline.",
		objectSchema(map[string]any{
			"projectId": map[string]any{"type": "string"},
		}))
	register(ToolManageOutline,
		"Add, rename, reorder, or remove outline sections.",
		objectSchema(map[string]any{
			"projectId": map[string]any{"type": "string"},
			"ops": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"op":        map[string]any{"type": "string", "enum": []any{"add", "rename", "reorder", "remove"}},
						"sectionId": map[string]any{"type": "string"},
						"title":     map[string]any{"type": "string"},
						"position":  map[string]any{"type": "integer"},
					},
					"required": []any{"op"},
				},
			},
		}, "ops"))
	register(ToolQueueDraftUpdate,
		"Queue a background draft update. Returns immediately; progress arrives later as system messages. Never wait for completion.",
		objectSchema(map[string]any{
			"projectId":         map[string]any{"type": "string"},
			"urgency":           map[string]any{"type": "string", "enum": []any{"low", "normal", "high"}},
			"messagePointers":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"transcriptAnchors": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"promptContext":     map[string]any{"type": "object"},
		}))
	register(ToolSetNoiseProfile,
		"Switch input noise reduction between near_field, far_field, and off.",
		objectSchema(map[string]any{
			"profile": map[string]any{"type": "string", "enum": []any{"near_field", "far_field", "off"}},
		}, "profile"))
	register(ToolSetLanguage,
		"Switch the conversation language.",
		objectSchema(map[string]any{
			"language": map[string]any{"type": "string"},
		}, "language"))
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}

func register(name, description string, params map[string]any) {
	compiler := jsonschema.NewCompiler()
	url := "mem://tools/" + name + ".json"
	if err := compiler.AddResource(url, params); err != nil {
		panic(fmt.Sprintf("tool %s schema resource: %v", name, err))
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("tool %s schema: %v", name, err))
	}
	var required []string
	if req, ok := params["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}
	catalog[name] = &catalogEntry{
		def: types.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
		required: required,
		schema:   schema,
	}
}

// ToolsFor returns the static catalog subset for mode, name-sorted for
// deterministic session updates.
func ToolsFor(mode Mode) []types.ToolDefinition {
	names := allowlists[mode]
	defs := make([]types.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, catalog[name].def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Allowed reports whether mode permits calling tool.
func Allowed(mode Mode, tool string) bool {
	for _, name := range allowlists[mode] {
		if name == tool {
			return true
		}
	}
	return false
}

// AllowedNames returns mode's tool names, sorted, for rejection messages.
func AllowedNames(mode Mode) []string {
	names := append([]string(nil), allowlists[mode]...)
	sort.Strings(names)
	return names
}

// Known reports whether the catalog defines tool.
func Known(tool string) bool {
	_, ok := catalog[tool]
	return ok
}

// ValidateArgs checks args against the tool's parameter schema. Missing
// required parameters come back as a missing-argument error so the dispatcher
// can defer calls whose argument stream has not finalized yet; other schema
// violations are invalid-request errors.
func ValidateArgs(tool string, args map[string]any) error {
	entry, ok := catalog[tool]
	if !ok {
		return core.NewInvalidRequestError(fmt.Sprintf("unknown tool %q", tool))
	}
	for _, param := range entry.required {
		if _, present := args[param]; !present {
			return core.NewMissingArgumentError(
				fmt.Sprintf("tool %s requires argument %q", tool, param), param)
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := entry.schema.Validate(toJSONValue(args)); err != nil {
		return core.NewInvalidRequestError(fmt.Sprintf("tool %s arguments invalid: %v", tool, err))
	}
	return nil
}

// toJSONValue rewrites args into the value kinds the schema validator
// expects. Extracted arguments decoded by encoding/json already conform; this
// covers integers handed over by handler tests and internal callers.
func toJSONValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toJSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJSONValue(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}
