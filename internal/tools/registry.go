// ABOUTME: Thread-safe registry for tool packs and their tools.
// ABOUTME: Manages pack registration, tool lookup, and capability-based filtering.

package tools

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrPackAlreadyRegistered indicates a pack with the same ID is already registered.
var ErrPackAlreadyRegistered = errors.New("pack already registered")

// ErrToolCollision indicates a tool name already exists from another pack.
var ErrToolCollision = errors.New("tool name collision")

// registryEntry stores a tool with its pack ID for lookup.
type registryEntry struct {
	Tool   *Tool
	PackID string
}

// Registry maintains the registry of packs and their tools.
type Registry struct {
	mu     sync.RWMutex
	packs  map[string]*Pack
	tools  map[string]*registryEntry // tool name -> entry (for collision detection)
	logger *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		packs:  make(map[string]*Pack),
		tools:  make(map[string]*registryEntry),
		logger: logger,
	}
}

// RegisterPack validates and stores a pack and its tools.
// Returns ErrPackAlreadyRegistered if a pack with the same ID exists.
// Returns ErrToolCollision if any tool name already exists from another pack.
func (r *Registry) RegisterPack(pack *Pack) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.packs[pack.ID]; exists {
		return fmt.Errorf("%w: %s", ErrPackAlreadyRegistered, pack.ID)
	}

	// Check for tool name collisions before registering
	for _, tool := range pack.Tools {
		name := tool.Definition.Name
		if existing, exists := r.tools[name]; exists {
			return fmt.Errorf("%w: tool '%s' already registered by pack '%s'",
				ErrToolCollision, name, existing.PackID)
		}
	}

	for _, tool := range pack.Tools {
		r.tools[tool.Definition.Name] = &registryEntry{Tool: tool, PackID: pack.ID}
	}
	r.packs[pack.ID] = pack

	r.logger.Info("=== PACK REGISTERED ===",
		"pack_id", pack.ID,
		"tool_count", len(pack.Tools),
		"total_packs", len(r.packs),
		"total_tools", len(r.tools),
	)

	return nil
}

// GetTool returns a tool by name, or nil if not found.
func (r *Registry) GetTool(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.tools[name]; ok {
		return entry.Tool
	}
	return nil
}

// GetToolDefinition returns the definition for a tool name, or nil.
func (r *Registry) GetToolDefinition(name string) *Definition {
	if tool := r.GetTool(name); tool != nil {
		return tool.Definition
	}
	return nil
}

// GetAllTools returns all registered tool definitions, sorted by name for
// stable tools/list output.
func (r *Registry) GetAllTools() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.tools))
	for _, entry := range r.tools {
		defs = append(defs, entry.Tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// GetToolsForCapabilities returns tools where the caller has ALL required
// capabilities. The wildcard "*" in the caller set passes every check, and
// tools with no required capabilities are always included.
func (r *Registry) GetToolsForCapabilities(caps []string) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	capSet := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		capSet[c] = struct{}{}
	}

	var result []*Definition
	for _, entry := range r.tools {
		if hasAllCapabilities(entry.Tool.Definition.RequiredCapabilities, capSet) {
			result = append(result, entry.Tool.Definition)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// HasCapabilities checks if the caller capability list covers the required set.
func HasCapabilities(callerCaps, required []string) bool {
	capSet := make(map[string]struct{}, len(callerCaps))
	for _, c := range callerCaps {
		capSet[c] = struct{}{}
	}
	return hasAllCapabilities(required, capSet)
}

// hasAllCapabilities checks the capability set against the required list.
func hasAllCapabilities(required []string, capSet map[string]struct{}) bool {
	if len(required) == 0 {
		return true
	}
	if _, wildcard := capSet["*"]; wildcard {
		return true
	}
	for _, req := range required {
		if _, has := capSet[req]; !has {
			return false
		}
	}
	return true
}

// PackInfo contains public information about a registered pack.
type PackInfo struct {
	ID        string
	ToolNames []string
}

// ListPacks returns information about all registered packs.
func (r *Registry) ListPacks() []PackInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]PackInfo, 0, len(r.packs))
	for _, pack := range r.packs {
		names := make([]string, 0, len(pack.Tools))
		for _, t := range pack.Tools {
			names = append(names, t.Definition.Name)
		}
		sort.Strings(names)
		infos = append(infos, PackInfo{ID: pack.ID, ToolNames: names})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// ToolCount returns the number of registered tools (for readiness checks).
func (r *Registry) ToolCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
