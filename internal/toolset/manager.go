// Package toolset holds the currently-active toolset (or none), translates
// it into the flat tool list exposed upstream, and resolves upstream names
// back to downstream (serverName, toolName) pairs. Grounded on the
// teacher's config.MCPServersConfig.StripServerPrefix/GetServerInfo
// (internal/config/mcpservers.go) — same "match/strip a namespaced prefix
// to route a call" idea, generalized from one global prefix table to a
// per-toolset resolved list plus a flattened-name translation table.
package toolset

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hypertool-ai/mcp-proxy/internal/configstore"
	"github.com/hypertool-ai/mcp-proxy/internal/events"
	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
	"github.com/hypertool-ai/mcp-proxy/internal/toolcache"
)

var nameRe = regexp.MustCompile(`^[a-z0-9-]{2,50}$`)

// ResolvedTool is one entry of the active toolset's exposed list: its flat
// upstream name, and enough of the underlying DiscoveredTool to answer
// tools/list and resolve tools/call.
type ResolvedTool struct {
	FlatName       string
	NamespacedName string
	ServerName     string
	OriginalName   string
	Description    string
	InputSchema    map[string]any
}

// ValidationResult partitions a ToolReference list per spec.md §4.4's
// validateToolReferences.
type ValidationResult struct {
	Valid         []configstore.ToolReference
	Invalid       []configstore.ToolReference
	ResolvedTools []ResolvedTool
}

// Manager owns the active toolset pointer and its flattened-name table.
// Callers supply the current connected-only tool list to every operation
// that needs to resolve references, rather than the manager holding its
// own cache handle, so it stays easy to test in isolation.
type Manager struct {
	store *configstore.Store
	bus   *events.Bus

	mu      sync.RWMutex
	active  string // name of the currently-equipped toolset, "" if none
	ordered []ResolvedTool          // declared order, for GetMCPTools
	byFlat  map[string]ResolvedTool // same entries, for O(1) lookup by flat name
}

// New constructs a Manager with no active toolset.
func New(store *configstore.Store, bus *events.Bus) *Manager {
	return &Manager{store: store, bus: bus, byFlat: make(map[string]ResolvedTool)}
}

// flatten replaces every "." in a namespaced name with "_" — purely
// cosmetic, for MCP clients that forbid dots in tool names (spec.md §4.4).
func flatten(namespaced string) string {
	return strings.ReplaceAll(namespaced, ".", "_")
}

// resolveReference implements spec.md §4.4's three-step resolution: exact
// namespacedName match, then refId (toolHash) match, else unresolved.
// allowStale additionally matches cache entries whose server is
// disconnected (display/listing paths only, never call routing).
func resolveReference(ctx []toolcache.Tool, ref configstore.ToolReference, allowStale bool) (toolcache.Tool, bool) {
	for _, t := range ctx {
		if !allowStale && t.ServerStatus != toolcache.ServerConnected {
			continue
		}
		if ref.NamespacedName != "" && t.NamespacedName() == ref.NamespacedName {
			return t, true
		}
	}
	if ref.RefID != "" {
		for _, t := range ctx {
			if !allowStale && t.ServerStatus != toolcache.ServerConnected {
				continue
			}
			if t.ToolHash == ref.RefID {
				return t, true
			}
		}
	}
	return toolcache.Tool{}, false
}

// ValidateToolReferences partitions refs into valid/invalid against the
// connected-only cache (or the full cache, under allowStale).
func (m *Manager) ValidateToolReferences(ctx []toolcache.Tool, refs []configstore.ToolReference, allowStale bool) ValidationResult {
	var result ValidationResult
	for _, ref := range refs {
		tool, ok := resolveReference(ctx, ref, allowStale)
		if !ok {
			result.Invalid = append(result.Invalid, ref)
			continue
		}
		result.Valid = append(result.Valid, ref)
		result.ResolvedTools = append(result.ResolvedTools, ResolvedTool{
			FlatName:       flatten(tool.NamespacedName()),
			NamespacedName: tool.NamespacedName(),
			ServerName:     tool.ServerName,
			OriginalName:   tool.Name,
			Description:    tool.Description,
			InputSchema:    tool.InputSchema,
		})
	}
	return result
}

// BuildToolset validates tools against the current (connected-only) cache,
// persists a new toolset, and optionally equips it. Fails if name already
// exists or any reference is unresolved (unless force).
func (m *Manager) BuildToolset(name, description string, tools []configstore.ToolReference, available []toolcache.Tool, force, autoEquip bool) error {
	if !nameRe.MatchString(name) {
		return mcperrors.Validation("toolset name %q must match ^[a-z0-9-]{2,50}$", name)
	}
	if _, ok, err := m.store.GetToolset(name); err != nil {
		return err
	} else if ok {
		return mcperrors.Validation("toolset %q already exists", name)
	}
	for _, ref := range tools {
		if ref.NamespacedName == "" && ref.RefID == "" {
			return mcperrors.Validation("toolset %q has a tool reference with neither namespacedName nor refId", name)
		}
	}

	result := m.ValidateToolReferences(available, tools, false)
	if len(result.Invalid) > 0 && !force {
		return mcperrors.Validation("toolset %q has %d unresolved tool reference(s)", name, len(result.Invalid))
	}

	toolset := configstore.Toolset{
		Name:        name,
		Description: description,
		Version:     "1",
		CreatedAt:   time.Now(),
		Tools:       tools,
	}
	if err := m.store.PutToolset(toolset); err != nil {
		return err
	}
	if autoEquip {
		return m.equipResolved(name, result.ResolvedTools, "equipped")
	}
	return nil
}

// EquipResolved installs an already-resolved tool list as the active
// toolset without persisting it to the store — used by the persona
// manager to equip a manifest-derived toolset that has no stored identity
// of its own (spec.md §4.6 step 7).
func (m *Manager) EquipResolved(label string, resolved []ResolvedTool) error {
	return m.equipResolved(label, resolved, "equipped")
}

// EquipToolset loads a stored toolset and installs it as active.
func (m *Manager) EquipToolset(name string, available []toolcache.Tool) error {
	stored, ok, err := m.store.GetToolset(name)
	if err != nil {
		return err
	}
	if !ok {
		return mcperrors.Persona(mcperrors.ToolsetNotFound, "toolset %q not found", name)
	}
	result := m.ValidateToolReferences(available, stored.Tools, false)
	changeType := "equipped"
	m.mu.RLock()
	if m.active == name {
		changeType = "updated"
	}
	m.mu.RUnlock()
	return m.equipResolved(name, result.ResolvedTools, changeType)
}

func (m *Manager) equipResolved(name string, resolved []ResolvedTool, changeType string) error {
	byFlat := make(map[string]ResolvedTool, len(resolved))
	ordered := make([]ResolvedTool, len(resolved))
	copy(ordered, resolved)
	for _, rt := range resolved {
		byFlat[rt.FlatName] = rt
	}

	m.mu.Lock()
	previous := m.active
	m.active = name
	m.ordered = ordered
	m.byFlat = byFlat
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.PublishToolsetChanged(events.ToolsetChanged{ToolsetName: name, Reason: changeType})
	}
	_ = previous
	return nil
}

// UnequipToolset clears the active toolset.
func (m *Manager) UnequipToolset() {
	m.mu.Lock()
	m.active = ""
	m.ordered = nil
	m.byFlat = make(map[string]ResolvedTool)
	m.mu.Unlock()
	if m.bus != nil {
		m.bus.PublishToolsetChanged(events.ToolsetChanged{Reason: "unequipped"})
	}
}

// DeleteToolset removes a stored toolset, unequipping it first if active.
// confirm mirrors spec.md §4.4's required confirmation flag.
func (m *Manager) DeleteToolset(name string, confirm bool) error {
	if !confirm {
		return mcperrors.Validation("deleting toolset %q requires confirm=true", name)
	}
	m.mu.RLock()
	isActive := m.active == name
	m.mu.RUnlock()
	if isActive {
		m.UnequipToolset()
	}
	return m.store.DeleteToolset(name)
}

// GetMCPTools returns the active toolset's exposed list, in its declared
// order. Empty (never nil) if no toolset is active.
func (m *Manager) GetMCPTools() []ResolvedTool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ResolvedTool, len(m.ordered))
	copy(out, m.ordered)
	return out
}

// GetOriginalToolName reverse-looks-up a flattened upstream name to its
// namespaced form, or "" if unknown.
func (m *Manager) GetOriginalToolName(flat string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.byFlat[flat]
	if !ok {
		return "", false
	}
	return rt.NamespacedName, true
}

// Resolve looks up the (serverName, originalName) pair for an upstream flat
// tool name — the router's translate step (spec.md §4.5 step 1).
func (m *Manager) Resolve(flat string) (serverName, originalName string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.byFlat[flat]
	if !ok {
		return "", "", false
	}
	return rt.ServerName, rt.OriginalName, true
}

// ActiveToolsetName returns the name of the currently-equipped toolset, or
// "" if none.
func (m *Manager) ActiveToolsetName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// String supports %v logging of a Manager without exposing internal locks.
func (m *Manager) String() string {
	return fmt.Sprintf("toolset.Manager{active=%q, tools=%d}", m.ActiveToolsetName(), len(m.GetMCPTools()))
}
