package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hypertool-ai/mcp-proxy/internal/configstore"
	"github.com/hypertool-ai/mcp-proxy/internal/discovery"
	"github.com/hypertool-ai/mcp-proxy/internal/events"
	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
	"github.com/hypertool-ai/mcp-proxy/internal/pool"
	"github.com/hypertool-ai/mcp-proxy/internal/toolcache"
	"github.com/hypertool-ai/mcp-proxy/internal/toolset"
	"github.com/hypertool-ai/mcp-proxy/internal/transport"
)

// ActivateOptions carries the per-call knobs of spec.md §4.6's activation
// workflow.
type ActivateOptions struct {
	Toolset     string // explicit toolset to equip; "" falls back to the persona's defaultToolset
	Force       bool   // skip manifest validation failures
	BackupState bool   // snapshot current state for rollback (default true in practice)
	MergeOpts   MergeOptions
}

// DefaultActivateOptions matches the merge defaults spec.md §4.6 names.
func DefaultActivateOptions() ActivateOptions {
	return ActivateOptions{
		BackupState: true,
		MergeOpts: MergeOptions{
			Strategy:         MergePersonaWins,
			MergeEnvironment: true,
			PreserveBaseEnv:  true,
		},
	}
}

// ActiveState is the in-memory projection of spec.md §3's
// ActivePersonaState. Exactly zero or one exists process-wide.
type ActiveState struct {
	PersonaName      string
	ActiveToolset    string
	ActivatedAt      time.Time
	ValidationPassed bool
	ToolsResolved    int
	Warnings         []string
	MCPConfigApplied bool
}

// Manager owns the single process-wide active persona slot and runs the
// activation/deactivation workflow of spec.md §4.6. New; the teacher has no
// persona concept, so activation's MCP-config merge/reconcile step is the
// only part grounded on teacher code (the base ServerConfig replace/Notify
// shape of internal/config/mcpservers.go, generalized to a merge-then-pool-
// reconcile operation).
type Manager struct {
	root      string
	mcpConfig *configstore.MCPConfigStore
	store     *configstore.Store
	pool      *pool.Pool
	cache     *toolcache.Cache
	discovery *discovery.Engine
	toolsets  *toolset.Manager
	bus       *events.Bus
	log       *zap.Logger

	// activationGate serializes activation/deactivation: at most one in
	// flight process-wide (spec.md §5).
	activationGate sync.Mutex

	mu     sync.RWMutex
	active *ActiveState
}

// New constructs a persona Manager rooted at personaDir (spec.md §6's
// `personas/<name>/` layout).
func New(personaDir string, mcpConfig *configstore.MCPConfigStore, store *configstore.Store, p *pool.Pool, cache *toolcache.Cache, disc *discovery.Engine, toolsets *toolset.Manager, bus *events.Bus, log *zap.Logger) *Manager {
	return &Manager{
		root:      personaDir,
		mcpConfig: mcpConfig,
		store:     store,
		pool:      p,
		cache:     cache,
		discovery: disc,
		toolsets:  toolsets,
		bus:       bus,
		log:       log,
	}
}

// List enumerates available personas under the manager's root.
func (m *Manager) List() ([]Reference, error) {
	return Discover(m.root)
}

// ActiveState returns a copy of the current active persona state, or nil if
// none is active.
func (m *Manager) ActiveState() *ActiveState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return nil
	}
	cp := *m.active
	cp.Warnings = append([]string(nil), m.active.Warnings...)
	return &cp
}

// Activate runs the full 8-step workflow for name.
func (m *Manager) Activate(ctx context.Context, name string, opts ActivateOptions) (*ActiveState, error) {
	m.activationGate.Lock()
	defer m.activationGate.Unlock()

	// Step 1: deactivate a different active persona first.
	if cur := m.ActiveState(); cur != nil && cur.PersonaName != name {
		if err := m.deactivateLocked(ctx); err != nil {
			return nil, err
		}
	}

	// Step 2: locate and load.
	dir := filepath.Join(m.root, name)
	assets, ok := locateAssets(dir)
	if !ok {
		return nil, mcperrors.Persona(mcperrors.PersonaNotFound, "persona %q not found under %s", name, m.root)
	}
	manifest, err := LoadManifest(assets.configFile)
	if err != nil {
		if !opts.Force {
			return nil, err
		}
		manifest = &Manifest{Name: name}
	}

	// Step 3: determine toolset to equip.
	toolsetName := opts.Toolset
	if toolsetName == "" {
		toolsetName = manifest.DefaultToolset
	}

	// Step 4: snapshot for rollback.
	var snapshot map[string]transport.ServerConfig
	if opts.BackupState {
		snapshot = m.mcpConfig.Snapshot()
		raw, marshalErr := marshalServerConfigs(snapshot)
		if marshalErr == nil {
			_ = m.store.PutPersonaSnapshot(configstore.PersonaSnapshot{
				PersonaName:   name,
				ActiveToolset: m.currentToolsetName(),
				ServerConfigs: raw,
				CapturedAt:    time.Now(),
			})
		}
	}

	state := &ActiveState{PersonaName: name, ActivatedAt: time.Now(), ValidationPassed: err == nil}

	// Step 5: merge MCP config (if the persona carries one) and reconcile the pool.
	if assets.hasMCPConfig {
		personaServers, loadErr := loadServerConfigFile(assets.mcpConfigFile)
		if loadErr != nil {
			m.rollback(ctx, snapshot)
			return nil, mcperrors.Persona(mcperrors.ActivationFailed, "failed to load persona mcp config: %v", loadErr)
		}

		result, mergeErr := MergeConfigs(m.mcpConfig.Servers(), personaServers, opts.MergeOpts)
		if mergeErr != nil {
			m.rollback(ctx, snapshot)
			return nil, mcperrors.Persona(mcperrors.ActivationFailed, "mcp config merge failed: %v", mergeErr)
		}
		state.Warnings = append(state.Warnings, result.Warnings...)

		previous := m.mcpConfig.Servers()
		m.mcpConfig.Replace(result.Merged)
		if err := m.reconcilePool(ctx, previous, result.Merged); err != nil {
			m.rollback(ctx, snapshot)
			return nil, mcperrors.Persona(mcperrors.ActivationFailed, "failed to reconcile connection pool: %v", err)
		}
		state.MCPConfigApplied = true
	}

	// Step 6: bounded wait for discovery to see the new world (warnings, not errors).
	if assets.hasMCPConfig {
		m.waitForDiscovery(ctx, 20, 500*time.Millisecond)
	}

	// Step 7: apply the selected toolset (warning, not error, on failure).
	if toolsetName != "" {
		available, _ := m.cache.GetAll(ctx, true)
		if err := m.equipPersonaToolset(manifest, toolsetName, available); err != nil {
			state.Warnings = append(state.Warnings, fmt.Sprintf("toolset %q could not be fully applied: %v", toolsetName, err))
		} else {
			state.ActiveToolset = toolsetName
			state.ToolsResolved = len(m.toolsets.GetMCPTools())
		}
	}

	m.mu.Lock()
	m.active = state
	m.mu.Unlock()

	// Step 8: emit personaActivated.
	if m.bus != nil {
		m.bus.PublishPersonaActivated(events.PersonaActivated{PersonaName: name, ActiveToolset: state.ActiveToolset})
	}
	return state, nil
}

// Deactivate reverses activation: restores the snapshot and unequips the
// toolset. Idempotent — deactivating when nothing is active succeeds.
func (m *Manager) Deactivate(ctx context.Context) error {
	m.activationGate.Lock()
	defer m.activationGate.Unlock()
	return m.deactivateLocked(ctx)
}

func (m *Manager) deactivateLocked(ctx context.Context) error {
	cur := m.ActiveState()
	if cur == nil {
		return nil
	}

	snap, ok, err := m.store.GetPersonaSnapshot(cur.PersonaName)
	if err == nil && ok {
		if restored, unmarshalErr := unmarshalServerConfigs(snap.ServerConfigs); unmarshalErr == nil {
			m.rollback(ctx, restored)
		}
		_ = m.store.DeletePersonaSnapshot(cur.PersonaName)
	}
	m.toolsets.UnequipToolset()

	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.PublishPersonaDeactivated(events.PersonaDeactivated{PersonaName: cur.PersonaName})
	}
	return nil
}

// rollback restores a prior ServerConfig mapping and reconciles the pool
// against it, best-effort (errors are logged, not returned — the caller is
// already on a failure path).
func (m *Manager) rollback(ctx context.Context, snapshot map[string]transport.ServerConfig) {
	if snapshot == nil {
		return
	}
	previous := m.mcpConfig.Servers()
	m.mcpConfig.Restore(snapshot)
	if err := m.reconcilePool(ctx, previous, snapshot); err != nil && m.log != nil {
		m.log.Error("rollback reconcile failed", zap.Error(err))
	}
}

// reconcileSettleTimeout bounds how long reconcilePool waits for freshly
// (re)started entries to leave connecting/reconnecting before judging
// whether the reconcile succeeded.
const reconcileSettleTimeout = 10 * time.Second

// reconcilePool diffs desired against previous (the servers applied before
// this change), stopping removed servers, starting added ones, restarting
// ones whose config changed, and leaving unchanged servers untouched
// (spec.md §4.6 step 5). It then waits
// for every (re)started entry to settle and fails the reconcile if any of
// them lands in StateFailed, so a persona referencing a server with a bad
// command surfaces as an activation failure (spec.md §8 scenario 6)
// instead of a silent background retry loop.
func (m *Manager) reconcilePool(ctx context.Context, previous, desired map[string]transport.ServerConfig) error {
	current := m.pool.Status()
	currentNames := make(map[string]bool, len(current))
	for _, st := range current {
		currentNames[st.ServerName] = true
	}

	for name := range currentNames {
		if _, stillWanted := desired[name]; !stillWanted {
			m.pool.Remove(name)
		}
	}

	started := make(map[string]bool)
	for name, cfg := range desired {
		if !currentNames[name] {
			if err := m.pool.Add(ctx, cfg); err != nil {
				return err
			}
			started[name] = true
			continue
		}
		if prior, ok := previous[name]; ok && !reflect.DeepEqual(prior, cfg) {
			m.pool.Remove(name)
			if err := m.pool.Add(ctx, cfg); err != nil {
				return err
			}
			started[name] = true
		}
	}
	if len(started) == 0 {
		return nil
	}
	return m.waitForEntriesSettled(ctx, started, reconcileSettleTimeout)
}

// waitForEntriesSettled polls the pool until every name in names has left
// StateConnecting/StateReconnecting or the timeout elapses, then reports an
// error naming any entry that settled into StateFailed.
func (m *Manager) waitForEntriesSettled(ctx context.Context, names map[string]bool, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		settled := true
		failed := make([]string, 0)
		for _, st := range m.pool.Status() {
			if !names[st.ServerName] {
				continue
			}
			switch st.State {
			case pool.StateConnecting, pool.StateReconnecting:
				settled = false
			case pool.StateFailed:
				failed = append(failed, st.ServerName)
			}
		}
		if settled {
			if len(failed) > 0 {
				return mcperrors.Connection(nil, "server(s) %v failed to connect", failed)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return mcperrors.Connection(nil, "timed out waiting for server(s) to connect")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// waitForDiscovery polls the discovery engine up to attempts times,
// spaced by interval, refreshing every currently-connected server.
func (m *Manager) waitForDiscovery(ctx context.Context, attempts int, interval time.Duration) {
	for i := 0; i < attempts; i++ {
		for _, st := range m.pool.ListConnected() {
			m.discovery.ForceRefresh(ctx, st.ServerName)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// equipPersonaToolset equips the manifest's named toolset directly from its
// toolIds, or falls back to an already-stored toolset of the same name if
// the manifest defines no toolset with that name.
func (m *Manager) equipPersonaToolset(manifest *Manifest, toolsetName string, available []toolcache.Tool) error {
	spec, ok := manifest.ToolsetByName(toolsetName)
	if !ok {
		return m.toolsets.EquipToolset(toolsetName, available)
	}

	refs := make([]configstore.ToolReference, 0, len(spec.ToolIDs))
	for _, id := range spec.ToolIDs {
		refs = append(refs, configstore.ToolReference{NamespacedName: id})
	}
	result := m.toolsets.ValidateToolReferences(available, refs, false)
	if len(result.Invalid) > 0 && len(result.Valid) == 0 {
		return mcperrors.Persona(mcperrors.ActivationFailed, "toolset %q resolved zero of %d tool reference(s)", toolsetName, len(refs))
	}
	return m.toolsets.EquipResolved(toolsetName, result.ResolvedTools)
}

func (m *Manager) currentToolsetName() string {
	return m.toolsets.ActiveToolsetName()
}

// loadServerConfigFile reads a persona's sibling mcp.json-shaped file into a
// ServerConfig mapping, reusing the primary config store's own parser.
func loadServerConfigFile(path string) (map[string]transport.ServerConfig, error) {
	store := configstore.NewMCPConfigStore(path)
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store.Servers(), nil
}

func marshalServerConfigs(servers map[string]transport.ServerConfig) (map[string]json.RawMessage, error) {
	raw := make(map[string]json.RawMessage, len(servers))
	for name, cfg := range servers {
		data, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		raw[name] = data
	}
	return raw, nil
}

func unmarshalServerConfigs(raw map[string]json.RawMessage) (map[string]transport.ServerConfig, error) {
	servers := make(map[string]transport.ServerConfig, len(raw))
	for name, data := range raw {
		var cfg transport.ServerConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		servers[name] = cfg
	}
	return servers, nil
}
