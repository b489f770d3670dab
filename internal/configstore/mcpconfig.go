// Package configstore owns the proxy's on-disk state: the primary
// mcp.json ServerConfig mapping (loaded via viper, re-read only on explicit
// command per spec.md §6 — never watched) and the durable bbolt store for
// stored toolsets and persona rollback snapshots. Grounded on the teacher's
// cmd/mcp-broker-router/main.go LoadConfig (viper.SetConfigFile +
// ReadInConfig + UnmarshalKey), with the teacher's viper.WatchConfig +
// fsnotify.OnConfigChange half deliberately dropped.
package configstore

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/spf13/viper"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
	"github.com/hypertool-ai/mcp-proxy/internal/transport"
)

// rawServerConfig mirrors the on-disk JSON shape of one mcpServers entry;
// the active field set is determined by Type.
type rawServerConfig struct {
	Type    string            `mapstructure:"type" json:"type"`
	Command string            `mapstructure:"command" json:"command,omitempty"`
	Args    []string          `mapstructure:"args" json:"args,omitempty"`
	Env     map[string]string `mapstructure:"env" json:"env,omitempty"`
	URL     string            `mapstructure:"url" json:"url,omitempty"`
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	Path    string            `mapstructure:"path" json:"path,omitempty"`
}

func (r rawServerConfig) toServerConfig(name string) (transport.ServerConfig, error) {
	cfg := transport.ServerConfig{Name: name, Kind: transport.Kind(r.Type)}
	switch cfg.Kind {
	case transport.KindStdio:
		cfg.Command, cfg.Args, cfg.Env = r.Command, r.Args, r.Env
	case transport.KindHTTP, transport.KindSSE:
		cfg.URL, cfg.Headers = r.URL, r.Headers
	case transport.KindExtension:
		cfg.ExtensionPath = r.Path
	default:
		return cfg, mcperrors.Configuration("server %q has unknown transport type %q", name, r.Type)
	}
	return cfg, cfg.Validate()
}

// MCPConfigStore owns the load-once-per-explicit-command primary
// ServerConfig mapping.
type MCPConfigStore struct {
	path string

	mu      sync.RWMutex
	servers map[string]transport.ServerConfig
}

// NewMCPConfigStore constructs a store bound to path, without loading it —
// call Load explicitly.
func NewMCPConfigStore(path string) *MCPConfigStore {
	return &MCPConfigStore{path: path, servers: make(map[string]transport.ServerConfig)}
}

// Load reads path's `mcpServers` map. Safe to call again later to re-read
// the file; nothing watches it, so it is re-read only when a caller calls
// Load — spec.md §6 forbids only automatic fs-watch reloads, not explicit ones.
func (s *MCPConfigStore) Load() error {
	v := viper.New()
	v.SetConfigFile(s.path)
	if err := v.ReadInConfig(); err != nil {
		return mcperrors.Configuration("failed to read mcp config %s: %v", s.path, err)
	}

	var raw map[string]rawServerConfig
	if err := v.UnmarshalKey("mcpServers", &raw); err != nil {
		return mcperrors.Configuration("failed to decode mcpServers in %s: %v", s.path, err)
	}

	servers := make(map[string]transport.ServerConfig, len(raw))
	for name, r := range raw {
		cfg, err := r.toServerConfig(name)
		if err != nil {
			return err
		}
		servers[name] = cfg
	}

	s.mu.Lock()
	s.servers = servers
	s.mu.Unlock()
	return nil
}

// Servers returns a snapshot of every configured server.
func (s *MCPConfigStore) Servers() map[string]transport.ServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]transport.ServerConfig, len(s.servers))
	for k, v := range s.servers {
		out[k] = v
	}
	return out
}

// Get returns one server's config by name.
func (s *MCPConfigStore) Get(name string) (transport.ServerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.servers[name]
	return cfg, ok
}

// Put adds or replaces a server entry in memory; callers persist it with
// Save.
func (s *MCPConfigStore) Put(cfg transport.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.servers[cfg.Name] = cfg
	s.mu.Unlock()
	return nil
}

// Remove deletes a server entry by name, reporting whether it existed.
func (s *MCPConfigStore) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[name]; !ok {
		return false
	}
	delete(s.servers, name)
	return true
}

// Replace atomically swaps the full server map — used by the persona
// manager's merge/rollback path (spec.md §4.6).
func (s *MCPConfigStore) Replace(servers map[string]transport.ServerConfig) {
	s.mu.Lock()
	s.servers = servers
	s.mu.Unlock()
}

// Snapshot returns a deep-enough copy of the current mapping suitable for
// later Restore, per spec.md §4.6's backupState step.
func (s *MCPConfigStore) Snapshot() map[string]transport.ServerConfig {
	return s.Servers()
}

// Restore replaces the current mapping with a prior Snapshot.
func (s *MCPConfigStore) Restore(snapshot map[string]transport.ServerConfig) {
	s.Replace(snapshot)
}

// Path returns the file path this store loads from, for display/logging.
func (s *MCPConfigStore) Path() string { return s.path }

// Save persists the in-memory server map back to the mcpServers block of
// Path, preserving any other top-level keys (e.g. a metadata block) already
// on disk, for the `mcp add/remove` CLI commands.
func (s *MCPConfigStore) Save() error {
	root := map[string]json.RawMessage{}
	if data, err := os.ReadFile(s.path); err == nil {
		_ = json.Unmarshal(data, &root)
	}

	s.mu.RLock()
	raw := make(map[string]rawServerConfig, len(s.servers))
	for name, cfg := range s.servers {
		raw[name] = toRawServerConfig(cfg)
	}
	s.mu.RUnlock()

	encoded, err := json.Marshal(raw)
	if err != nil {
		return mcperrors.Internal(err, "failed to marshal mcpServers block")
	}
	root["mcpServers"] = encoded

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return mcperrors.Internal(err, "failed to marshal mcp config %s", s.path)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return mcperrors.Configuration("failed to write mcp config %s: %v", s.path, err)
	}
	return nil
}

// toRawServerConfig is the inverse of rawServerConfig.toServerConfig.
func toRawServerConfig(cfg transport.ServerConfig) rawServerConfig {
	r := rawServerConfig{Type: string(cfg.Kind)}
	switch cfg.Kind {
	case transport.KindStdio:
		r.Command, r.Args, r.Env = cfg.Command, cfg.Args, cfg.Env
	case transport.KindHTTP, transport.KindSSE:
		r.URL, r.Headers = cfg.URL, cfg.Headers
	case transport.KindExtension:
		r.Path = cfg.ExtensionPath
	}
	return r
}
