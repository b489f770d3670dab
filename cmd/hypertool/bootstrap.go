package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/hypertool-ai/mcp-proxy/internal/configstore"
	"github.com/hypertool-ai/mcp-proxy/internal/discovery"
	"github.com/hypertool-ai/mcp-proxy/internal/events"
	"github.com/hypertool-ai/mcp-proxy/internal/logging"
	"github.com/hypertool-ai/mcp-proxy/internal/persona"
	"github.com/hypertool-ai/mcp-proxy/internal/pool"
	"github.com/hypertool-ai/mcp-proxy/internal/router"
	"github.com/hypertool-ai/mcp-proxy/internal/session"
	"github.com/hypertool-ai/mcp-proxy/internal/toolcache"
	"github.com/hypertool-ai/mcp-proxy/internal/toolset"
)

const (
	brandDirName = ".hypertool"
	appDirName   = "mcp-proxy"
)

// statePaths is spec.md §6's "Persisted state layout" rooted at
// <home>/.hypertool/mcp-proxy/.
type statePaths struct {
	root      string
	mcpConfig string
	prefs     string
	personas  string
	logFile   string
}

// resolveStatePaths honors HYPERTOOL_TEST_CONFIG as a full override of the
// state root, for test suites that don't want to touch the real home
// directory.
func resolveStatePaths() (statePaths, error) {
	root := os.Getenv("HYPERTOOL_TEST_CONFIG")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return statePaths{}, err
		}
		root = filepath.Join(home, brandDirName, appDirName)
	}
	return statePaths{
		root:      root,
		mcpConfig: filepath.Join(root, "mcp.json"),
		prefs:     filepath.Join(root, "preferences.bbolt"),
		personas:  filepath.Join(root, "personas"),
		logFile:   filepath.Join(root, "logs", "hypertool-mcp-proxy.log"),
	}, nil
}

func (p statePaths) ensureDirs() error {
	for _, dir := range []string{p.root, p.personas, filepath.Join(p.root, "logs"), filepath.Join(p.root, "backups")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// bootstrapOptions carries the few knobs that vary between `mcp run` and
// the one-shot persona/mcp subcommands.
type bootstrapOptions struct {
	logLevel       string
	stdioTransport bool
	mcpConfigPath  string // overrides statePaths.mcpConfig when non-empty, for --mcp-config
}

// runtime bundles every long-lived component `mcp run` and the persona
// commands share, wired in the same dependency order internal/persona's
// Manager constructor expects (pool and discovery before toolsets and
// personas, toolsets before personas).
type runtime struct {
	log       *zap.Logger
	paths     statePaths
	store     *configstore.Store
	mcpConfig *configstore.MCPConfigStore
	cache     *toolcache.Cache
	bus       *events.Bus
	pool      *pool.Pool
	discovery *discovery.Engine
	toolsets  *toolset.Manager
	router    *router.Router
	personas  *persona.Manager
	sessions  *session.Tracker
}

// newRuntime opens every persisted store and wires the in-memory
// components together, but does not start the discovery engine's
// background loop or dial any downstream server — callers that need a live
// topology call connectAll and, for `mcp run`, the discovery engine's Start.
func newRuntime(ctx context.Context, opts bootstrapOptions) (*runtime, error) {
	paths, err := resolveStatePaths()
	if err != nil {
		return nil, err
	}
	if err := paths.ensureDirs(); err != nil {
		return nil, err
	}

	personaDir := paths.personas
	if override := os.Getenv("HYPERTOOL_PERSONA_DIR"); override != "" {
		personaDir = override
	}

	logCfg := logging.DefaultConfig()
	logCfg.FilePath = paths.logFile
	logCfg.StdioTransport = opts.stdioTransport
	if opts.logLevel != "" {
		logCfg.Level = opts.logLevel
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}

	store, err := configstore.Open(paths.prefs)
	if err != nil {
		return nil, err
	}

	mcpConfigPath := paths.mcpConfig
	if opts.mcpConfigPath != "" {
		mcpConfigPath = opts.mcpConfigPath
	}
	mcpConfig := configstore.NewMCPConfigStore(mcpConfigPath)
	if err := mcpConfig.Load(); err != nil {
		log.Warn("starting with an empty mcp config", zap.Error(err))
	}

	cache, err := toolcache.New(ctx)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()

	poolOpts := pool.DefaultOptions()
	if raw := os.Getenv("HYPERTOOL_MAX_CONNECTIONS"); raw != "" {
		if n, convErr := strconv.Atoi(raw); convErr == nil && n > 0 {
			poolOpts.MaxConcurrentConnections = n
		} else {
			log.Warn("ignoring malformed HYPERTOOL_MAX_CONNECTIONS", zap.String("value", raw))
		}
	}
	connPool := pool.New(poolOpts, log, bus)

	disc := discovery.New(connPool, cache, bus, discovery.DefaultOptions(), log)
	toolsets := toolset.New(store, bus)
	dispatcher := router.New(toolsets, cache, connPool, router.DefaultOptions())
	personas := persona.New(personaDir, mcpConfig, store, connPool, cache, disc, toolsets, bus, log)

	sessionCache, err := session.NewCache(ctx)
	if err != nil {
		return nil, err
	}
	sessions := session.NewTracker(sessionCache, newSlogSink(paths.logFile))

	return &runtime{
		log:       log,
		paths:     paths,
		store:     store,
		mcpConfig: mcpConfig,
		cache:     cache,
		bus:       bus,
		pool:      connPool,
		discovery: disc,
		toolsets:  toolsets,
		router:    dispatcher,
		personas:  personas,
		sessions:  sessions,
	}, nil
}

// connectAll adds every server in the mcp config to the pool, letting each
// entry's own retry/backoff loop establish the connection in the
// background.
func (rt *runtime) connectAll(ctx context.Context) {
	for name, cfg := range rt.mcpConfig.Servers() {
		if err := rt.pool.Add(ctx, cfg); err != nil {
			rt.log.Warn("failed to register configured server", zap.String("server", name), zap.Error(err))
		}
	}
}

// shutdown tears the runtime down in reverse construction order.
func (rt *runtime) shutdown() {
	rt.pool.Shutdown()
	if err := rt.cache.Close(); err != nil {
		rt.log.Warn("failed to close tool cache", zap.Error(err))
	}
	if err := rt.store.Close(); err != nil {
		rt.log.Warn("failed to close preferences store", zap.Error(err))
	}
	_ = rt.log.Sync()
}

// newSlogSink builds the slog.Logger internal/session.Tracker logs through,
// appending to the same rotated file zap writes to. internal/session
// predates this module's zap adoption, so it keeps its original slog
// interface rather than taking a dependency on zap.
func newSlogSink(logFile string) *slog.Logger {
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewJSONHandler(f, nil))
}
