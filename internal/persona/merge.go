package persona

import (
	"sort"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
	"github.com/hypertool-ai/mcp-proxy/internal/transport"
)

// MergeStrategy selects how a persona's own MCP config reconciles with the
// currently-loaded base config when both define the same server name.
type MergeStrategy string

const (
	MergePersonaWins MergeStrategy = "persona-wins"
	MergeBaseWins    MergeStrategy = "base-wins"
	MergeError       MergeStrategy = "error"
	// MergeUserChoice has no non-interactive definition (spec.md Open
	// Questions); treated as MergePersonaWins with an added warning.
	MergeUserChoice MergeStrategy = "user-choice"
)

// Resolver lets a caller override the merge strategy for one colliding
// server name.
type Resolver func(serverName string, base, persona transport.ServerConfig) (transport.ServerConfig, error)

// MergeOptions configures MergeConfigs.
type MergeOptions struct {
	Strategy         MergeStrategy
	MergeEnvironment bool
	PreserveBaseEnv  bool
	Resolver         Resolver
}

// MergeResult is the output of MergeConfigs, per spec.md §4.6's closing
// sentence.
type MergeResult struct {
	Merged    map[string]transport.ServerConfig
	Conflicts []string
	Warnings  []string
	Errors    []string
}

// MergeConfigs merges persona's ServerConfig mapping into base per opts.
// Servers present in only one side pass through unchanged; collisions are
// resolved per opts.Strategy (or opts.Resolver, if supplied).
func MergeConfigs(base, persona map[string]transport.ServerConfig, opts MergeOptions) (MergeResult, error) {
	result := MergeResult{Merged: make(map[string]transport.ServerConfig, len(base)+len(persona))}

	names := make([]string, 0, len(persona))
	for name := range persona {
		names = append(names, name)
	}
	sort.Strings(names)

	for name, cfg := range base {
		result.Merged[name] = cfg
	}

	for _, name := range names {
		personaCfg := persona[name]
		baseCfg, collides := base[name]
		if !collides {
			result.Merged[name] = personaCfg
			continue
		}

		result.Conflicts = append(result.Conflicts, name)

		var resolved transport.ServerConfig
		var err error
		switch {
		case opts.Resolver != nil:
			resolved, err = opts.Resolver(name, baseCfg, personaCfg)
		case opts.Strategy == MergeBaseWins:
			resolved = baseCfg
		case opts.Strategy == MergeError:
			err = mcperrors.Persona(mcperrors.MCPConfigConflict, "server %q is defined by both base and persona configs", name)
		default: // MergePersonaWins, MergeUserChoice
			resolved = personaCfg
			if opts.Strategy == MergeUserChoice {
				result.Warnings = append(result.Warnings, "user-choice strategy unavailable in non-interactive runtime; server "+name+" resolved persona-wins")
			}
		}
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		if opts.MergeEnvironment && baseCfg.Kind == transport.KindStdio && personaCfg.Kind == transport.KindStdio {
			resolved.Env = mergeEnvironment(baseCfg.Env, personaCfg.Env, opts.PreserveBaseEnv)
		}

		result.Merged[name] = resolved
		result.Warnings = append(result.Warnings, "conflict resolved for server "+name)
	}

	if len(result.Errors) > 0 {
		return result, mcperrors.Persona(mcperrors.MCPConfigConflict, "%d server config conflict(s) could not be resolved", len(result.Errors))
	}
	return result, nil
}

// mergeEnvironment unions two stdio servers' env maps. When preserveBase is
// true, base values win on key collision within the union; otherwise
// persona values win.
func mergeEnvironment(base, persona map[string]string, preserveBase bool) map[string]string {
	merged := make(map[string]string, len(base)+len(persona))
	if preserveBase {
		for k, v := range persona {
			merged[k] = v
		}
		for k, v := range base {
			merged[k] = v
		}
	} else {
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range persona {
			merged[k] = v
		}
	}
	return merged
}
