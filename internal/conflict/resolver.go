// Package conflict maps the raw (serverName, toolName) pairs the discovery
// engine produces to external names that are guaranteed unique, per one of
// the six strategies spec.md §4.3 enumerates.
package conflict

import (
	"sort"
	"strings"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
	"github.com/hypertool-ai/mcp-proxy/internal/toolcache"
)

// Strategy names one of the six resolution strategies.
type Strategy string

const (
	StrategyNamespace Strategy = "namespace"
	StrategySuffix     Strategy = "suffix"
	StrategyPriority   Strategy = "priority"
	StrategyFirst      Strategy = "first"
	StrategyMerge      Strategy = "merge"
	StrategyError      Strategy = "error"
)

// Options configures a Resolver.
type Options struct {
	Strategy Strategy
	// Separator joins serverName and toolName for namespace/suffix. Default ".".
	Separator string
	// PriorityOrder is the ordered list of server names used by StrategyPriority.
	PriorityOrder []string
}

// DefaultOptions is spec.md §4.3's default: namespace strategy, "." separator.
func DefaultOptions() Options {
	return Options{Strategy: StrategyNamespace, Separator: "."}
}

// Resolved is one entry of a resolver's output: an external name bound to
// one (or, for merge, more than one) underlying tool.
type Resolved struct {
	ExternalName   string
	NamespacedName string
	ServerNames    []string // len > 1 only for a successful merge
	Tool           toolcache.Tool
}

// Resolver maps a raw tool list to a conflict-free external naming.
type Resolver struct {
	opts Options
}

// New constructs a Resolver. Separator defaults to "." if unset.
func New(opts Options) *Resolver {
	if opts.Separator == "" {
		opts.Separator = "."
	}
	return &Resolver{opts: opts}
}

// Resolve applies the configured strategy to tools, returning a list with
// no two entries sharing ExternalName.
func (r *Resolver) Resolve(tools []toolcache.Tool) ([]Resolved, error) {
	groups := groupByName(tools)

	// Stable output order: by tool name, then by server name within a group.
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Resolved
	for _, name := range names {
		group := groups[name]
		sort.Slice(group, func(i, j int) bool { return group[i].ServerName < group[j].ServerName })

		if len(group) == 1 {
			out = append(out, r.single(group[0]))
			continue
		}

		resolved, err := r.resolveCollision(name, group)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved...)
	}
	return out, nil
}

func groupByName(tools []toolcache.Tool) map[string][]toolcache.Tool {
	groups := make(map[string][]toolcache.Tool)
	for _, t := range tools {
		groups[t.Name] = append(groups[t.Name], t)
	}
	return groups
}

func (r *Resolver) single(t toolcache.Tool) Resolved {
	return Resolved{
		ExternalName:   r.namespaced(t),
		NamespacedName: t.NamespacedName(),
		ServerNames:    []string{t.ServerName},
		Tool:           t,
	}
}

func (r *Resolver) namespaced(t toolcache.Tool) string {
	return t.ServerName + r.opts.Separator + t.Name
}

func (r *Resolver) suffixed(t toolcache.Tool) string {
	return t.Name + r.opts.Separator + t.ServerName
}

func (r *Resolver) resolveCollision(toolName string, group []toolcache.Tool) ([]Resolved, error) {
	switch r.opts.Strategy {
	case StrategySuffix:
		out := make([]Resolved, 0, len(group))
		for _, t := range group {
			out = append(out, Resolved{ExternalName: r.suffixed(t), NamespacedName: t.NamespacedName(), ServerNames: []string{t.ServerName}, Tool: t})
		}
		return out, nil

	case StrategyPriority:
		winner := r.byPriority(group)
		return []Resolved{{ExternalName: toolName, NamespacedName: winner.NamespacedName(), ServerNames: []string{winner.ServerName}, Tool: winner}}, nil

	case StrategyFirst:
		winner := group[0]
		for _, t := range group[1:] {
			if t.DiscoveredAt.Before(winner.DiscoveredAt) {
				winner = t
			}
		}
		return []Resolved{{ExternalName: toolName, NamespacedName: winner.NamespacedName(), ServerNames: []string{winner.ServerName}, Tool: winner}}, nil

	case StrategyMerge:
		if allSameHash(group) {
			serverNames := make([]string, 0, len(group))
			for _, t := range group {
				serverNames = append(serverNames, t.ServerName)
			}
			return []Resolved{{
				ExternalName:   toolName,
				NamespacedName: group[0].NamespacedName(),
				ServerNames:    serverNames,
				Tool:           group[0],
			}}, nil
		}
		// Fall back to namespace when the colliding tools disagree on shape.
		out := make([]Resolved, 0, len(group))
		for _, t := range group {
			out = append(out, r.single(t))
		}
		return out, nil

	case StrategyError:
		servers := make([]string, 0, len(group))
		for _, t := range group {
			servers = append(servers, t.ServerName)
		}
		return nil, mcperrors.Validation("tool %q collides across servers %s; resolve with a conflict strategy", toolName, strings.Join(servers, ", "))

	case StrategyNamespace, "":
		fallthrough
	default:
		out := make([]Resolved, 0, len(group))
		for _, t := range group {
			out = append(out, r.single(t))
		}
		return out, nil
	}
}

func (r *Resolver) byPriority(group []toolcache.Tool) toolcache.Tool {
	rank := make(map[string]int, len(r.opts.PriorityOrder))
	for i, name := range r.opts.PriorityOrder {
		rank[name] = i
	}
	best := group[0]
	bestRank, ok := rank[best.ServerName]
	if !ok {
		bestRank = len(r.opts.PriorityOrder)
	}
	for _, t := range group[1:] {
		tr, ok := rank[t.ServerName]
		if !ok {
			tr = len(r.opts.PriorityOrder)
		}
		if tr < bestRank {
			best, bestRank = t, tr
		}
	}
	return best
}

func allSameHash(group []toolcache.Tool) bool {
	if len(group) == 0 {
		return true
	}
	first := group[0].ToolHash
	for _, t := range group[1:] {
		if t.ToolHash != first {
			return false
		}
	}
	return true
}
