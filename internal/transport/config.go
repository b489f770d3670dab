// Package transport owns the per-server JSON-RPC transport: spawning stdio
// children, dialing streamable HTTP sessions, or opening SSE streams, all
// behind the single Connection contract the pool drives.
package transport

import "github.com/hypertool-ai/mcp-proxy/internal/mcperrors"

// Kind identifies which ServerConfig variant a downstream server uses.
type Kind string

const (
	KindStdio     Kind = "stdio"
	KindHTTP      Kind = "http"
	KindSSE       Kind = "sse"
	KindExtension Kind = "extension"
)

// ServerConfig is the tagged variant from spec.md §3. Exactly one of the
// variant-specific field groups is populated, matching Kind.
type ServerConfig struct {
	Name string
	Kind Kind

	// stdio
	Command string
	Args    []string
	Env     map[string]string

	// http / sse
	URL     string
	Headers map[string]string

	// extension: resolved to one of the above before the pool ever sees it.
	ExtensionPath string
}

// Validate checks the tag/field-group invariant from spec.md §3.
func (c ServerConfig) Validate() error {
	if c.Name == "" {
		return mcperrors.Configuration("server config missing name")
	}
	switch c.Kind {
	case KindStdio:
		if c.Command == "" {
			return mcperrors.Configuration("stdio server %q missing command", c.Name)
		}
	case KindHTTP, KindSSE:
		if c.URL == "" {
			return mcperrors.Configuration("%s server %q missing url", c.Kind, c.Name)
		}
	case KindExtension:
		if c.ExtensionPath == "" {
			return mcperrors.Configuration("extension server %q missing path", c.Name)
		}
	default:
		return mcperrors.Configuration("server %q has unknown transport kind %q", c.Name, c.Kind)
	}
	return nil
}
