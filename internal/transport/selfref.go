package transport

import "strings"

// ProxyBinaryName is the self-reference guard's anchor: a stdio ServerConfig
// whose command or args name this binary or its module path would recurse
// this process into itself.
const ProxyBinaryName = "hypertool-mcp-proxy"

// ProxyPackageIdentifier is matched against npx/node argv so that
// `npx hypertool-mcp-proxy` is caught the same way a direct invocation is.
const ProxyPackageIdentifier = "hypertool-ai/mcp-proxy"

// IsSelfReference reports whether cfg, if started as a stdio server, would
// launch this very proxy. False positives are acceptable (spec.md §9) — we
// refuse and log a warning rather than risk an infinite recursion.
func IsSelfReference(cfg ServerConfig) bool {
	if cfg.Kind != KindStdio {
		return false
	}
	base := lastPathElement(cfg.Command)
	if base == ProxyBinaryName || strings.Contains(base, ProxyBinaryName) {
		return true
	}
	if base == "npx" || base == "node" || base == "npm" {
		for _, a := range cfg.Args {
			if strings.Contains(a, ProxyBinaryName) || strings.Contains(a, ProxyPackageIdentifier) {
				return true
			}
		}
	}
	return false
}

func lastPathElement(path string) string {
	if i := strings.LastIndexAny(path, "/\\"); i >= 0 {
		return path[i+1:]
	}
	return path
}
