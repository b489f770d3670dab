// Package toolcache is the discovery engine's authoritative store of "what
// tools every connected server currently exposes". Grounded on the
// teacher's internal/session/cache.go dual in-memory/redis Cache: same
// functional-options constructor, same inmemory-vs-extClient switch,
// generalized from session-id strings to DiscoveredTool records and from a
// flat key to the (serverName, toolName) composite the spec requires.
package toolcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ServerStatus is the connectivity state a cached tool's source server was
// in as of its last refresh.
type ServerStatus string

const (
	ServerConnected    ServerStatus = "connected"
	ServerDisconnected ServerStatus = "disconnected"
	ServerError        ServerStatus = "error"
)

// Tool is the spec.md §3 DiscoveredTool record.
type Tool struct {
	Name          string
	ServerName    string
	InputSchema   map[string]any
	Description   string
	DiscoveredAt  time.Time
	LastUpdated   time.Time
	ServerStatus  ServerStatus
	ToolHash      string
}

// NamespacedName is serverName + "." + name.
func (t Tool) NamespacedName() string {
	return t.ServerName + "." + t.Name
}

// hashPayload is the exact, and only, shape hashed into ToolHash — deliberately
// excluding description so cosmetic server-side prose edits never invalidate
// a stored refId (spec.md §3).
type hashPayload struct {
	Name        string         `json:"name"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Hash computes toolHash: sha256 over the canonical (sorted-key) JSON
// encoding of {name, inputSchema}. encoding/json already sorts map keys, so
// a plain Marshal is canonical here.
func Hash(name string, inputSchema map[string]any) string {
	payload := hashPayload{Name: name, InputSchema: inputSchema}
	data, err := json.Marshal(payload)
	if err != nil {
		// inputSchema is always decoded from a tools/list response, i.e.
		// already valid JSON; Marshal cannot fail on it.
		data = []byte(name)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
