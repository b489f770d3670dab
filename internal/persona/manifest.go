// Package persona discovers persona directories, loads and validates their
// manifests, and runs the activation/deactivation workflow that atomically
// swaps the downstream server world and active toolset for a named persona.
// Grounded on the teacher's internal/broker/config_handler.go (sigs.k8s.io/yaml
// unmarshal of a config body) for manifest parsing, generalized from an HTTP
// request body to a file on disk.
package persona

import (
	"os"
	"regexp"

	"sigs.k8s.io/yaml"

	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
)

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9-]{0,63}$`)

// ToolsetSpec is one {name, toolIds} entry inside a persona manifest.
type ToolsetSpec struct {
	Name    string   `json:"name"`
	ToolIDs []string `json:"toolIds"`
}

// Manifest is the on-disk shape of persona.yaml/.yml, per spec.md §3's
// PersonaConfig.
type Manifest struct {
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Version        string            `json:"version,omitempty"`
	Toolsets       []ToolsetSpec     `json:"toolsets"`
	DefaultToolset string            `json:"defaultToolset,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate enforces spec.md §3's PersonaConfig invariants.
func (m *Manifest) Validate() error {
	if !nameRe.MatchString(m.Name) {
		return mcperrors.Persona(mcperrors.PersonaValidation, "persona name %q must be hyphen-lowercase", m.Name)
	}
	if n := len(m.Description); n < 10 || n > 500 {
		return mcperrors.Persona(mcperrors.PersonaValidation, "persona %q description must be 10-500 chars, got %d", m.Name, n)
	}

	seenToolset := make(map[string]bool, len(m.Toolsets))
	for _, ts := range m.Toolsets {
		if seenToolset[ts.Name] {
			return mcperrors.Persona(mcperrors.PersonaValidation, "persona %q: duplicate toolset name %q", m.Name, ts.Name)
		}
		seenToolset[ts.Name] = true

		if len(ts.ToolIDs) == 0 {
			return mcperrors.Persona(mcperrors.PersonaValidation, "persona %q: toolset %q has no toolIds", m.Name, ts.Name)
		}
		seenTool := make(map[string]bool, len(ts.ToolIDs))
		for _, id := range ts.ToolIDs {
			if seenTool[id] {
				return mcperrors.Persona(mcperrors.PersonaValidation, "persona %q: toolset %q has duplicate toolId %q", m.Name, ts.Name, id)
			}
			seenTool[id] = true
		}
	}

	if m.DefaultToolset != "" && !seenToolset[m.DefaultToolset] {
		return mcperrors.Persona(mcperrors.PersonaValidation, "persona %q: defaultToolset %q is not one of its toolsets", m.Name, m.DefaultToolset)
	}
	return nil
}

// ToolsetByName returns the named toolset spec, if present.
func (m *Manifest) ToolsetByName(name string) (ToolsetSpec, bool) {
	for _, ts := range m.Toolsets {
		if ts.Name == name {
			return ts, true
		}
	}
	return ToolsetSpec{}, false
}

// LoadManifest reads and parses a persona manifest file, then validates it.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mcperrors.Persona(mcperrors.PersonaNotFound, "failed to read persona manifest %s: %v", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, mcperrors.Persona(mcperrors.PersonaValidation, "failed to parse persona manifest %s: %v", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
