package persona

import (
	"os"
	"path/filepath"
)

// Reference is the lightweight listing spec.md §4.6 asks discovery to
// return, before the full manifest is loaded/validated.
type Reference struct {
	Name      string
	Path      string
	IsValid   bool
	IsArchive bool
}

const (
	manifestBaseName  = "persona"
	mcpConfigBaseName = "mcp.json"
	archiveExtension  = ".htp"
)

// manifestCandidates are tried in order inside a persona directory.
var manifestCandidates = []string{manifestBaseName + ".yaml", manifestBaseName + ".yml"}

// manifestPath returns the manifest file path inside dir, if one exists.
func manifestPath(dir string) (string, bool) {
	for _, candidate := range manifestCandidates {
		p := filepath.Join(dir, candidate)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// mcpConfigPath returns the optional MCP-config sibling file, if present.
func mcpConfigPath(dir string) (string, bool) {
	p := filepath.Join(dir, mcpConfigBaseName)
	if info, err := os.Stat(p); err == nil && !info.IsDir() {
		return p, true
	}
	return "", false
}

// Discover enumerates persona directories under root: every immediate
// subdirectory (IsValid reports whether it carries a manifest file) and
// every `.htp` archive file. Out of scope: reading inside `.htp` archives (spec.md §1 — the
// archive format beyond "a directory tree with a manifest" is an external
// collaborator); archives are listed but never loaded.
func Discover(root string) ([]Reference, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	refs := make([]Reference, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(root, name)

		if !entry.IsDir() {
			if filepath.Ext(name) == archiveExtension {
				refs = append(refs, Reference{Name: trimArchiveExt(name), Path: path, IsArchive: true})
			}
			continue
		}

		_, hasManifest := manifestPath(path)
		refs = append(refs, Reference{Name: name, Path: path, IsValid: hasManifest})
	}
	return refs, nil
}

func trimArchiveExt(name string) string {
	return name[:len(name)-len(archiveExtension)]
}

// assets resolves a loaded persona's on-disk asset paths.
type assets struct {
	configFile    string
	mcpConfigFile string
	hasMCPConfig  bool
}

func locateAssets(dir string) (assets, bool) {
	manifest, ok := manifestPath(dir)
	if !ok {
		return assets{}, false
	}
	cfg, hasCfg := mcpConfigPath(dir)
	return assets{configFile: manifest, mcpConfigFile: cfg, hasMCPConfig: hasCfg}, true
}
