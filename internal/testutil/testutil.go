// Package testutil provides fixtures for tests that need a workspace on disk.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Pkg describes a fixture package.
type Pkg struct {
	Name string
	Deps []string
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// SetupManifestWorkspace creates a temporary workspace with a tree.yaml
// listing pkgs, and one directory per package named after it. Returns the
// workspace root.
func SetupManifestWorkspace(t *testing.T, pkgs ...Pkg) string {
	t.Helper()
	root := t.TempDir()

	var b strings.Builder
	b.WriteString("packages:\n")
	for _, p := range pkgs {
		b.WriteString("  - name: " + p.Name + "\n")
		if len(p.Deps) > 0 {
			b.WriteString("    dependencies: [" + strings.Join(p.Deps, ", ") + "]\n")
		}
		if err := os.MkdirAll(filepath.Join(root, p.Name), 0o755); err != nil {
			t.Fatalf("failed to create package dir: %v", err)
		}
	}
	WriteFile(t, filepath.Join(root, "tree.yaml"), b.String())
	return root
}

// WritePackageJSON writes dir/package.json for a package whose local
// dependencies are listed in "dependencies" with a workspace version.
func WritePackageJSON(t *testing.T, dir string, p Pkg) {
	t.Helper()
	doc := map[string]any{"name": p.Name, "version": "1.0.0"}
	if len(p.Deps) > 0 {
		deps := make(map[string]string, len(p.Deps))
		for _, d := range p.Deps {
			deps[d] = "workspace:*"
		}
		doc["dependencies"] = deps
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatalf("failed to encode package.json: %v", err)
	}
	WriteFile(t, filepath.Join(dir, "package.json"), string(data))
}
