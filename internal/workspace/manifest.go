package workspace

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/graph"
)

// Manifest is an explicit package list, used when the tree is not a
// package.json workspace:
//
//	command: make build
//	packages:
//	  - name: core
//	    path: libs/core
//	  - name: api
//	    path: services/api
//	    dependencies: [core]
type Manifest struct {
	// Command is the default command for `tree run` when none is given.
	Command string `yaml:"command,omitempty"`

	Packages []graph.Package `yaml:"packages"`
}

// LoadManifest reads a YAML tree manifest. Relative package paths are
// resolved against the manifest's directory; a package without a path
// defaults to a directory named after it.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && err != io.EOF {
		return nil, errors.NewValidationError("invalid manifest").
			WithField("manifest").
			WithValue(path).
			WithCause(err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve manifest directory: %w", err)
	}
	seen := make(map[string]bool, len(m.Packages))
	for i := range m.Packages {
		p := &m.Packages[i]
		if p.Name == "" {
			return nil, errors.NewValidationError(fmt.Sprintf("manifest package #%d has no name", i+1)).WithField("packages")
		}
		if seen[p.Name] {
			return nil, errors.NewValidationError(fmt.Sprintf("package %q is listed more than once", p.Name)).
				WithField("packages").
				WithValue(p.Name)
		}
		seen[p.Name] = true
		if p.Path == "" {
			p.Path = p.Name
		}
		if !filepath.IsAbs(p.Path) {
			p.Path = filepath.Join(base, filepath.FromSlash(p.Path))
		}
	}
	return &m, nil
}

// Load returns the packages of the workspace at root. An explicit manifest
// path wins; otherwise root/tree.yaml is used when present, and package.json
// discovery otherwise. The returned command is the manifest's default
// command, if any.
func Load(root, manifest string, patterns []string) ([]graph.Package, string, error) {
	if manifest == "" {
		candidate := filepath.Join(root, ManifestName)
		if _, err := os.Stat(candidate); err == nil {
			manifest = candidate
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
	}
	if manifest != "" {
		m, err := LoadManifest(manifest)
		if err != nil {
			return nil, "", err
		}
		return m.Packages, m.Command, nil
	}
	pkgs, err := Discover(root, patterns)
	return pkgs, "", err
}
