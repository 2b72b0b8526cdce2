// Package workspace discovers the packages of a monorepo and turns them into
// graph nodes. Packages come either from package.json files found under the
// workspace root or from an explicit YAML tree manifest.
package workspace

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/Iron-Ham/treebuild/internal/errors"
	"github.com/Iron-Ham/treebuild/internal/graph"
)

// ManifestName is the manifest file looked up in the workspace root.
const ManifestName = "tree.yaml"

// DefaultPatterns are scanned when neither the caller nor the root
// package.json names workspace patterns.
var DefaultPatterns = []string{"*", "packages/*"}

// packageJSON holds the package.json fields discovery reads.
type packageJSON struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Workspaces           json.RawMessage   `json:"workspaces"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
}

func (p packageJSON) dependencyNames() []string {
	var names []string
	for _, deps := range []map[string]string{p.Dependencies, p.DevDependencies, p.PeerDependencies, p.OptionalDependencies} {
		for name := range deps {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// workspacePatterns decodes both the array form and the
// {"packages": [...]} form of the workspaces field.
func (p packageJSON) workspacePatterns() []string {
	if len(p.Workspaces) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(p.Workspaces, &list); err == nil {
		return list
	}
	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(p.Workspaces, &obj); err == nil {
		return obj.Packages
	}
	return nil
}

func readPackageJSON(path string) (packageJSON, error) {
	var pkg packageJSON
	data, err := os.ReadFile(path)
	if err != nil {
		return pkg, err
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return pkg, fmt.Errorf("parse %s: %w", path, err)
	}
	return pkg, nil
}

// Discover scans root for package directories matching patterns, which are
// glob patterns relative to root. With no patterns, the workspaces field of
// the root package.json is used, falling back to DefaultPatterns.
//
// Only dependencies on other discovered packages are kept. Two directories
// declaring the same package name are an error.
func Discover(root string, patterns []string) ([]graph.Package, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if info, err := os.Stat(absRoot); err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	} else if !info.IsDir() {
		return nil, errors.NewValidationError("workspace root is not a directory").WithField("root").WithValue(root)
	}

	if len(patterns) == 0 {
		if rootPkg, err := readPackageJSON(filepath.Join(absRoot, "package.json")); err == nil {
			patterns = rootPkg.workspacePatterns()
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	dirs, err := matchDirs(absRoot, patterns)
	if err != nil {
		return nil, err
	}

	type found struct {
		dir string
		pkg packageJSON
	}
	byName := make(map[string]found, len(dirs))
	for _, dir := range dirs {
		pkg, err := readPackageJSON(filepath.Join(dir, "package.json"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if pkg.Name == "" {
			continue
		}
		if prev, dup := byName[pkg.Name]; dup {
			return nil, errors.NewValidationError(fmt.Sprintf("package %q is declared in both %s and %s", pkg.Name, rel(absRoot, prev.dir), rel(absRoot, dir))).
				WithField("name").
				WithValue(pkg.Name)
		}
		byName[pkg.Name] = found{dir: dir, pkg: pkg}
	}

	pkgs := make([]graph.Package, 0, len(byName))
	for name, f := range byName {
		var deps []string
		for _, dep := range f.pkg.dependencyNames() {
			if _, local := byName[dep]; local && dep != name {
				deps = append(deps, dep)
			}
		}
		pkgs = append(pkgs, graph.Package{
			Name:         name,
			Path:         f.dir,
			Dependencies: deps,
			Version:      f.pkg.Version,
		})
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs, nil
}

// matchDirs expands patterns under root, skipping hidden and node_modules
// directories. The result is sorted and free of duplicates.
func matchDirs(root string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var dirs []string
	for _, pattern := range patterns {
		pattern = strings.TrimSuffix(strings.TrimPrefix(pattern, "./"), "/")
		if pattern == "" || strings.HasPrefix(pattern, "!") {
			continue
		}
		// "**" has no special meaning to filepath.Glob; treat it as one level.
		pattern = strings.ReplaceAll(pattern, "**", "*")
		matches, err := filepath.Glob(filepath.Join(root, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, errors.NewValidationError("invalid workspace pattern").
				WithField("patterns").
				WithValue(pattern).
				WithCause(err)
		}
		for _, m := range matches {
			if seen[m] || skipDir(root, m) {
				continue
			}
			if info, err := os.Stat(m); err != nil || !info.IsDir() {
				continue
			}
			seen[m] = true
			dirs = append(dirs, m)
		}
	}
	slices.Sort(dirs)
	return dirs, nil
}

func skipDir(root, dir string) bool {
	r, err := filepath.Rel(root, dir)
	if err != nil {
		return true
	}
	for part := range strings.SplitSeq(filepath.ToSlash(r), "/") {
		if part == "node_modules" || (strings.HasPrefix(part, ".") && part != ".") {
			return true
		}
	}
	return false
}

func rel(root, dir string) string {
	if r, err := filepath.Rel(root, dir); err == nil {
		return r
	}
	return dir
}
