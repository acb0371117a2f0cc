package ruleset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Source kinds, matching the store's.
const (
	KindVariables  = "variables"
	KindParameters = "parameters"
)

// File is one rule-set source found under a root.
type File struct {
	Path   string // relative to the root, slash separated
	Kind   string
	Prefix string // parameter tree path for parameter files
}

var skipDirs = map[string]bool{
	".git":         true,
	"__pycache__":  true,
	"node_modules": true,
	"tests":        true,
}

// Discover walks fsys and returns its variable and parameter files sorted
// by path. Python files are variable sources. YAML files are parameter
// sources only below a directory named parameters; their tree path is taken
// relative to the nearest such directory.
func Discover(fsys fs.FS) ([]File, error) {
	var files []File
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != "." && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return fs.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".py":
			files = append(files, File{Path: p, Kind: KindVariables})
		case ".yaml", ".yml":
			if rel, ok := underParameters(p); ok {
				files = append(files, File{Path: p, Kind: KindParameters, Prefix: ParameterPrefix(rel)})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ruleset: discover: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func underParameters(p string) (string, bool) {
	parts := strings.Split(p, "/")
	for i := len(parts) - 2; i >= 0; i-- {
		if parts[i] == "parameters" {
			return strings.Join(parts[i+1:], "/"), true
		}
	}
	return "", false
}
