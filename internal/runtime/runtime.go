// Package runtime embeds a Risor VM. It evaluates generated risor modules
// and runs check scripts that assert on their results.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/pecompile/internal/ctxlog"
	"github.com/jward/pecompile/internal/synth"
)

// Runtime runs Risor source with a fixed set of host globals.
type Runtime struct {
	scriptsDir string
	fsys       fs.FS
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS loads scripts and imports from fsys instead of disk.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// NewRuntime creates a Runtime. scriptsDir is the base for relative script
// paths and import statements; it may be empty.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{scriptsDir: scriptsDir}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Evaluate runs a risor module's entry point with inputs and returns every
// value it computed. Inputs the caller leaves out take their defaults.
func (r *Runtime) Evaluate(ctx context.Context, mod *synth.Module, inputs map[string]any) (map[string]any, error) {
	if mod.Target != "risor" {
		return nil, fmt.Errorf("runtime: cannot evaluate a %s module", mod.Target)
	}
	call, err := synth.RisorCall(mod, inputs)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	result, err := r.eval(ctx, mod.Source+"\n"+call+"\n", "<module>", nil)
	if err != nil {
		return nil, err
	}
	m, ok := result.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("runtime: module returned %s, want map", result.Type())
	}
	out := make(map[string]any, len(m.Value()))
	for k, v := range m.Value() {
		out[k] = toGo(v)
	}
	ctxlog.FromContext(ctx).Debug("module evaluated", "values", len(out))
	return out, nil
}

// RunScript loads and executes a Risor script with the host globals plus
// extraGlobals, returning the script's final value.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) (any, error) {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return nil, err
	}
	obj, err := r.eval(ctx, src, scriptPath, extraGlobals)
	if err != nil {
		return nil, err
	}
	return toGo(obj), nil
}

// RunSource executes Risor source directly.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) (any, error) {
	obj, err := r.eval(ctx, source, "<inline>", extraGlobals)
	if err != nil {
		return nil, err
	}
	return toGo(obj), nil
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) (object.Object, error) {
	globals := r.buildGlobals(ctx, extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	obj, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return obj, nil
}

// buildImporter returns an importer over the script source, or nil when
// neither an fs.FS nor a scripts directory is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file. Relative paths resolve against the
// configured fs.FS or scripts directory.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) && r.scriptsDir != "" {
		fullPath = filepath.Join(r.scriptsDir, path)
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

func (r *Runtime) buildGlobals(ctx context.Context, extra map[string]any) map[string]any {
	globals := map[string]any{
		"log": mustProxy(&logObject{logger: ctxlog.FromContext(ctx).With("source", "risor")}),
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

// logObject provides log.Info/Warn/Error to scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string)  { l.logger.Info(msg) }
func (l *logObject) Warn(msg string)  { l.logger.Warn(msg) }
func (l *logObject) Error(msg string) { l.logger.Error(msg) }

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
