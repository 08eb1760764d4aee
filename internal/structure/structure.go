// Package structure derives the structural signals used to prioritize files:
// whether a file is an entry point and how many other files depend on it.
package structure

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dshills/deltaindex/internal/parser"
	"github.com/dshills/deltaindex/pkg/types"
)

// entryPointNames are conventional entry files for non-Go languages
var entryPointNames = map[string]bool{
	"main.py":     true,
	"__main__.py": true,
	"app.py":      true,
	"manage.py":   true,
	"index.js":    true,
	"index.ts":    true,
	"main.js":     true,
	"main.ts":     true,
	"server.js":   true,
	"server.ts":   true,
}

// Source supplies file contents by relative path
type Source func(relPath string) ([]byte, error)

// Analyzer computes FileSignals for a set of files
type Analyzer struct {
	parser *parser.Parser
	logger *slog.Logger
}

// New creates an analyzer
func New(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{parser: parser.New(), logger: logger}
}

// goFile is the import-level view of one Go source file
type goFile struct {
	dir     string
	pkgName string
	imports []string
}

// Analyze returns signals for every path. Go import paths are resolved
// against the module path in root's go.mod; files of an unresolvable package
// keep a fan-in of 0. Unreadable files are logged and treated as leaves.
func (a *Analyzer) Analyze(ctx context.Context, root string, paths []string, read Source) (map[string]types.FileSignals, error) {
	signals := make(map[string]types.FileSignals, len(paths))

	module := ""
	if info, err := parseGoMod(filepath.Join(root, "go.mod")); err == nil {
		module = info.Module
	}

	goFiles := make(map[string]*goFile)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sig := types.FileSignals{EntryPoint: entryPointNames[path.Base(p)]}

		if strings.HasSuffix(p, ".go") {
			content, err := read(p)
			if err != nil {
				a.logger.Debug("structure: skipping unreadable file", "path", p, "error", err)
				signals[p] = sig
				continue
			}
			result := a.parser.ParseSource(p, content)
			if result.HasMain {
				sig.EntryPoint = true
			}
			gf := &goFile{dir: path.Dir(p), pkgName: result.PackageName}
			for _, imp := range result.Imports {
				gf.imports = append(gf.imports, imp.Path)
			}
			goFiles[p] = gf
		}
		signals[p] = sig
	}

	if module == "" {
		return signals, nil
	}

	// importers[importPath] is the set of files importing that package
	importers := make(map[string]map[string]bool)
	for p, gf := range goFiles {
		for _, imp := range gf.imports {
			if imp != module && !strings.HasPrefix(imp, module+"/") {
				continue
			}
			if importers[imp] == nil {
				importers[imp] = make(map[string]bool)
			}
			importers[imp][p] = true
		}
	}

	for p, gf := range goFiles {
		importPath := packageImportPath(module, gf.dir)
		n := 0
		for importer := range importers[importPath] {
			if goFiles[importer].dir != gf.dir {
				n++
			}
		}
		sig := signals[p]
		sig.FanIn = n
		signals[p] = sig
	}
	return signals, nil
}

func packageImportPath(module, dir string) string {
	if dir == "." || dir == "" {
		return module
	}
	return module + "/" + dir
}

// goModInfo contains parsed go.mod information
type goModInfo struct {
	Module    string
	GoVersion string
}

// parseGoMod extracts basic info from go.mod file
func parseGoMod(goModPath string) (*goModInfo, error) {
	content, err := os.ReadFile(goModPath)
	if err != nil {
		return nil, err
	}

	info := &goModInfo{}
	lines := strings.Split(string(content), "\n")

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "module ") {
			info.Module = strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "module")), `"`)
		} else if strings.HasPrefix(line, "go ") {
			info.GoVersion = strings.TrimSpace(strings.TrimPrefix(line, "go"))
		}
	}

	return info, nil
}
