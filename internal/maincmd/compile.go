package maincmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mna/vmforge/lang/backend"
	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/frontend/js"
	"github.com/mna/vmforge/lang/frontend/lua"
	"github.com/mna/vmforge/lang/frontend/rss"
	"github.com/mna/vmforge/lang/frontend/scheme"
	"github.com/mna/vmforge/lang/linker"
	"github.com/mna/vmforge/lang/loader"
	"github.com/mna/vmforge/lang/vmbc"
)

// osFileSystem reads sources from the real filesystem; it is the only
// loader.FileSystem cmd/vmforge ever constructs (tests exercise the
// loader package directly against an in-memory one).
type osFileSystem struct{}

func (osFileSystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// parseFuncFor picks the frontend named by path's extension (spec.md
// §4.2 lists exactly these four surface syntaxes).
func parseFuncFor(path string) (loader.ParseFunc, error) {
	switch filepath.Ext(path) {
	case ".rss":
		return rss.Parse, nil
	case ".js":
		return js.Parse, nil
	case ".lua":
		return lua.Parse, nil
	case ".scm":
		return scheme.Parse, nil
	default:
		return nil, fmt.Errorf("unrecognized source extension: %s (expected .rss, .js, .lua or .scm)", path)
	}
}

// compileSource loads, links and compiles path to a bytecode.Program. When
// showSource is set, the entry unit's own source text is attached to the
// compiled program's debug info at offset 0, a whole-unit simplification
// of spec.md §6's "optional embedded source" (the wire format keys source
// by function entry offset; this CLI only ever has one translation unit's
// text on hand at this point in the pipeline, so it is filed under the
// program's own entry offset).
func compileSource(path string, showSource bool) (*bytecode.Program, error) {
	parse, err := parseFuncFor(path)
	if err != nil {
		return nil, err
	}

	units, err := loader.Load(osFileSystem{}, path, parse)
	if err != nil {
		return nil, err
	}
	stmts, err := linker.Link(units)
	if err != nil {
		return nil, err
	}
	prog, err := backend.Compile(stmts)
	if err != nil {
		return nil, err
	}

	if showSource {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if prog.Debug == nil {
			prog.Debug = &bytecode.DebugInfo{}
		}
		if prog.Debug.Source == nil {
			prog.Debug.Source = make(map[uint32]string)
		}
		prog.Debug.Source[prog.EntryOffset] = string(src)
	}
	return prog, nil
}

// loadProgram reads path: a .vmbc binary is decoded directly, anything
// else is compiled from source via compileSource.
func loadProgram(path string, showSource bool) (*bytecode.Program, error) {
	if filepath.Ext(path) == ".vmbc" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return vmbc.Decode(data)
	}
	return compileSource(path, showSource)
}
