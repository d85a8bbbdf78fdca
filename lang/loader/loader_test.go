package loader_test

import (
	"fmt"
	"testing"

	"github.com/mna/vmforge/lang/ir"
	"github.com/mna/vmforge/lang/loader"
	"github.com/mna/vmforge/lang/vmerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFS map[string]string

func (m memFS) ReadFile(p string) ([]byte, error) {
	src, ok := m[p]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", p)
	}
	return []byte(src), nil
}

// fakeParse treats the source text as a newline-separated list of import
// paths; any non-empty unit body is irrelevant to the loader.
func fakeParse(filename string, src []byte) (*ir.Unit, error) {
	u := &ir.Unit{Filename: filename}
	imports := string(src)
	start := 0
	for i := 0; i <= len(imports); i++ {
		if i == len(imports) || imports[i] == '\n' {
			if tok := imports[start:i]; tok != "" {
				u.Stmts = append(u.Stmts, ir.Import{Path: tok})
			}
			start = i + 1
		}
	}
	return u, nil
}

func TestLoadDiamondDependencyOnce(t *testing.T) {
	fs := memFS{
		"/a.rss": "b.rss\nc.rss",
		"/b.rss": "d.rss",
		"/c.rss": "d.rss",
		"/d.rss": "",
	}
	units, err := loader.Load(fs, "/a.rss", fakeParse)
	require.NoError(t, err)
	require.Len(t, units, 4)
	// d must appear before both b and c, which must appear before a.
	index := make(map[string]int, len(units))
	for i, u := range units {
		index[u.Filename] = i
	}
	assert.Less(t, index["/d.rss"], index["/b.rss"])
	assert.Less(t, index["/d.rss"], index["/c.rss"])
	assert.Less(t, index["/b.rss"], index["/a.rss"])
	assert.Less(t, index["/c.rss"], index["/a.rss"])
}

func TestLoadCycleFails(t *testing.T) {
	fs := memFS{
		"/a.rss": "b.rss",
		"/b.rss": "a.rss",
	}
	_, err := loader.Load(fs, "/a.rss", fakeParse)
	require.Error(t, err)
	var ce *vmerrors.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, vmerrors.ModuleCycle, ce.Kind)
}

func TestLoadMissingModuleFails(t *testing.T) {
	fs := memFS{"/a.rss": "missing.rss"}
	_, err := loader.Load(fs, "/a.rss", fakeParse)
	require.Error(t, err)
	var ce *vmerrors.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, vmerrors.ModuleNotFound, ce.Kind)
}

func TestLoadRelativeImportPath(t *testing.T) {
	fs := memFS{
		"/pkg/a.rss": "./b.rss",
		"/pkg/b.rss": "",
	}
	units, err := loader.Load(fs, "/pkg/a.rss", fakeParse)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "/pkg/b.rss", units[0].Filename)
	assert.Equal(t, "/pkg/a.rss", units[1].Filename)
}
