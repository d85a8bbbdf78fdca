package maincmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mna/mainer"
	"github.com/mna/vmforge/lang/interp"
	"github.com/mna/vmforge/lang/vmbc"
	"github.com/mna/vmforge/lang/vmerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestParseFuncForDispatchesByExtension(t *testing.T) {
	for _, ext := range []string{".rss", ".js", ".lua", ".scm"} {
		parse, err := parseFuncFor("prog" + ext)
		require.NoError(t, err)
		assert.NotNil(t, parse)
	}

	_, err := parseFuncFor("prog.txt")
	assert.Error(t, err)
}

func TestCompileSourceRunsAsExpected(t *testing.T) {
	path := writeTemp(t, "prog.rss", `
		let x = 2 + 3 * 4;
	`)

	prog, err := compileSource(path, false)
	require.NoError(t, err)

	vm := interp.New(prog, interp.NewHostTable())
	vm.Run()
	require.Equal(t, interp.Halted, vm.Status)
}

func TestCompileSourceShowSourceEmbedsText(t *testing.T) {
	src := "let x = 1;\n"
	path := writeTemp(t, "prog.rss", src)

	prog, err := compileSource(path, true)
	require.NoError(t, err)
	require.NotNil(t, prog.Debug)
	assert.Equal(t, src, prog.Debug.Source[prog.EntryOffset])
}

func TestLoadProgramDecodesVMBC(t *testing.T) {
	srcPath := writeTemp(t, "prog.rss", "let x = 41 + 1;\n")
	prog, err := compileSource(srcPath, false)
	require.NoError(t, err)

	data, err := vmbc.Encode(prog)
	require.NoError(t, err)
	vmbcPath := writeTemp(t, "prog.vmbc", "")
	require.NoError(t, os.WriteFile(vmbcPath, data, 0o644))

	loaded, err := loadProgram(vmbcPath, false)
	require.NoError(t, err)

	vm := interp.New(loaded, interp.NewHostTable())
	vm.Run()
	require.Equal(t, interp.Halted, vm.Status)
}

func TestExitCodeForMapsErrorKinds(t *testing.T) {
	assert.Equal(t, mainer.ExitCode(1), exitCodeFor(&vmerrors.CompileError{Kind: vmerrors.UnresolvedName}))
	assert.Equal(t, mainer.ExitCode(1), exitCodeFor(&vmerrors.LoadError{Kind: vmerrors.BadMagic}))
	assert.Equal(t, mainer.ExitCode(2), exitCodeFor(vmerrors.NewFault(vmerrors.DivByZero, 0, "boom")))
	assert.Equal(t, mainer.ExitCode(3), exitCodeFor(errors.New("disk on fire")))
}
