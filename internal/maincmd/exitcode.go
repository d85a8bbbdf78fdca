package maincmd

import (
	"errors"

	"github.com/mna/mainer"
	"github.com/mna/vmforge/lang/vmerrors"
)

// exitCodeFor maps a command's returned error to spec.md §6's exit codes:
// 1 compile error, 2 runtime fault, 3 I/O error. Each command prints its
// own diagnostic before returning the error; this only selects the
// process exit status.
func exitCodeFor(err error) mainer.ExitCode {
	var (
		compileErr *vmerrors.CompileError
		loadErr    *vmerrors.LoadError
		fault      *vmerrors.Fault
	)
	switch {
	case errors.As(err, &compileErr), errors.As(err, &loadErr):
		return 1
	case errors.As(err, &fault):
		return 2
	default:
		return 3
	}
}
