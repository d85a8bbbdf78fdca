//go:build !amd64

package jit

import "github.com/mna/vmforge/lang/interp"

// compiledTrace is never instantiated on this target; run is unreachable
// but kept so the rest of the package (trace stats, the TryEnter/runNative
// path) doesn't need build-tagged call sites.
type compiledTrace struct{}

func (c *compiledTrace) run(vm *interp.VM) (exitIP uint32, guarded bool, ran bool) {
	return 0, false, false
}

// compileNative always declines on architectures without a native backend:
// traces are still recorded (so hit-counting, NYI reporting and Stats all
// behave the same), they just never run natively — the portability
// fallback spec.md §4.6 calls for.
func compileNative(tr *Trace) *compiledTrace {
	return nil
}
