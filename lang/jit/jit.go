// Package jit implements the trace-based JIT of spec.md §4.6: detect hot
// loop heads in the interpreter's dispatch loop, record a straight-line
// trace from the root, compile it to native machine code on supported
// architectures, and run it with guarded side-exits back to the
// interpreter. Engine satisfies interp.JIT, so wiring it in is just
// `vm.JIT = jit.New(jit.Config{})`.
//
// The recording/compilation split mirrors the LuaJIT model named in the
// spec; the native backend itself is grounded on the register-allocating,
// hand-encoded-instruction style of the scm JIT in the retrieval pack
// (jitCompileExpr/JITWriter emitting raw amd64 bytes into a buffer, one
// opcode at a time) — see compile_amd64.go.
package jit

import (
	"fmt"
	"sync"

	"github.com/dolthub/swiss"

	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/interp"
	"github.com/mna/vmforge/lang/vmerrors"
)

// Config bounds the engine's behavior; a zero Config gets sane defaults via
// New.
type Config struct {
	// HotThreshold is the number of times a backward-branch target must be
	// hit before recording starts there.
	HotThreshold int
	// MaxTraceLength aborts recording (NYI TraceTooLong) past this many
	// steps.
	MaxTraceLength int
	// GuardFailThreshold invalidates a trace once its guard-exit count
	// reaches this many.
	GuardFailThreshold int
	// Cooldown is how many further hits of a failed trace root are ignored
	// before recording is attempted again.
	Cooldown int
}

func (c Config) withDefaults() Config {
	if c.HotThreshold <= 0 {
		c.HotThreshold = 50
	}
	if c.MaxTraceLength <= 0 {
		c.MaxTraceLength = 1000
	}
	if c.GuardFailThreshold <= 0 {
		c.GuardFailThreshold = 20
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 1000
	}
	return c
}

// rootState tracks one loop head's hotness and the state of whatever trace
// (if any) is rooted there.
type rootState struct {
	hits      int
	cooldown  int
	armed     bool   // hit threshold reached; start recording next time ip == this address
	nyiReason string // non-empty once recording has failed here at least once
}

// Engine is the trace JIT's runtime state: one per VM (or shared across VMs
// executing the same Program, since traces are keyed by root IP and a
// Program is immutable once compiled). It is safe for concurrent use by
// multiple VMs sharing one Program, guarded by mu.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	roots   map[uint32]*rootState
	traces  *swiss.Map[uint32, *Trace]
	active  *recording // non-nil while recording mode is live
	onEnter func(vm *interp.VM, tr *Trace) bool
}

var _ interp.JIT = (*Engine)(nil)

// New constructs an Engine with cfg's zero fields replaced by defaults. It
// uses the default native-execution strategy; SetOnEnterForTest replaces it.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg.withDefaults(),
		roots:  make(map[uint32]*rootState),
		traces: swiss.NewMap[uint32, *Trace](8),
	}
}

// SetOnEnterForTest replaces the native-execution strategy with fn, letting
// tests observe and control trace entry without depending on a compiled
// native backend. Not for production use.
func (e *Engine) SetOnEnterForTest(fn func(vm *interp.VM, tr *Trace) bool) {
	e.mu.Lock()
	e.onEnter = fn
	e.mu.Unlock()
}

// TryEnter is called at the top of every Step, before the instruction at
// vm.IP is decoded. It runs a completed, valid native trace rooted there if
// one exists; otherwise it lets the interpreter proceed.
func (e *Engine) TryEnter(vm *interp.VM) bool {
	e.mu.Lock()
	tr, ok := e.traces.Get(vm.IP)
	e.mu.Unlock()
	if !ok || !tr.valid() {
		return false
	}
	return e.runNative(vm, tr)
}

// runNative invokes tr's compiled form (or, if it holds no compiled form on
// this target, falls through to the interpreter — the portability
// fallback). Guard exits land back in the interpreter at the reported IP.
func (e *Engine) runNative(vm *interp.VM, tr *Trace) bool {
	if e.onEnter != nil {
		return e.onEnter(vm, tr)
	}
	if tr.native == nil {
		return false
	}
	exitIP, guarded, ran := tr.native.run(vm)
	if !ran {
		return false
	}
	tr.execCount++
	if guarded {
		tr.guardFails++
		if tr.guardFails >= e.cfg.GuardFailThreshold {
			e.mu.Lock()
			tr.invalid = true
			e.mu.Unlock()
		}
	}
	vm.IP = exitIP
	return true
}

// OnStep drives hot-path counting and, while recording, appends the step
// just decoded to the active trace. A loop head is the target address of a
// backward BR/BRFALSE (spec.md §4.6: "maintain a counter per backward-branch
// target"); recording itself only begins once execution actually reaches
// that address, per the spec's "the next time ip reaches that address".
func (e *Engine) OnStep(vm *interp.VM, ip uint32, op bytecode.Opcode, arg uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		if ip == e.active.root && len(e.active.steps) > 0 {
			tr := e.active.finish()
			e.installTrace(tr)
			return
		}
		if err := e.active.append(ip, op, arg, vm); err != nil {
			e.abortRecording(e.active.root, err)
		}
		return
	}

	if rs, ok := e.roots[ip]; ok && rs.armed {
		rs.armed = false
		rec := newRecording(ip, e.cfg.MaxTraceLength)
		if err := rec.append(ip, op, arg, vm); err != nil {
			e.abortRecording(ip, err)
			return
		}
		e.active = rec
		return
	}

	if (op != bytecode.BR && op != bytecode.BRFALSE) || arg > ip {
		return // not a backward branch, so its target isn't a loop head
	}
	root := arg
	if _, ok := e.traces.Get(root); ok {
		return // already compiled
	}
	rs := e.roots[root]
	if rs == nil {
		rs = &rootState{}
		e.roots[root] = rs
	}
	if rs.cooldown > 0 {
		rs.cooldown--
		return
	}
	rs.hits++
	if rs.hits >= e.cfg.HotThreshold {
		rs.armed = true
	}
}

func (e *Engine) abortRecording(root uint32, err error) {
	e.active = nil
	rs := e.roots[root]
	if rs == nil {
		rs = &rootState{}
		e.roots[root] = rs
	}
	rs.nyiReason = err.Error()
	rs.cooldown = e.cfg.Cooldown
	rs.hits = 0
}

func (e *Engine) installTrace(tr *Trace) {
	e.active = nil
	tr.native = compileNative(tr)
	e.traces.Put(tr.Root, tr)
	delete(e.roots, tr.Root)
}

// Stats summarizes the engine's observable state (spec.md §4.6
// "Observability": trace count, per-trace execution count, NYI reasons).
type Stats struct {
	TraceCount int
	Traces     []TraceStat
	NYI        map[uint32]string
}

// TraceStat reports one compiled trace's execution history.
type TraceStat struct {
	Root       uint32
	Steps      int
	ExecCount  int
	GuardFails int
	Invalid    bool
	Native     bool
}

// Stats returns a snapshot of the engine's current state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{NYI: make(map[uint32]string)}
	e.traces.Iter(func(root uint32, tr *Trace) (stop bool) {
		s.TraceCount++
		s.Traces = append(s.Traces, TraceStat{
			Root:       tr.Root,
			Steps:      len(tr.Steps),
			ExecCount:  tr.execCount,
			GuardFails: tr.guardFails,
			Invalid:    tr.invalid,
			Native:     tr.native != nil,
		})
		return false
	})
	for root, rs := range e.roots {
		if rs.nyiReason != "" {
			s.NYI[root] = rs.nyiReason
		}
	}
	return s
}

// Dump renders every trace's instruction stream and guard map, per
// spec.md §4.6's "dump facility".
func (e *Engine) Dump() string {
	st := e.Stats()
	out := fmt.Sprintf("traces: %d\n", st.TraceCount)
	for _, t := range st.Traces {
		out += fmt.Sprintf("  root=0x%04x steps=%d exec=%d guardFails=%d invalid=%v native=%v\n",
			t.Root, t.Steps, t.ExecCount, t.GuardFails, t.Invalid, t.Native)
	}
	for root, reason := range st.NYI {
		out += fmt.Sprintf("  nyi root=0x%04x: %s\n", root, reason)
	}
	return out
}

// newNYI builds a JitNYI with a formatted detail string.
func newNYI(kind vmerrors.JitKind, format string, args ...any) *vmerrors.JitNYI {
	return &vmerrors.JitNYI{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
