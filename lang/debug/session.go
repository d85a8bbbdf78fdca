package debug

import (
	"fmt"
	"io"
	"sync"

	"github.com/dolthub/swiss"

	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/interp"
)

// State is a session's position in the state machine of spec.md §4.7.
// Interactive sessions move Queued -> WaitingForStart -> WaitingForAttach
// -> Attached -> Stopped; replay sessions move Queued ->
// WaitingForRecordings -> ReplayReady. Stopped and Failed are terminal and
// reachable from any non-terminal state on external stop.
type State int

const (
	Queued State = iota
	WaitingForStart
	WaitingForAttach
	Attached
	WaitingForRecordings
	ReplayReady
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case WaitingForStart:
		return "waiting_for_start"
	case WaitingForAttach:
		return "waiting_for_attach"
	case Attached:
		return "attached"
	case WaitingForRecordings:
		return "waiting_for_recordings"
	case ReplayReady:
		return "replay_ready"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool { return s == Stopped || s == Failed }

type stepMode int

const (
	stepNone stepMode = iota
	stepInto
	stepOver
	stepOut
)

// Session is one interactive debug attachment to a live *interp.VM. It
// satisfies interp.Observer: the VM's dispatch loop calls OnStep before
// every instruction. Commands arrive on their own goroutine (commandLoop,
// started by Attach) independently of whether the VM is currently
// stopped — break/clear work at any time; step/next/out/continue and the
// informational commands (stack, locals, where, funcs, print, ip) need the
// VM to be stopped and otherwise get "error: not stopped". Resume commands
// are handed to the blocked OnStep call over resumeCh. While the VM is
// paused the session reports Stopped, and it returns to Attached on resume.
type Session struct {
	mu      sync.Mutex
	state   State
	stopped bool
	vm      *interp.VM
	ip      uint32

	lines *swiss.Map[uint32, struct{}]
	funcs *swiss.Map[string, struct{}]

	stopOnEntry bool
	entered     bool
	mode        stepMode
	frameDepth  int // len(vm.ActiveFrames) at the moment step/next/out was issued

	cmds     <-chan Command
	out      io.Writer
	resumeCh chan stepMode
}

var _ interp.Observer = (*Session)(nil)

// NewSession creates a session bound to r (commands in) and w (responses
// out) — either stdio or a TCP connection's two halves. stopOnEntry mirrors
// the --debug "stop on entry" option. Call Attach once the VM is ready to
// start executing.
func NewSession(r io.Reader, w io.Writer, stopOnEntry bool) *Session {
	return &Session{
		state:       WaitingForAttach,
		lines:       swiss.NewMap[uint32, struct{}](8),
		funcs:       swiss.NewMap[string, struct{}](8),
		stopOnEntry: stopOnEntry,
		cmds:        readCommands(r),
		out:         w,
		resumeCh:    make(chan stepMode),
	}
}

// State reports the session's current position in the state machine.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attach moves the session to Attached and starts its command dispatch
// loop; call it once, before running the VM.
func (s *Session) Attach() {
	s.mu.Lock()
	if !s.state.terminal() {
		s.state = Attached
	}
	s.mu.Unlock()
	go s.commandLoop()
}

// commandLoop drains commands as they arrive, regardless of whether the VM
// is currently stopped. It runs for the life of the session, exiting when
// the command channel closes (the client disconnected).
func (s *Session) commandLoop() {
	for cmd, ok := <-s.cmds; ok; cmd, ok = <-s.cmds {
		s.dispatch(cmd)
	}
	s.mu.Lock()
	wasStopped := s.stopped
	if !s.state.terminal() || wasStopped {
		s.state = Failed
	}
	s.mu.Unlock()
	if wasStopped {
		// Unblock a goroutine parked in OnStep waiting for a resume that will
		// now never come; it sees the Failed state and returns, and the VM
		// runs on with no further stops.
		select {
		case s.resumeCh <- stepNone:
		default:
		}
	}
}

func (s *Session) dispatch(cmd Command) {
	s.mu.Lock()
	stopped := s.stopped
	vm := s.vm
	ip := s.ip
	s.mu.Unlock()

	switch cmd.Kind {
	case CmdBreakLine:
		s.lines.Put(cmd.Line, struct{}{})
		writeLines(s.out, "ok")
		return
	case CmdClearLine:
		s.lines.Delete(cmd.Line)
		writeLines(s.out, "ok")
		return
	case CmdBreakFunc:
		s.funcs.Put(cmd.Name, struct{}{})
		writeLines(s.out, "ok")
		return
	}

	if !stopped {
		writeLines(s.out, "error: not stopped")
		return
	}

	switch cmd.Kind {
	case CmdStep:
		s.resumeCh <- stepInto
	case CmdNext:
		s.mu.Lock()
		s.frameDepth = len(vm.ActiveFrames)
		s.mu.Unlock()
		s.resumeCh <- stepOver
	case CmdOut:
		s.mu.Lock()
		s.frameDepth = len(vm.ActiveFrames)
		s.mu.Unlock()
		s.resumeCh <- stepOut
	case CmdContinue:
		s.resumeCh <- stepNone
	case CmdStack:
		writeLines(s.out, formatStack(vm)...)
	case CmdLocals:
		writeLines(s.out, formatLocals(vm)...)
	case CmdWhere:
		writeLines(s.out, formatWhere(vm, ip)...)
	case CmdFuncs:
		writeLines(s.out, formatFuncs(vm)...)
	case CmdPrint:
		writeLines(s.out, formatPrint(vm, cmd.Name))
	case CmdIP:
		writeLines(s.out, fmt.Sprintf("ip: %d", ip))
	default:
		writeLines(s.out, "error: unrecognized command")
	}
}

// OnStep implements interp.Observer. It runs on the VM's own goroutine and
// blocks it, parked on resumeCh, for as long as the session is stopped
// here.
func (s *Session) OnStep(vm *interp.VM, ip uint32, op bytecode.Opcode, arg uint32) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	stop := s.shouldStop(vm, ip)
	s.mu.Unlock()
	if !stop {
		return
	}

	s.mu.Lock()
	s.state = Stopped
	s.stopped = true
	s.vm = vm
	s.ip = ip
	s.mu.Unlock()
	s.reportStop(vm, ip)

	mode := <-s.resumeCh

	s.mu.Lock()
	s.stopped = false
	s.mode = mode
	if s.state != Failed {
		s.state = Attached
	}
	s.mu.Unlock()
}

func (s *Session) shouldStop(vm *interp.VM, ip uint32) bool {
	if !s.entered {
		s.entered = true
		if s.stopOnEntry {
			return true
		}
	}
	if _, ok := s.lines.Get(lineAt(vm, ip)); ok {
		return true
	}
	if name := funcNameAt(vm, ip); name != "" {
		if _, ok := s.funcs.Get(name); ok {
			return true
		}
	}
	switch s.mode {
	case stepInto:
		return true
	case stepOver:
		return len(vm.ActiveFrames) <= s.frameDepth
	case stepOut:
		return len(vm.ActiveFrames) < s.frameDepth
	}
	return false
}

func (s *Session) reportStop(vm *interp.VM, ip uint32) {
	line := lineAt(vm, ip)
	writeLines(s.out, fmt.Sprintf("stopped ip=%d line=%d", ip, line))
}

func lineAt(vm *interp.VM, ip uint32) uint32 {
	if vm.Program.Debug == nil {
		return 0
	}
	return vm.Program.Debug.LineAt(ip)
}

func funcNameAt(vm *interp.VM, ip uint32) string {
	if vm.Program.Debug == nil {
		return ""
	}
	return vm.Program.Debug.FunctionNameAt(ip)
}

func formatStack(vm *interp.VM) []string {
	if vm.SP == 0 {
		return []string{"(empty)"}
	}
	out := make([]string, vm.SP)
	for i := 0; i < vm.SP; i++ {
		out[i] = fmt.Sprintf("%d: %v", i, vm.Stack[i])
	}
	return out
}

func formatLocals(vm *interp.VM) []string {
	if len(vm.Locals) == 0 {
		return []string{"(none)"}
	}
	out := make([]string, len(vm.Locals))
	for i, v := range vm.Locals {
		out[i] = fmt.Sprintf("%d: %v", i, v)
	}
	return out
}

func formatWhere(vm *interp.VM, ip uint32) []string {
	name := funcNameAt(vm, ip)
	if name == "" {
		name = "(toplevel)"
	}
	return []string{fmt.Sprintf("%s at ip=%d line=%d", name, ip, lineAt(vm, ip))}
}

func formatFuncs(vm *interp.VM) []string {
	if vm.Program.Debug == nil || len(vm.Program.Debug.Functions) == 0 {
		return []string{"(none)"}
	}
	out := make([]string, len(vm.Program.Debug.Functions))
	for i, fn := range vm.Program.Debug.Functions {
		out[i] = fmt.Sprintf("%s @ %d", fn.Name, fn.Offset)
	}
	return out
}

func formatPrint(vm *interp.VM, name string) string {
	if vm.Program.Debug == nil {
		return fmt.Sprintf("%s: unknown (no debug info)", name)
	}
	for _, loc := range vm.Program.Debug.Locals {
		if loc.Name == name && int(loc.Index) < len(vm.Locals) {
			return fmt.Sprintf("%s: %v", name, vm.Locals[loc.Index])
		}
	}
	return fmt.Sprintf("%s: unknown", name)
}
