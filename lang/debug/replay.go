package debug

import (
	"fmt"
	"io"

	"github.com/dolthub/swiss"
)

// Replayer presents the same command set as Session over a Recording
// instead of a live VM. break/break line set the next pause point for
// continue; none of the commands mutate the recorded state (spec.md
// §4.7: "it does not mutate runtime state").
type Replayer struct {
	rec *Recording
	idx int

	lines *swiss.Map[uint32, struct{}]
	funcs *swiss.Map[string, struct{}]

	cmds <-chan Command
	out  io.Writer
	state State
}

// NewReplayer creates a replayer over rec, reading commands from r and
// writing responses to w.
func NewReplayer(rec *Recording, r io.Reader, w io.Writer) *Replayer {
	return &Replayer{
		rec:   rec,
		state: WaitingForRecordings,
		lines: swiss.NewMap[uint32, struct{}](8),
		funcs: swiss.NewMap[string, struct{}](8),
		cmds:  readCommands(r),
		out:   w,
	}
}

// State reports the replayer's current position in the state machine.
func (p *Replayer) State() State { return p.state }

// Run drives the replay command loop until the client disconnects or the
// recording is exhausted past a continue with no further matching
// breakpoint.
func (p *Replayer) Run() {
	p.state = ReplayReady
	if len(p.rec.Frames) > 0 {
		p.report(0)
	}
	for {
		cmd, ok := <-p.cmds
		if !ok {
			p.state = Stopped
			return
		}
		if !p.handle(cmd) {
			continue
		}
		if p.state.terminal() {
			return
		}
	}
}

// handle processes one command; it returns true when the command
// terminates the session, which continue/step/next/out do when they run
// off the end of the recording (that also moves p.state to Stopped).
func (p *Replayer) handle(cmd Command) bool {
	switch cmd.Kind {
	case CmdBreakLine:
		p.lines.Put(cmd.Line, struct{}{})
		writeLines(p.out, "ok")
	case CmdClearLine:
		p.lines.Delete(cmd.Line)
		writeLines(p.out, "ok")
	case CmdBreakFunc:
		p.funcs.Put(cmd.Name, struct{}{})
		writeLines(p.out, "ok")
	case CmdContinue:
		return p.advanceUntilBreak()
	case CmdStep:
		return p.advance(1)
	case CmdNext:
		return p.advanceOverOrOut(false)
	case CmdOut:
		return p.advanceOverOrOut(true)
	case CmdStack:
		writeLines(p.out, p.formatStack()...)
	case CmdLocals:
		writeLines(p.out, p.formatLocals()...)
	case CmdWhere:
		writeLines(p.out, p.formatWhere())
	case CmdFuncs:
		writeLines(p.out, p.formatFuncs()...)
	case CmdPrint:
		writeLines(p.out, p.formatPrint(cmd.Name))
	case CmdIP:
		writeLines(p.out, fmt.Sprintf("ip: %d", p.currentFrame().IP))
	default:
		writeLines(p.out, "error: unrecognized command")
	}
	return false
}

func (p *Replayer) currentFrame() RecordingFrame {
	return p.rec.Frames[p.idx]
}

func (p *Replayer) atEnd() bool { return p.idx >= len(p.rec.Frames)-1 }

// advance moves forward n frames, stopping early (and reporting Stopped) if
// it runs off the end of the log.
func (p *Replayer) advance(n int) bool {
	for i := 0; i < n; i++ {
		if p.atEnd() {
			p.state = Stopped
			writeLines(p.out, "end of recording")
			return true
		}
		p.idx++
	}
	p.report(p.idx)
	return false
}

func (p *Replayer) advanceOverOrOut(out bool) bool {
	startDepth := p.currentFrame().Depth
	for {
		if p.atEnd() {
			p.state = Stopped
			writeLines(p.out, "end of recording")
			return true
		}
		p.idx++
		d := p.currentFrame().Depth
		if out && d < startDepth {
			break
		}
		if !out && d <= startDepth {
			break
		}
	}
	p.report(p.idx)
	return false
}

func (p *Replayer) advanceUntilBreak() bool {
	for {
		if p.atEnd() {
			p.state = Stopped
			writeLines(p.out, "end of recording")
			return true
		}
		p.idx++
		f := p.currentFrame()
		if _, ok := p.lines.Get(f.Line); ok {
			break
		}
		if name := p.functionNameAt(f.IP); name != "" {
			if _, ok := p.funcs.Get(name); ok {
				break
			}
		}
	}
	p.report(p.idx)
	return false
}

func (p *Replayer) functionNameAt(ip uint32) string {
	if p.rec.Program == nil || p.rec.Program.Debug == nil {
		return ""
	}
	return p.rec.Program.Debug.FunctionNameAt(ip)
}

func (p *Replayer) report(idx int) {
	f := p.rec.Frames[idx]
	writeLines(p.out, fmt.Sprintf("stopped ip=%d line=%d", f.IP, f.Line))
}

func (p *Replayer) formatStack() []string {
	f := p.currentFrame()
	if len(f.Stack) == 0 {
		return []string{"(empty)"}
	}
	out := make([]string, len(f.Stack))
	for i, v := range f.Stack {
		out[i] = fmt.Sprintf("%d: %v", i, v)
	}
	return out
}

func (p *Replayer) formatLocals() []string {
	f := p.currentFrame()
	if len(f.Locals) == 0 {
		return []string{"(none)"}
	}
	out := make([]string, len(f.Locals))
	for i, v := range f.Locals {
		out[i] = fmt.Sprintf("%d: %v", i, v)
	}
	return out
}

func (p *Replayer) formatWhere() string {
	f := p.currentFrame()
	name := p.functionNameAt(f.IP)
	if name == "" {
		name = "(toplevel)"
	}
	return fmt.Sprintf("%s at ip=%d line=%d", name, f.IP, f.Line)
}

func (p *Replayer) formatFuncs() []string {
	if p.rec.Program == nil || p.rec.Program.Debug == nil || len(p.rec.Program.Debug.Functions) == 0 {
		return []string{"(none)"}
	}
	out := make([]string, len(p.rec.Program.Debug.Functions))
	for i, fn := range p.rec.Program.Debug.Functions {
		out[i] = fmt.Sprintf("%s @ %d", fn.Name, fn.Offset)
	}
	return out
}

func (p *Replayer) formatPrint(name string) string {
	if p.rec.Program == nil || p.rec.Program.Debug == nil {
		return fmt.Sprintf("%s: unknown (no debug info)", name)
	}
	f := p.currentFrame()
	for _, loc := range p.rec.Program.Debug.Locals {
		if loc.Name == name && int(loc.Index) < len(f.Locals) {
			return fmt.Sprintf("%s: %v", name, f.Locals[loc.Index])
		}
	}
	return fmt.Sprintf("%s: unknown", name)
}
