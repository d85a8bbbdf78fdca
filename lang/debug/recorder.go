package debug

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/interp"
)

func init() {
	gob.Register(bytecode.Int(0))
	gob.Register(bytecode.Float(0))
	gob.Register(bytecode.Bool(false))
	gob.Register(bytecode.Str(""))
	gob.Register(bytecode.Null)
}

// RecordingFrame is one interpreted step, captured before the step's
// effect is applied (spec.md §4.7: "every interpreter step appends a
// RecordingFrame to an in-memory log").
type RecordingFrame struct {
	IP     uint32
	Op     bytecode.Opcode
	Arg    uint32
	Line   uint32 // 0 if the program carries no debug info
	Depth  int    // len(vm.ActiveFrames) at capture time, for replay next/out
	Stack  []bytecode.Value
	Locals []bytecode.Value
}

// Recording is the portable replay artifact: a Program reference, the
// locals the VM started with, and the full step log.
type Recording struct {
	Program       *bytecode.Program
	InitialLocals []bytecode.Value
	Frames        []RecordingFrame
}

// Recorder satisfies interp.Observer, appending a RecordingFrame on every
// step. It captures the Program and starting locals on its first
// observation.
type Recorder struct {
	program       *bytecode.Program
	initialLocals []bytecode.Value
	frames        []RecordingFrame
}

var _ interp.Observer = (*Recorder)(nil)

// NewRecorder returns an empty Recorder ready to be installed as a VM's
// Observer.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnStep implements interp.Observer.
func (r *Recorder) OnStep(vm *interp.VM, ip uint32, op bytecode.Opcode, arg uint32) {
	if r.program == nil {
		r.program = vm.Program
		r.initialLocals = cloneValues(vm.Locals)
	}
	var line uint32
	if vm.Program.Debug != nil {
		line = vm.Program.Debug.LineAt(ip)
	}
	r.frames = append(r.frames, RecordingFrame{
		IP:     ip,
		Op:     op,
		Arg:    arg,
		Line:   line,
		Depth:  len(vm.ActiveFrames),
		Stack:  cloneValues(vm.Stack[:vm.SP]),
		Locals: cloneValues(vm.Locals),
	})
}

// Recording snapshots everything captured so far into an independent
// Recording value.
func (r *Recorder) Recording() *Recording {
	return &Recording{
		Program:       r.program,
		InitialLocals: cloneValues(r.initialLocals),
		Frames:        append([]RecordingFrame(nil), r.frames...),
	}
}

func cloneValues(vs []bytecode.Value) []bytecode.Value {
	if vs == nil {
		return nil
	}
	out := make([]bytecode.Value, len(vs))
	copy(out, vs)
	return out
}

// Encode serializes a Recording for --record. This is an internal replay
// artifact, not the cross-implementation wire contract VMBC is (spec.md
// §4.8 fixes that one to an explicit versioned binary layout); gob is a
// reasonable fit here since both ends are always this same binary.
func Encode(rec *Recording) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode recording: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a Recording previously produced by Encode, for
// --view-record and replay mode.
func Decode(data []byte) (*Recording, error) {
	var rec Recording
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode recording: %w", err)
	}
	return &rec, nil
}
