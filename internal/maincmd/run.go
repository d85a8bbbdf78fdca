package maincmd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync/atomic"

	"github.com/mna/mainer"
	"github.com/mna/vmforge/lang/backend"
	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/debug"
	"github.com/mna/vmforge/lang/frontend/rss"
	"github.com/mna/vmforge/lang/interp"
	"github.com/mna/vmforge/lang/ir"
	"github.com/mna/vmforge/lang/jit"
	"github.com/mna/vmforge/lang/linker"
	"github.com/mna/vmforge/lang/vmbc"
)

// Run implements the "run" command: compile (or load a .vmbc binary) and
// execute, honoring every flag spec.md §6 names for the reference CLI
// surface.
func (c *Cmd) Run(ctx context.Context, stdio mainer.Stdio, args []string) error {
	if c.REPL {
		return c.runREPL(ctx, stdio)
	}

	path := args[0]
	prog, err := loadProgram(path, c.ShowSource)
	if err != nil {
		printError(stdio, err)
		return err
	}

	if c.EmitVMBC != "" {
		data, err := vmbc.Encode(prog)
		if err != nil {
			printError(stdio, err)
			return err
		}
		if err := os.WriteFile(c.EmitVMBC, data, 0o644); err != nil {
			printError(stdio, err)
			return err
		}
		return nil
	}

	vm := interp.New(prog, defaultHosts(stdio))
	watchCancel(ctx, vm)

	var eng *jit.Engine
	if c.JITHotLoop > 0 {
		eng = jit.New(jit.Config{HotThreshold: c.JITHotLoop})
		vm.JIT = eng
	}

	var rec *debug.Recorder
	if c.Record != "" {
		rec = debug.NewRecorder()
		vm.Observer = chainObserver(vm.Observer, rec)
	}

	if c.Debug {
		if err := c.runDebugged(ctx, stdio, vm); err != nil {
			printError(stdio, err)
			return err
		}
	} else {
		vm.Run()
	}

	if rec != nil {
		data, err := debug.Encode(rec.Recording())
		if err != nil {
			printError(stdio, err)
			return err
		}
		if err := os.WriteFile(c.Record, data, 0o644); err != nil {
			printError(stdio, err)
			return err
		}
	}

	if eng != nil && c.JITDump {
		fmt.Fprintln(stdio.Stderr, eng.Dump())
	}

	if vm.Status == interp.Faulted {
		printError(stdio, vm.Fault)
		return vm.Fault
	}
	return nil
}

// watchCancel sets vm.Cancel and flips it once ctx is done, so Ctrl-C
// (mainer.CancelOnSignal) faults a running VM at the next instruction
// boundary instead of leaving the process to be killed mid-step.
func watchCancel(ctx context.Context, vm *interp.VM) {
	var cancelled atomic.Bool
	vm.Cancel = &cancelled
	go func() {
		<-ctx.Done()
		cancelled.Store(true)
	}()
}

// chainObserver composes two Observers so a debug session and a recorder
// can both watch the same run; nil-safe for when first hasn't been set.
func chainObserver(first, second interp.Observer) interp.Observer {
	if first == nil {
		return second
	}
	return multiObserver{first, second}
}

type multiObserver []interp.Observer

func (m multiObserver) OnStep(vm *interp.VM, ip uint32, op bytecode.Opcode, arg uint32) {
	for _, o := range m {
		o.OnStep(vm, ip, op, arg)
	}
}

// runDebugged attaches an interactive Session on stdio or c.TCP and runs vm
// to completion under it.
func (c *Cmd) runDebugged(ctx context.Context, stdio mainer.Stdio, vm *interp.VM) error {
	if c.TCP != "" {
		return c.runDebuggedTCP(vm)
	}
	sess := debug.NewSession(stdio.Stdin, stdio.Stdout, true)
	vm.Observer = chainObserver(vm.Observer, sess)
	sess.Attach()
	vm.Run()
	return nil
}

// runDebuggedTCP listens once on c.TCP, serves a single debug session to
// the first connection accepted, and runs vm under it. One connection per
// run matches spec.md §4.7's one-attachment-per-VM session model.
func (c *Cmd) runDebuggedTCP(vm *interp.VM) error {
	ln, err := net.Listen("tcp", c.TCP)
	if err != nil {
		return err
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()

	sess := debug.NewSession(conn, conn, true)
	vm.Observer = chainObserver(vm.Observer, sess)
	sess.Attach()
	vm.Run()
	return nil
}

// defaultHosts binds the one builtin every frontend declares under the
// reserved "print" import name (spec.md §4.2), writing each argument's
// String() form space-separated to stdio.Stdout.
func defaultHosts(stdio mainer.Stdio) *interp.HostTable {
	hosts := interp.NewHostTable()
	hosts.Bind(interp.PrintOrdinal, func(args []bytecode.Value) (bytecode.Value, error) {
		strs := make([]string, len(args))
		for i, a := range args {
			strs[i] = a.String()
		}
		fmt.Fprintln(stdio.Stdout, strings.Join(strs, " "))
		return bytecode.Null, nil
	})
	return hosts
}

// runREPL reads one line at a time from stdin, each compiled and run as
// its own complete program: spec.md's IR has no notion of an open-ended
// top-level scope spanning separate Compile calls, so variables do not
// persist across lines (a read-eval-print loop in the narrow sense, not a
// stateful session).
func (c *Cmd) runREPL(ctx context.Context, stdio mainer.Stdio) error {
	fmt.Fprintln(stdio.Stdout, "vmforge repl (rss syntax); Ctrl-D to exit")
	scanner := bufio.NewScanner(stdio.Stdin)
	for {
		fmt.Fprint(stdio.Stdout, "> ")
		if !scanner.Scan() {
			return nil
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		unit, err := rss.Parse("<repl>", []byte(line))
		if err != nil {
			fmt.Fprintln(stdio.Stderr, err)
			continue
		}
		stmts, err := linker.Link([]*ir.Unit{unit})
		if err != nil {
			fmt.Fprintln(stdio.Stderr, err)
			continue
		}
		prog, err := backend.Compile(stmts)
		if err != nil {
			fmt.Fprintln(stdio.Stderr, err)
			continue
		}
		vm := interp.New(prog, defaultHosts(stdio))
		watchCancel(ctx, vm)
		vm.Run()
		if vm.Status == interp.Faulted {
			fmt.Fprintln(stdio.Stderr, vm.Fault)
			continue
		}
		if vm.SP > 0 {
			fmt.Fprintln(stdio.Stdout, vm.Stack[vm.SP-1])
		}
	}
}
