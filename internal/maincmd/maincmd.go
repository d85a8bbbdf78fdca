// Package maincmd is the cmd/vmforge entrypoint's command dispatch,
// generalized from the teacher's internal/maincmd/maincmd.go: a single
// Cmd struct carries every flag (struct-tag based, parsed by
// github.com/mna/mainer), and buildCmds resolves the <command> word via
// reflection over Cmd's methods instead of a hand-written switch.
package maincmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mna/mainer"
)

const binName = "vmforge"

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <command> <path>
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] <command> <path>
       %[1]s -h|--help
       %[1]s -v|--version

Compiler, VM and debugger for the language described in spec.md.

The <command> is:
       run                       Compile and execute path, one of
                                 *.rss/*.js/*.lua/*.scm, or a .vmbc
                                 binary produced by --emit-vmbc.

--disasm-vmbc and --view-record are standalone modes, like --help:
they take the place of <command> <path> entirely.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.
       --disasm-vmbc PATH        Decode a .vmbc binary and print its
                                 text-assembler disassembly.
       --view-record PATH        Replay a recording produced by
                                 --record against the interactive
                                 debugger protocol.

Valid flag options for the <run> command are:
       --emit-vmbc PATH          Compile path and write the VMBC binary
                                 to PATH instead of executing it.
       --show-source             Embed path's source text in the
                                 compiled program's debug info (also
                                 honored by --disasm-vmbc).
       --debug                   Attach an interactive debug session on
                                 stdin/stdout before running.
       --tcp ADDR                Attach the debug session on ADDR
                                 instead of stdio (implies --debug).
       --record PATH             Record every step to PATH as the
                                 program runs.
       --jit-hot-loop N          Compile a loop to native code after N
                                 back-edges (0 disables the JIT).
       --jit-dump                Print trace JIT statistics to stderr
                                 after the run.
       --repl                    Run an interactive read-eval-print
                                 loop instead of a single program.

More information on the repository:
       https://github.com/mna/vmforge
`, binName)
)

// Cmd holds every flag accepted by the vmforge binary and the parsed
// positional arguments, mirroring the teacher's flat struct-tag Cmd.
type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	DisasmVMBC string `flag:"disasm-vmbc"`
	ViewRecord string `flag:"view-record"`

	EmitVMBC   string `flag:"emit-vmbc"`
	ShowSource bool   `flag:"show-source"`
	Debug      bool   `flag:"debug"`
	TCP        string `flag:"tcp"`
	Record     string `flag:"record"`
	JITHotLoop int    `flag:"jit-hot-loop"`
	JITDump    bool   `flag:"jit-dump"`
	REPL       bool   `flag:"repl"`

	args  []string
	flags map[string]bool
	cmdFn func(context.Context, mainer.Stdio, []string) error
}

func (c *Cmd) SetArgs(args []string) {
	c.args = args
}

func (c *Cmd) SetFlags(flags map[string]bool) {
	c.flags = flags
}

func (c *Cmd) Validate() error {
	if c.Help || c.Version || c.DisasmVMBC != "" || c.ViewRecord != "" {
		return nil
	}

	if len(c.args) == 0 {
		return errors.New("no command specified")
	}

	cmdName := c.args[0]

	commands := buildCmds(c)
	c.cmdFn = commands[cmdName]
	if c.cmdFn == nil {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	if cmdName == "run" && !c.REPL && len(c.args[1:]) == 0 {
		return fmt.Errorf("run: a source or .vmbc path is required (or pass --repl)")
	}

	if c.TCP != "" {
		c.Debug = true
	}

	return nil
}

func printError(stdio mainer.Stdio, err error) {
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
	}
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{
		EnvVars:   false,
		EnvPrefix: binName + "_",
	}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success

	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success

	case c.DisasmVMBC != "":
		if err := disasmVMBC(stdio, c.DisasmVMBC, c.ShowSource); err != nil {
			return exitCodeFor(err)
		}
		return mainer.Success

	case c.ViewRecord != "":
		if err := viewRecord(stdio, c.ViewRecord); err != nil {
			return exitCodeFor(err)
		}
		return mainer.Success
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	if err := c.cmdFn(ctx, stdio, c.args[1:]); err != nil {
		return exitCodeFor(err)
	}
	return mainer.Success
}

// valid commands are those that take a mainer.Stdio and a slice of strings
// as input, and return an error as output.
func buildCmds(v interface{}) map[string]func(context.Context, mainer.Stdio, []string) error {
	cmds := make(map[string]func(context.Context, mainer.Stdio, []string) error)

	vv := reflect.ValueOf(v)
	vt := vv.Type()
	for i := 0; i < vt.NumMethod(); i++ {
		m := vt.Method(i)
		mt := m.Type

		if mt.NumIn() != 4 || mt.NumOut() != 1 {
			continue
		}
		if rt := mt.Out(0); rt.Kind() != reflect.Interface || rt.Name() != "error" {
			continue
		}
		if p0 := mt.In(0); p0.Kind() != reflect.Ptr || p0.Elem().Name() != "Cmd" {
			continue
		}
		if p1 := mt.In(1); p1.Kind() != reflect.Interface || p1.Name() != "Context" {
			continue
		}
		if p2 := mt.In(2); p2.Kind() != reflect.Struct || p2.Name() != "Stdio" {
			continue
		}
		if p3 := mt.In(3); p3.Kind() != reflect.Slice || p3.Elem().Name() != "string" {
			continue
		}
		cmds[strings.ToLower(m.Name)] = vv.Method(i).Interface().(func(context.Context, mainer.Stdio, []string) error)
	}
	return cmds
}
