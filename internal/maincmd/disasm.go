package maincmd

import (
	"fmt"
	"os"

	"github.com/mna/mainer"
	"github.com/mna/vmforge/lang/asm"
	"github.com/mna/vmforge/lang/vmbc"
)

// disasmVMBC implements --disasm-vmbc: decode a VMBC binary and print its
// text-assembler form (lang/asm.Format), the human-readable inverse of
// the wire format spec.md §6 fixes.
func disasmVMBC(stdio mainer.Stdio, path string, showSource bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		printError(stdio, err)
		return err
	}
	prog, err := vmbc.Decode(data)
	if err != nil {
		printError(stdio, err)
		return err
	}

	text, err := asm.Format(prog)
	if err != nil {
		printError(stdio, err)
		return err
	}
	stdio.Stdout.Write(text)

	if showSource && prog.Debug != nil && len(prog.Debug.Source) > 0 {
		for offset, src := range prog.Debug.Source {
			fmt.Fprintf(stdio.Stdout, "\n; embedded source @ %d\n%s\n", offset, src)
		}
	}
	return nil
}
