// Package debug implements the recorder and debugger of spec.md §4.7: a
// step-by-step recording log that doubles as a replay artifact, and a
// line-delimited text protocol (the same shape over stdio or a TCP
// socket) for interactive and replay debugging. Both the live session and
// the replayer satisfy the same command set so a client doesn't need to
// know which one it's talking to.
package debug

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mna/vmforge/lang/vmerrors"
)

// CommandKind names one of the fixed commands spec.md §4.7 lists.
type CommandKind string

const (
	CmdBreakFunc CommandKind = "break_func"
	CmdBreakLine CommandKind = "break_line"
	CmdClearLine CommandKind = "clear_line"
	CmdStep      CommandKind = "step"
	CmdNext      CommandKind = "next"
	CmdOut       CommandKind = "out"
	CmdContinue  CommandKind = "continue"
	CmdStack     CommandKind = "stack"
	CmdLocals    CommandKind = "locals"
	CmdWhere     CommandKind = "where"
	CmdFuncs     CommandKind = "funcs"
	CmdPrint     CommandKind = "print"
	CmdIP        CommandKind = "ip"
)

// Command is one parsed line of the debug protocol.
type Command struct {
	Kind CommandKind
	Name string // FUNC for break_func, NAME for print
	Line uint32 // N for break_line/clear_line
}

// ParseCommand parses one protocol line. Blank lines and lines consisting
// only of whitespace are rejected as a ProtocolError, same as any other
// unrecognized input.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, &vmerrors.DebuggerError{Kind: vmerrors.ProtocolError, Detail: "empty command"}
	}
	switch fields[0] {
	case "break":
		if len(fields) == 3 && fields[1] == "line" {
			n, err := strconv.ParseUint(fields[2], 10, 32)
			if err != nil {
				return Command{}, &vmerrors.DebuggerError{Kind: vmerrors.ProtocolError, Detail: "break line: " + err.Error()}
			}
			return Command{Kind: CmdBreakLine, Line: uint32(n)}, nil
		}
		if len(fields) == 2 {
			return Command{Kind: CmdBreakFunc, Name: fields[1]}, nil
		}
	case "clear":
		if len(fields) == 3 && fields[1] == "line" {
			n, err := strconv.ParseUint(fields[2], 10, 32)
			if err != nil {
				return Command{}, &vmerrors.DebuggerError{Kind: vmerrors.ProtocolError, Detail: "clear line: " + err.Error()}
			}
			return Command{Kind: CmdClearLine, Line: uint32(n)}, nil
		}
	case "step":
		if len(fields) == 1 {
			return Command{Kind: CmdStep}, nil
		}
	case "next":
		if len(fields) == 1 {
			return Command{Kind: CmdNext}, nil
		}
	case "out":
		if len(fields) == 1 {
			return Command{Kind: CmdOut}, nil
		}
	case "continue":
		if len(fields) == 1 {
			return Command{Kind: CmdContinue}, nil
		}
	case "stack":
		if len(fields) == 1 {
			return Command{Kind: CmdStack}, nil
		}
	case "locals":
		if len(fields) == 1 {
			return Command{Kind: CmdLocals}, nil
		}
	case "where":
		if len(fields) == 1 {
			return Command{Kind: CmdWhere}, nil
		}
	case "funcs":
		if len(fields) == 1 {
			return Command{Kind: CmdFuncs}, nil
		}
	case "print":
		if len(fields) == 2 {
			return Command{Kind: CmdPrint, Name: fields[1]}, nil
		}
	case "ip":
		if len(fields) == 1 {
			return Command{Kind: CmdIP}, nil
		}
	}
	return Command{}, &vmerrors.DebuggerError{Kind: vmerrors.ProtocolError, Detail: fmt.Sprintf("malformed command: %q", line)}
}

// readCommands scans lines from r, parsing each into a Command and sending
// it on the returned channel; the channel is closed when r is exhausted or
// errors (the client disconnected), which callers treat as the protocol
// end-of-session signal.
func readCommands(r io.Reader) <-chan Command {
	ch := make(chan Command)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			cmd, err := ParseCommand(line)
			if err != nil {
				continue
			}
			ch <- cmd
		}
	}()
	return ch
}

// writeLines writes a response: a single line if there's exactly one,
// otherwise each line followed by a blank terminator line, per spec.md
// §4.7's "one response per line or multi-line block terminated by a blank
// line".
func writeLines(w io.Writer, lines ...string) {
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	if len(lines) != 1 {
		fmt.Fprintln(w)
	}
}
