package maincmd

import (
	"os"

	"github.com/mna/mainer"
	"github.com/mna/vmforge/lang/debug"
)

// viewRecord implements --view-record: load a recording produced by "run
// --record" and serve the debug protocol over stdio against it, without a
// live VM.
func viewRecord(stdio mainer.Stdio, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		printError(stdio, err)
		return err
	}
	recording, err := debug.Decode(data)
	if err != nil {
		printError(stdio, err)
		return err
	}

	replayer := debug.NewReplayer(recording, stdio.Stdin, stdio.Stdout)
	replayer.Run()
	return nil
}
