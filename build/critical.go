package build

import (
	"fmt"
	"os"
	"runtime/debug"
)

// Critical should be called if a sanity check has failed, indicating a bug in
// the chunk table, placement chooser, or connection FSM rather than a
// remote-side error. If the program does not panic, the call stack for the
// running goroutine is printed to help determine the error.
func Critical(v ...interface{}) {
	s := "Critical error: " + fmt.Sprintln(v...) + "Please file a bug report against lizardfs-sub006.\n"
	if Release != "testing" {
		debug.PrintStack()
		os.Stderr.WriteString(s)
	}
	if DEBUG {
		panic(s)
	}
}
