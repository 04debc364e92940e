package persist

import (
	"log"
	"os"
)

// Logger is a file-backed logger that frames a daemon's lifetime with
// STARTUP and SHUTDOWN lines, so a truncated log file is immediately
// recognizable as "process never shut down cleanly" during incident review.
type Logger struct {
	*log.Logger
	file *os.File
}

// NewLogger opens (creating if necessary) filename for appending and
// writes a STARTUP line.
func NewLogger(filename string) (*Logger, error) {
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	l := &Logger{
		Logger: log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds),
		file:   f,
	}
	l.Println("STARTUP: logging has started.")
	return l, nil
}

// Close writes a SHUTDOWN line and closes the underlying file.
func (l *Logger) Close() error {
	l.Println("SHUTDOWN: logging has terminated.")
	return l.file.Close()
}
