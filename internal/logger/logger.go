package logger

import (
	"io"
	"log"
	"os"
)

// Shared loggers. Components take these as injected fields at construction
// time so tests can swap them out.
var (
	Debug = log.New(io.Discard, "DEBUG\t", log.Ldate|log.Ltime|log.Lshortfile)
	Info  = log.New(os.Stdout, "INFO\t", log.Ldate|log.Ltime)
	Error = log.New(os.Stderr, "ERROR\t", log.Ldate|log.Ltime|log.Lshortfile)
)

// Init wires the loggers to their final destinations. Debug output is
// discarded unless explicitly enabled.
func Init(debug bool) {
	Info.SetOutput(os.Stdout)
	Error.SetOutput(os.Stderr)
	if debug {
		Debug.SetOutput(os.Stdout)
	}
}
