// Package sylog implements a small leveled, ANSI-colored logger used
// throughout the bring-up pipeline. It writes to stderr and takes its
// default level from the DROIDSPACES_MESSAGELEVEL environment variable so
// that a level chosen by an outer process (the CLI layer) survives across
// an exec boundary.
package sylog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
)

type messageLevel int

const (
	FatalLevel   messageLevel = -4
	ErrorLevel   messageLevel = -3
	WarnLevel    messageLevel = -2
	LogLevel     messageLevel = -1
	InfoLevel    messageLevel = 1
	VerboseLevel messageLevel = 2
	DebugLevel   messageLevel = 3
)

func (l messageLevel) String() string {
	switch l {
	case FatalLevel:
		return "FATAL"
	case ErrorLevel:
		return "ERROR"
	case WarnLevel:
		return "WARNING"
	case LogLevel:
		return "LOG"
	case InfoLevel:
		return "INFO"
	case VerboseLevel:
		return "VERBOSE"
	case DebugLevel:
		return "DEBUG"
	default:
		return "LOG"
	}
}

var messageColors = map[messageLevel]string{
	FatalLevel: "\x1b[31m",
	ErrorLevel: "\x1b[31m",
	WarnLevel:  "\x1b[33m",
	InfoLevel:  "\x1b[34m",
}

var loggerLevel = InfoLevel

var logWriter = (io.Writer)(os.Stderr)

func init() {
	if l, err := strconv.Atoi(os.Getenv("DROIDSPACES_MESSAGELEVEL")); err == nil {
		loggerLevel = messageLevel(l)
	}
}

func prefix(msgLevel messageLevel) string {
	color, ok := messageColors[msgLevel]
	reset := "\x1b[0m"
	if !ok {
		color, reset = "", ""
	}

	if loggerLevel < DebugLevel {
		return fmt.Sprintf("%s%-8s%s ", color, msgLevel.String()+":", reset)
	}

	pc, _, _, ok := runtime.Caller(3)
	details := runtime.FuncForPC(pc)
	funcName := "????()"
	if ok && details != nil {
		parts := strings.Split(details.Name(), ".")
		funcName = parts[len(parts)-1] + "()"
	}
	return fmt.Sprintf("%s%-8s%s[P=%d] %-30s", color, msgLevel.String()+":", reset, os.Getpid(), funcName)
}

func writef(msgLevel messageLevel, format string, a ...interface{}) {
	if loggerLevel < msgLevel {
		return
	}
	message := strings.TrimRight(fmt.Sprintf(format, a...), "\n")
	fmt.Fprintf(logWriter, "%s%s\n", prefix(msgLevel), message)
}

// Fatalf writes a FATAL level message and exits the process with code 255.
// Core library code should not call this directly; it exists for the
// orchestrator's top-level error handler.
func Fatalf(format string, a ...interface{}) {
	writef(FatalLevel, format, a...)
	os.Exit(255)
}

// Errorf writes an ERROR level message without exiting.
func Errorf(format string, a ...interface{}) {
	writef(ErrorLevel, format, a...)
}

// Warnf writes a WARNING level message, used for every degradable failure.
func Warnf(format string, a ...interface{}) {
	writef(WarnLevel, format, a...)
}

// Infof writes an INFO level message. Shown by default.
func Infof(format string, a ...interface{}) {
	writef(InfoLevel, format, a...)
}

// Verbosef writes a VERBOSE level message, hidden unless explicitly raised.
func Verbosef(format string, a ...interface{}) {
	writef(VerboseLevel, format, a...)
}

// Debugf writes a DEBUG level message, annotated with the calling function.
func Debugf(format string, a ...interface{}) {
	writef(DebugLevel, format, a...)
}

// SetLevel explicitly sets the logger level for the remainder of the process.
func SetLevel(l int) {
	loggerLevel = messageLevel(l)
}

// GetLevel returns the current logger level as an integer.
func GetLevel() int {
	return int(loggerLevel)
}

// EnvVar returns a DROIDSPACES_MESSAGELEVEL=N string suitable for passing
// the current level across a fork-exec boundary.
func EnvVar() string {
	return fmt.Sprintf("DROIDSPACES_MESSAGELEVEL=%d", loggerLevel)
}

// SetWriter redirects log output, returning the previous writer so tests
// can capture and later restore it.
func SetWriter(w io.Writer) io.Writer {
	old := logWriter
	if w != nil {
		logWriter = w
	}
	return old
}
