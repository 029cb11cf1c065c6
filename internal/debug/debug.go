package debug

import (
	"io"
	"log"
	"os"
	"sync"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Connection changes, calibration results, rejections
	LevelLive    = 2 // Commands sent, position polls
	LevelVerbose = 3 // State transitions, computed velocities
	LevelTrace   = 4 // Raw wire traffic
)

var (
	mu     sync.RWMutex
	level  int
	logger = log.New(os.Stdout, "[pantilt] ", log.LstdFlags|log.Lmicroseconds)
)

// Init sets the debug level (0-4).
func Init(debugLevel int) {
	mu.Lock()
	level = debugLevel
	mu.Unlock()
}

// SetOutput redirects all debug output.
func SetOutput(w io.Writer) {
	mu.Lock()
	logger.SetOutput(w)
	mu.Unlock()
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func printf(minLevel int, tag, format string, args ...interface{}) {
	if !IsEnabled(minLevel) {
		return
	}
	logger.Printf(tag+format, args...)
}

// Info prints a level 1 message.
func Info(format string, args ...interface{}) {
	printf(LevelInfo, "[INFO] ", format, args...)
}

// Warn prints a level 1 warning.
func Warn(format string, args ...interface{}) {
	printf(LevelInfo, "[WARN] ", format, args...)
}

// Live prints a level 2 message.
func Live(format string, args ...interface{}) {
	printf(LevelLive, "[LIVE] ", format, args...)
}

// Verbose prints a level 3 message.
func Verbose(format string, args ...interface{}) {
	printf(LevelVerbose, "[VERBOSE] ", format, args...)
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	printf(LevelInfo, "[INFO]   ", "%s = %v", name, value)
}

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	printf(LevelTrace, "[TRACE] ", format, args...)
}

// Wire prints raw protocol traffic (level 4). dir is "tx" or "rx".
func Wire(dir string, data string) {
	printf(LevelTrace, "[WIRE] ", "%s %q", dir, data)
}

// Error prints an error (level 1+).
func Error(err error) {
	if err == nil {
		return
	}
	printf(LevelInfo, "[ERROR] ", "%v", err)
}
