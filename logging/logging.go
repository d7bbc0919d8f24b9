package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// logging levels
const (
	DEBUG = "DEBUG"
	INFO  = "INFO"
	WARN  = "WARN"
	ERROR = "ERROR"
)

var (
	mu     sync.RWMutex
	logger = newLogger(INFO)
)

func newLogger(level string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "monkafka-registry",
		Level:  hclog.LevelFromString(level),
		Output: os.Stdout,
	})
}

// SetLogLevel sets the log level for filtering logs. Unknown levels fall back to INFO.
func SetLogLevel(logLevel string) {
	level := strings.ToUpper(logLevel)
	if hclog.LevelFromString(level) == hclog.NoLevel {
		level = INFO
	}
	mu.RLock()
	defer mu.RUnlock()
	logger.SetLevel(hclog.LevelFromString(level))
}

// SetOutput replaces the shared logger
func SetOutput(l hclog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Logger returns the shared hclog.Logger so raft and serf log through the same sink
func Logger() hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Log writes a log message at a specified level, formatted with optional arguments
func Log(level, message string, a ...any) {
	l := Logger()
	msg := strings.TrimRight(fmt.Sprintf(message, a...), "\n")
	switch level {
	case DEBUG:
		l.Debug(msg)
	case WARN:
		l.Warn(msg)
	case ERROR:
		l.Error(msg)
	default:
		l.Info(msg)
	}
}

// Debug logs a message at DEBUG level
func Debug(message string, a ...any) {
	Log(DEBUG, message, a...)
}

// Info logs a message at INFO level
func Info(message string, a ...any) {
	Log(INFO, message, a...)
}

// Warn logs a message at WARN level
func Warn(message string, a ...any) {
	Log(WARN, message, a...)
}

// Error logs a message at ERROR level
func Error(message string, a ...any) {
	Log(ERROR, message, a...)
}

// Panic logs a message at ERROR level and panics with it
func Panic(message string, a ...any) {
	msg := fmt.Sprintf(message, a...)
	Log(ERROR, "%s", msg)
	panic(msg)
}
