// Package logging provides the rotating-file structured logger shared by
// the engine and the dispatch server.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps a standard log.Logger backed by a rotating file sink, with
// an optional JSON-line mode and a correlation ID threaded through a run.
type Logger struct {
	mu            sync.Mutex
	out           *log.Logger
	sink          *lumberjack.Logger
	jsonMode      bool
	correlationID string
}

// Options configures a new Logger.
type Options struct {
	Path          string // log file path; created with parent dirs if needed
	MaxSizeMB     int
	MaxBackups    int
	MaxAgeDays    int
	Compress      bool
	JSON          bool
	CorrelationID string
}

// DefaultOptions mirrors the teacher's workspace logger defaults.
func DefaultOptions(path string) Options {
	return Options{
		Path:       path,
		MaxSizeMB:  15,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// New creates a Logger writing to a rotating file at opts.Path.
func New(opts Options) *Logger {
	sink := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return &Logger{
		out:           log.New(sink, "", log.LstdFlags),
		sink:          sink,
		jsonMode:      opts.JSON,
		correlationID: opts.CorrelationID,
	}
}

// Close releases the underlying log file.
func (l *Logger) Close() error {
	return l.sink.Close()
}

// WithCorrelationID returns a shallow copy of the logger tagged with id,
// used to scope one engine run's log lines together.
func (l *Logger) WithCorrelationID(id string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{out: l.out, sink: l.sink, jsonMode: l.jsonMode, correlationID: id}
}

func (l *Logger) log(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		_ = json.NewEncoder(l.out.Writer()).Encode(map[string]any{
			"level": level, "msg": msg, "cid": l.correlationID,
		})
		return
	}
	if l.correlationID != "" {
		l.out.Printf("[%s] [%s] %s", level, l.correlationID, msg)
		return
	}
	l.out.Printf("[%s] %s", level, msg)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log("debug", format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log("info", format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log("warn", format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log("error", format, args...) }

// Nop returns a Logger that discards everything, for tests.
func Nop() *Logger {
	return &Logger{out: log.New(io.Discard, "", 0), sink: &lumberjack.Logger{Filename: os.DevNull}}
}
