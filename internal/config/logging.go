package config

import (
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	sinksMu sync.Mutex
	sinks   = map[string]*lumberjack.Logger{}
)

// Writer returns the log destination: stderr, or a rotating file when
// File is set. Loggers for the same file share one writer so rotation
// happens once.
func (c LogConfig) Writer() io.Writer {
	if c.File == "" {
		return os.Stderr
	}

	sinksMu.Lock()
	defer sinksMu.Unlock()
	if w, ok := sinks[c.File]; ok {
		return w
	}
	w := &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   c.Compress,
	}
	sinks[c.File] = w
	return w
}

// NewLogger returns a logger with the component prefix, e.g. "[sync] ".
func NewLogger(c LogConfig, prefix string) *log.Logger {
	return log.New(c.Writer(), prefix, log.LstdFlags)
}

// CloseLogs closes every open log file.
func CloseLogs() error {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	var first error
	for name, w := range sinks {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(sinks, name)
	}
	return first
}
