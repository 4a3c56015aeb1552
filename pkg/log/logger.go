package log

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/go-logfmt/logfmt"
)

type (
	Logger interface {
		Errorf(msg string, args ...any)
		Warnf(msg string, args ...any)
		Infof(msg string, args ...any)
	}

	simpleLogger struct{}
)

// SimpleLogger is a bare-bones implementation of the logging interface, e.g., used for testing
func SimpleLogger() Logger {
	return &simpleLogger{}
}

func (*simpleLogger) Errorf(msg string, args ...any) {
	formattedMessage := fmt.Sprintf(msg, args...)
	log.Printf("[ERROR] %s", formattedMessage)
}

func (*simpleLogger) Warnf(msg string, args ...any) {
	formattedMessage := fmt.Sprintf(msg, args...)
	log.Printf("[WARNING] %s", formattedMessage)
}

func (*simpleLogger) Infof(msg string, args ...any) {
	formattedMessage := fmt.Sprintf(msg, args...)
	log.Printf("[INFO] %s", formattedMessage)
}

type logfmtLogger struct {
	mu  sync.Mutex
	enc *logfmt.Encoder
	now func() time.Time
}

// LogfmtLogger writes one logfmt record per log call, e.g.:
//
//	ts=2024-01-02T15:04:05Z level=warn msg="object DBO.V skipped"
func LogfmtLogger(w io.Writer) Logger {
	return &logfmtLogger{
		enc: logfmt.NewEncoder(w),
		now: time.Now,
	}
}

func (l *logfmtLogger) Errorf(msg string, args ...any) {
	l.log("error", msg, args...)
}

func (l *logfmtLogger) Warnf(msg string, args ...any) {
	l.log("warn", msg, args...)
}

func (l *logfmtLogger) Infof(msg string, args ...any) {
	l.log("info", msg, args...)
}

func (l *logfmtLogger) log(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// A logger has nowhere to report its own write failures.
	_ = l.enc.EncodeKeyvals(
		"ts", l.now().UTC().Format(time.RFC3339),
		"level", level,
		"msg", fmt.Sprintf(msg, args...),
	)
	_ = l.enc.EndRecord()
}

type nopLogger struct{}

// NopLogger discards everything
func NopLogger() Logger {
	return nopLogger{}
}

func (nopLogger) Errorf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Infof(string, ...any)  {}
