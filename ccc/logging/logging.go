package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger is the logging interface used across the processing server
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// slogLevel maps the configured level name onto slog. Unknown names fall
// back to info.
func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// dailyRotatingWriter switches to a fresh log file whenever the local date
// changes. Long-running worker daemons never reopen logs otherwise.
type dailyRotatingWriter struct {
	logDir      string
	baseName    string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

func newDailyRotatingWriter(logDir, baseName string) *dailyRotatingWriter {
	return &dailyRotatingWriter{
		logDir:   logDir,
		baseName: baseName,
	}
}

// Write implements the io.Writer interface
func (w *dailyRotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Rotation follows local time
	currentDate := time.Now().Format("2006-01-02")

	if w.currentFile == nil || w.currentDate != currentDate {
		if err := w.rotate(currentDate); err != nil {
			return 0, err
		}
	}

	return w.currentFile.Write(p)
}

// rotate closes the current file and opens the one for the given date
func (w *dailyRotatingWriter) rotate(date string) error {
	if w.currentFile != nil {
		w.currentFile.Close()
	}

	name := fmt.Sprintf("%s-%s.log", w.baseName, date)
	file, err := os.OpenFile(filepath.Join(w.logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	w.currentFile = file
	w.currentDate = date
	return nil
}

// CreateLogger creates a JSON logger writing to daily rotating files under
// logDir, named after the given process name. If the log directory cannot be
// created the logger falls back to stderr so a worker daemon still reports
// its failures somewhere.
func CreateLogger(logLevel LogLevel, logDir string, processName string) Logger {
	opts := &slog.HandlerOptions{Level: logLevel.slogLevel()}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(newDailyRotatingWriter(logDir, processName), opts))
}

type nopLogger struct{}

// NopLogger discards everything. Constructors substitute it when no logger
// is supplied.
var NopLogger Logger = &nopLogger{}

func (l *nopLogger) Info(msg string, args ...any)  {}
func (l *nopLogger) Warn(msg string, args ...any)  {}
func (l *nopLogger) Error(msg string, args ...any) {}
func (l *nopLogger) Debug(msg string, args ...any) {}
