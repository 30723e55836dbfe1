package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"aimonitor/internal/config"

	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarning
	levelError
)

// Log file names, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (debug/info/warning/error) to rotating files and stdout/stderr.
type Logger struct {
	debugLog   *log.Logger
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	files      map[string]*lumberjack.Logger
	logDir     string
	minLevel   level
	mu         sync.Mutex
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(cfg *config.Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{
		logDir:   cfg.LogDirectory,
		minLevel: parseLevel(cfg.LogLevel),
		files:    make(map[string]*lumberjack.Logger),
	}

	info := l.openLogFile(InfoFile)
	warning := l.openLogFile(WarningFile)
	errorFile := l.openLogFile(ErrorFile)

	l.setupLoggers(
		io.MultiWriter(os.Stdout, info),
		io.MultiWriter(os.Stdout, warning),
		io.MultiWriter(os.Stderr, errorFile),
	)
	return l, nil
}

// NewWriterLogger creates a Logger that writes every level to w without touching the filesystem.
func NewWriterLogger(w io.Writer) *Logger {
	l := &Logger{minLevel: levelDebug}
	l.setupLoggers(w, w, w)
	return l
}

// setupLoggers initializes per-level loggers on top of the given writers.
func (l *Logger) setupLoggers(info, warning, errorWriter io.Writer) {
	l.debugLog = log.New(info, "🔍 DEBUG   ", log.Ldate|log.Ltime|log.Lshortfile)
	l.infoLog = log.New(info, "ℹ️  INFO    ", log.Ldate|log.Ltime|log.Lshortfile)
	l.warningLog = log.New(warning, "⚠️  WARNING ", log.Ldate|log.Ltime|log.Lshortfile)
	l.errorLog = log.New(errorWriter, "❌ ERROR   ", log.Ldate|log.Ltime|log.Lshortfile)
}

// openLogFile returns a size-rotated writer for a file inside the log directory.
func (l *Logger) openLogFile(name string) *lumberjack.Logger {
	f := &lumberjack.Logger{
		Filename:   filepath.Join(l.logDir, name),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	l.files[name] = f
	return f
}

func parseLevel(s string) level {
	switch strings.ToLower(s) {
	case "debug":
		return levelDebug
	case "warn", "warning":
		return levelWarning
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (l *Logger) output(lvl level, dst *log.Logger, format string, v ...interface{}) {
	if lvl < l.minLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = dst.Output(3, fmt.Sprintf(format, v...))
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.output(levelDebug, l.debugLog, format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.output(levelInfo, l.infoLog, format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.output(levelWarning, l.warningLog, format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.output(levelError, l.errorLog, format, v...)
}

// LogDirectory returns the directory holding the level files, empty for writer loggers.
func (l *Logger) LogDirectory() string {
	return l.logDir
}

// RotateLogs archives the named log file and starts a fresh one.
func (l *Logger) RotateLogs(fileName string) error {
	l.mu.Lock()
	f, ok := l.files[fileName]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown log file: %s", fileName)
	}
	if err := f.Rotate(); err != nil {
		return fmt.Errorf("rotate %s: %w", fileName, err)
	}
	l.Info("Log file %s rotated", fileName)
	return nil
}

// Close flushes and closes every log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	for _, f := range l.files {
		err = multierr.Append(err, f.Close())
	}
	return err
}
