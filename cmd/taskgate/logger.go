package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/taskgate/internal/config"
)

// defaultDevLogDir is resolved against the workspace root.
const defaultDevLogDir = ".taskgate/log"

// runtimeLogger writes CLI lifecycle events to the console and, in dev mode,
// to a per-day log file. Long-lived components get their own logger.
type runtimeLogger struct {
	sinks     []*charmLog.Logger
	component *charmLog.Logger
	file      *os.File
	devLog    string
}

// newRuntimeLogger builds the sinks for one CLI invocation.
func newRuntimeLogger(stderr io.Writer, appName string, devMode bool, cfg config.LoggingConfig, now func() time.Time) (*runtimeLogger, error) {
	level, err := charmLog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse logging level %q: %w", cfg.Level, err)
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if now == nil {
		now = time.Now
	}

	console := charmLog.NewWithOptions(stderr, sinkOptions(appName, level, charmLog.TextFormatter))
	rl := &runtimeLogger{sinks: []*charmLog.Logger{console}, component: console}
	if !devMode || !cfg.DevFile.Enabled {
		return rl, nil
	}

	path, err := devLogFilePath(cfg.DevFile.Dir, appName, now().UTC())
	if err != nil {
		return nil, fmt.Errorf("resolve dev log file path: %w", err)
	}
	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	logfmt := sinkOptions(appName, level, charmLog.LogfmtFormatter)
	rl.sinks = append(rl.sinks, charmLog.NewWithOptions(file, logfmt))
	rl.component = charmLog.NewWithOptions(io.MultiWriter(stderr, file), logfmt)
	rl.file = file
	rl.devLog = path
	return rl, nil
}

func sinkOptions(prefix string, level charmLog.Level, formatter charmLog.Formatter) charmLog.Options {
	return charmLog.Options{
		Level:           level,
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	}
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dev log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dev log file: %w", err)
	}
	return file, nil
}

// Component returns the logger handed to the service and transports.
func (l *runtimeLogger) Component() *charmLog.Logger {
	if l == nil || l.component == nil {
		return charmLog.New(io.Discard)
	}
	return l.component
}

// DevLogPath returns the dev log file path, or "" when file logging is off.
func (l *runtimeLogger) DevLogPath() string {
	if l == nil {
		return ""
	}
	return l.devLog
}

func (l *runtimeLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func (l *runtimeLogger) Debug(msg string, keyvals ...any) { l.emit(charmLog.DebugLevel, msg, keyvals) }
func (l *runtimeLogger) Info(msg string, keyvals ...any)  { l.emit(charmLog.InfoLevel, msg, keyvals) }
func (l *runtimeLogger) Warn(msg string, keyvals ...any)  { l.emit(charmLog.WarnLevel, msg, keyvals) }
func (l *runtimeLogger) Error(msg string, keyvals ...any) { l.emit(charmLog.ErrorLevel, msg, keyvals) }

func (l *runtimeLogger) emit(level charmLog.Level, msg string, keyvals []any) {
	if l == nil {
		return
	}
	for _, sink := range l.sinks {
		sink.Log(level, msg, keyvals...)
	}
}

// devLogFilePath returns <dir>/<app>-<yyyymmdd>.log. Relative dirs hang off
// the workspace root so runs from subdirectories share one file.
func devLogFilePath(dir, appName string, day time.Time) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = defaultDevLogDir
	}
	if !filepath.IsAbs(dir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working dir: %w", err)
		}
		dir = filepath.Join(workspaceRootFrom(cwd), dir)
	}
	name := sanitizeLogFileStem(appName) + "-" + day.Format("20060102") + ".log"
	return filepath.Join(filepath.Clean(dir), name), nil
}

// workspaceRootFrom walks up from start to the nearest go.mod or .git.
// It returns start when no marker exists.
func workspaceRootFrom(start string) string {
	start = filepath.Clean(strings.TrimSpace(start))
	for dir := start; ; {
		for _, marker := range []string{"go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

func sanitizeLogFileStem(appName string) string {
	stem := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '-'
		}
		return r
	}, strings.TrimSpace(appName))
	if stem = strings.Trim(stem, "-"); stem == "" {
		return "taskgate"
	}
	return stem
}
