/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package logging provides the foundry logger: leveled, printf-style messages
// rendered as plain text, colored text, or JSON lines.
//
// Long-running code (job workers, provisioning steps) logs through the
// context functions (InfoContext, WarnContext, ...) so that the logger chosen
// by the CLI follows the work into every goroutine. Code with no context at
// hand uses the package-level functions, which write to the process default
// set by Initialize.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// LogLevel represents the severity level of a log message
type LogLevel int

// OutputType represents the output format for logs
type OutputType int

// Output types for different log formats
const (
	PlainOutput OutputType = iota
	ColorOutput
	JSONOutput
)

// Log levels, ordered from least to most severe.
const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

// slogLevel maps a LogLevel onto the slog scale used for threshold checks.
func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CustomLogger writes leveled messages to ConsoleWriter.
type CustomLogger struct {
	mu            sync.Mutex
	LogLevel      slog.Level
	OutputType    OutputType
	Quiet         bool
	Verbose       bool
	ConsoleWriter io.Writer
	// Prefix is prepended to every message, e.g. "job=1234".
	Prefix string
}

type jsonLine struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Prefix  string `json:"scope,omitempty"`
	Message string `json:"msg"`
}

// NewCustomLogger creates a plain-text logger writing to stderr.
func NewCustomLogger(level slog.Level) *CustomLogger {
	return &CustomLogger{
		LogLevel:      level,
		ConsoleWriter: os.Stderr,
		OutputType:    PlainOutput,
	}
}

// NewCustomLoggerWithOptions creates a logger from the CLI/config settings.
// Verbose forces the threshold down to debug.
func NewCustomLoggerWithOptions(logLevelStr, outputFormat string, quiet, verbose bool) *CustomLogger {
	logLevel := DetermineLogLevel(logLevelStr)
	if verbose && logLevel > slog.LevelDebug {
		logLevel = slog.LevelDebug
	}

	return &CustomLogger{
		LogLevel:      logLevel,
		OutputType:    DetermineOutputType(outputFormat),
		Quiet:         quiet,
		Verbose:       verbose,
		ConsoleWriter: os.Stderr,
	}
}

// WithPrefix returns a copy of the logger that tags each message with prefix.
func (l *CustomLogger) WithPrefix(prefix string) *CustomLogger {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := prefix
	if l.Prefix != "" {
		p = l.Prefix + " " + prefix
	}
	return &CustomLogger{
		LogLevel:      l.LogLevel,
		OutputType:    l.OutputType,
		Quiet:         l.Quiet,
		Verbose:       l.Verbose,
		ConsoleWriter: l.ConsoleWriter,
		Prefix:        p,
	}
}

// enabledLocked must be called while holding l.mu.
func (l *CustomLogger) enabledLocked(level LogLevel) bool {
	if l.Quiet {
		return level == ErrorLevel
	}
	if l.Verbose {
		return true
	}
	return level.slogLevel() >= l.LogLevel
}

func (l *CustomLogger) render(level LogLevel, ts time.Time, msg string) string {
	switch l.OutputType {
	case JSONOutput:
		b, err := json.Marshal(jsonLine{
			Time:    ts.UTC().Format(time.RFC3339),
			Level:   level.String(),
			Prefix:  l.Prefix,
			Message: msg,
		})
		if err != nil {
			return fmt.Sprintf(`{"level":"ERROR","msg":%q}`, err.Error())
		}
		return string(b)
	case ColorOutput:
		if l.Prefix != "" {
			msg = color.CyanString(l.Prefix) + " " + msg
		}
		stamp := ts.Format("2006-01-02 15:04:05")
		switch level {
		case DebugLevel:
			return fmt.Sprintf("[%s] %s", stamp, color.HiBlackString("[DEBUG] %s", msg))
		case WarnLevel:
			return fmt.Sprintf("[%s] %s", stamp, color.HiYellowString("[WARN] %s", msg))
		case ErrorLevel:
			return fmt.Sprintf("[%s] %s", stamp, color.HiRedString("[ERROR] %s", msg))
		default:
			return fmt.Sprintf("[%s] %s", stamp, color.HiGreenString("[INFO] %s", msg))
		}
	default:
		if l.Prefix != "" {
			msg = l.Prefix + " " + msg
		}
		return fmt.Sprintf("[%s] %s", ts.Format("2006-01-02 15:04:05"), msg)
	}
}

func (l *CustomLogger) log(level LogLevel, message string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabledLocked(level) || l.ConsoleWriter == nil {
		return
	}

	line := l.render(level, time.Now(), fmt.Sprintf(message, args...))
	if _, err := fmt.Fprintln(l.ConsoleWriter, line); err != nil {
		fmt.Fprintln(os.Stderr, line)
	}
}

// SetQuiet enables or disables quiet mode (errors only).
func (l *CustomLogger) SetQuiet(quiet bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Quiet = quiet
}

// SetVerbose enables or disables verbose mode.
func (l *CustomLogger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Verbose = verbose
}

// IsQuiet returns whether the logger is in quiet mode.
func (l *CustomLogger) IsQuiet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Quiet
}

// Info logs an informational message.
func (l *CustomLogger) Info(format string, args ...interface{}) {
	l.log(InfoLevel, format, args...)
}

// Warn logs a warning message.
func (l *CustomLogger) Warn(format string, args ...interface{}) {
	l.log(WarnLevel, format, args...)
}

// Debug logs a debug message.
func (l *CustomLogger) Debug(format string, args ...interface{}) {
	l.log(DebugLevel, format, args...)
}

// Error logs an error message. It accepts either an error, a format string,
// or any other value as the first argument.
func (l *CustomLogger) Error(firstArg interface{}, args ...interface{}) {
	switch v := firstArg.(type) {
	case error:
		l.log(ErrorLevel, "%s", v.Error())
	case string:
		l.log(ErrorLevel, v, args...)
	default:
		l.log(ErrorLevel, "%v", v)
	}
}

// Output writes command results to stdout, as indented JSON when the
// logger is in JSON mode.
func (l *CustomLogger) Output(data interface{}) {
	l.mu.Lock()
	jsonMode := l.OutputType == JSONOutput
	l.mu.Unlock()

	if jsonMode {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(data); err != nil {
			l.Error("failed to encode output: %v", err)
		}
		return
	}
	if _, err := fmt.Fprintln(os.Stdout, data); err != nil {
		l.Error("failed to write output: %v", err)
	}
}

// DetermineLogLevel converts a string to slog.Level
func DetermineLogLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DetermineOutputType converts a format name to an OutputType. Unknown
// names fall back to plain text.
func DetermineOutputType(format string) OutputType {
	switch format {
	case "json":
		return JSONOutput
	case "color":
		return ColorOutput
	default:
		return PlainOutput
	}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = NewCustomLogger(slog.LevelInfo)
)

// Initialize replaces the process default logger.
func Initialize(logLevel, logFormat string, quiet, verbose bool) error {
	switch logFormat {
	case "", "text", "plain", "color", "json":
	default:
		return fmt.Errorf("unknown log format %q (supported: text, color, json)", logFormat)
	}

	l := NewCustomLoggerWithOptions(logLevel, logFormat, quiet, verbose)
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	return nil
}

// Default returns the process default logger.
func Default() *CustomLogger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Info logs through the default logger.
func Info(message string, args ...interface{}) { Default().Info(message, args...) }

// Warn logs through the default logger.
func Warn(message string, args ...interface{}) { Default().Warn(message, args...) }

// Debug logs through the default logger.
func Debug(message string, args ...interface{}) { Default().Debug(message, args...) }

// Error logs through the default logger.
func Error(firstArg interface{}, args ...interface{}) { Default().Error(firstArg, args...) }

type loggerKeyType struct{}

var loggerKey = loggerKeyType{}

// WithLogger returns a new context with the provided logger.
func WithLogger(ctx context.Context, l *CustomLogger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext retrieves the logger from the context, falling back to the
// process default.
func FromContext(ctx context.Context) *CustomLogger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*CustomLogger); ok && l != nil {
			return l
		}
	}
	return Default()
}

// InfoContext logs an informational message using the logger from context.
func InfoContext(ctx context.Context, message string, args ...interface{}) {
	FromContext(ctx).Info(message, args...)
}

// WarnContext logs a warning message using the logger from context.
func WarnContext(ctx context.Context, message string, args ...interface{}) {
	FromContext(ctx).Warn(message, args...)
}

// DebugContext logs a debug message using the logger from context.
func DebugContext(ctx context.Context, message string, args ...interface{}) {
	FromContext(ctx).Debug(message, args...)
}

// ErrorContext logs an error message using the logger from context.
func ErrorContext(ctx context.Context, firstArg interface{}, args ...interface{}) {
	FromContext(ctx).Error(firstArg, args...)
}

// OutputContext sends data to stdout using the logger from context.
func OutputContext(ctx context.Context, data interface{}) {
	FromContext(ctx).Output(data)
}
