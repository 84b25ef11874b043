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

package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/cowdogmoo/foundry/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(level, format string, quiet, verbose bool) (*logging.CustomLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := logging.NewCustomLoggerWithOptions(level, format, quiet, verbose)
	l.ConsoleWriter = buf
	return l, buf
}

func TestNewCustomLoggerWithOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		level      string
		format     string
		verbose    bool
		wantLevel  slog.Level
		wantOutput logging.OutputType
	}{
		{name: "defaults", wantLevel: slog.LevelInfo, wantOutput: logging.PlainOutput},
		{name: "json warn", level: "warn", format: "json", wantLevel: slog.LevelWarn, wantOutput: logging.JSONOutput},
		{name: "color error", level: "error", format: "color", wantLevel: slog.LevelError, wantOutput: logging.ColorOutput},
		{name: "verbose lowers level", level: "error", verbose: true, wantLevel: slog.LevelDebug, wantOutput: logging.PlainOutput},
		{name: "unknown format is plain", format: "xml", wantLevel: slog.LevelInfo, wantOutput: logging.PlainOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := logging.NewCustomLoggerWithOptions(tt.level, tt.format, false, tt.verbose)
			assert.Equal(t, tt.wantLevel, l.LogLevel)
			assert.Equal(t, tt.wantOutput, l.OutputType)
		})
	}
}

func TestCustomLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		level   string
		quiet   bool
		verbose bool
		log     func(*logging.CustomLogger)
		want    bool
	}{
		{name: "info shown at info", level: "info", log: func(l *logging.CustomLogger) { l.Info("x") }, want: true},
		{name: "debug hidden at info", level: "info", log: func(l *logging.CustomLogger) { l.Debug("x") }, want: false},
		{name: "debug shown when verbose", level: "info", verbose: true, log: func(l *logging.CustomLogger) { l.Debug("x") }, want: true},
		{name: "warn hidden at error", level: "error", log: func(l *logging.CustomLogger) { l.Warn("x") }, want: false},
		{name: "quiet hides warn", level: "debug", quiet: true, log: func(l *logging.CustomLogger) { l.Warn("x") }, want: false},
		{name: "quiet keeps error", level: "debug", quiet: true, log: func(l *logging.CustomLogger) { l.Error("x") }, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l, buf := newBufferedLogger(tt.level, "text", tt.quiet, tt.verbose)
			tt.log(l)
			assert.Equal(t, tt.want, buf.Len() > 0)
		})
	}
}

func TestCustomLogger_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		firstArg interface{}
		args     []interface{}
		want     string
	}{
		{name: "error value", firstArg: errors.New("boom 100%"), want: "boom 100%"},
		{name: "format string", firstArg: "failed: %s", args: []interface{}{"teardown"}, want: "failed: teardown"},
		{name: "other value", firstArg: 42, want: "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l, buf := newBufferedLogger("debug", "text", false, false)
			l.Error(tt.firstArg, tt.args...)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestCustomLogger_JSONOutput(t *testing.T) {
	t.Parallel()

	l, buf := newBufferedLogger("info", "json", false, false)
	l.WithPrefix("job=abc").Warn("instance %s not running", "i-123")

	var line map[string]string
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "job=abc", line["scope"])
	assert.Equal(t, "instance i-123 not running", line["msg"])
}

func TestCustomLogger_ColorOutput(t *testing.T) {
	t.Parallel()

	for _, level := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		t.Run(level, func(t *testing.T) {
			t.Parallel()
			l, buf := newBufferedLogger("debug", "color", false, true)
			switch level {
			case "DEBUG":
				l.Debug("msg")
			case "INFO":
				l.Info("msg")
			case "WARN":
				l.Warn("msg")
			case "ERROR":
				l.Error("msg")
			}
			assert.Contains(t, buf.String(), "["+level+"]")
		})
	}
}

func TestCustomLogger_WithPrefix(t *testing.T) {
	t.Parallel()

	l, buf := newBufferedLogger("info", "text", false, false)
	child := l.WithPrefix("job=1").WithPrefix("step=poll")
	child.Info("waiting")

	assert.Contains(t, buf.String(), "job=1 step=poll waiting")
	assert.Empty(t, l.Prefix)
}

func TestCustomLogger_NilConsoleWriter(t *testing.T) {
	t.Parallel()

	l := logging.NewCustomLogger(slog.LevelInfo)
	l.ConsoleWriter = nil
	assert.NotPanics(t, func() { l.Info("dropped") })
}

func TestCustomLogger_QuietAndVerboseSetters(t *testing.T) {
	t.Parallel()

	l := logging.NewCustomLogger(slog.LevelInfo)
	l.SetQuiet(true)
	assert.True(t, l.IsQuiet())
	l.SetQuiet(false)
	l.SetVerbose(true)
	assert.False(t, l.IsQuiet())
	assert.True(t, l.Verbose)
}

func TestCustomLogger_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	l, buf := newBufferedLogger("info", "text", false, false)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.Info("message %d", n)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, strings.Count(buf.String(), "\n"))
}

func TestDetermineLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, logging.DetermineLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, logging.DetermineLogLevel("warn"))
	assert.Equal(t, slog.LevelError, logging.DetermineLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, logging.DetermineLogLevel("bogus"))
}

func TestLogLevel_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "DEBUG", logging.DebugLevel.String())
	assert.Equal(t, "INFO", logging.InfoLevel.String())
	assert.Equal(t, "WARN", logging.WarnLevel.String())
	assert.Equal(t, "ERROR", logging.ErrorLevel.String())
	assert.Equal(t, "INFO", logging.LogLevel(99).String())
}

func TestInitialize(t *testing.T) {
	require.Error(t, logging.Initialize("info", "xml", false, false))

	require.NoError(t, logging.Initialize("warn", "json", false, false))
	t.Cleanup(func() { _ = logging.Initialize("info", "text", false, false) })

	assert.Equal(t, slog.LevelWarn, logging.Default().LogLevel)
	assert.Equal(t, logging.JSONOutput, logging.Default().OutputType)
}

func TestContextLogging(t *testing.T) {
	t.Parallel()

	l, buf := newBufferedLogger("debug", "text", false, true)
	ctx := logging.WithLogger(context.Background(), l)

	assert.Same(t, l, logging.FromContext(ctx))

	logging.InfoContext(ctx, "info %d", 1)
	logging.WarnContext(ctx, "warn %d", 2)
	logging.DebugContext(ctx, "debug %d", 3)
	logging.ErrorContext(ctx, "error %d", 4)

	out := buf.String()
	for _, want := range []string{"info 1", "warn 2", "debug 3", "error 4"} {
		assert.Contains(t, out, want)
	}
}

func TestFromContext_Fallback(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, logging.FromContext(context.Background()))
	//nolint:staticcheck // nil context is handled explicitly
	assert.NotNil(t, logging.FromContext(nil))
}
