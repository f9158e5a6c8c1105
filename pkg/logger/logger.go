// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 The Aide Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger configures the process-wide slog logger.
//
// Log records from outside this module are dropped unless the level is
// DEBUG, so noisy client libraries stay quiet in normal operation.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

var defaultLogger *slog.Logger

const modulePath = "github.com/aidekit/aide"

const ansiReset = "\033[0m"

// ParseLevel converts a string log level to slog.Level.
// Unrecognized levels fall back to info rather than erroring; a bad
// LOG_LEVEL should not keep the server from starting.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, nil
	}
}

// moduleFilter suppresses records originating outside this module
// unless the logger runs at debug. Client libraries that log through
// slog (the etcd and zookeeper clients do) only surface when asked for.
type moduleFilter struct {
	next  slog.Handler
	debug bool
}

func (f *moduleFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return f.next.Enabled(ctx, level)
}

func (f *moduleFilter) Handle(ctx context.Context, record slog.Record) error {
	if !f.debug && !fromThisModule(record.PC) {
		return nil
	}
	return f.next.Handle(ctx, record)
}

func (f *moduleFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &moduleFilter{next: f.next.WithAttrs(attrs), debug: f.debug}
}

func (f *moduleFilter) WithGroup(name string) slog.Handler {
	return &moduleFilter{next: f.next.WithGroup(name), debug: f.debug}
}

// fromThisModule resolves a record's program counter to its defining
// package. The file-path check catches test binaries, whose PCs resolve
// to the working tree rather than the module cache.
func fromThisModule(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(fn.Name(), modulePath) || strings.Contains(file, "aide/")
}

// textHandler renders records as "LEVEL message key=value" lines,
// optionally with a timestamp prefix and ANSI level colors. It exists
// because slog's built-in text handler leads every line with time= and
// level= pairs, which is noise on an interactive terminal.
type textHandler struct {
	writer    io.Writer
	level     slog.Level
	color     bool
	timestamp bool

	// prefix holds attrs accumulated via With, keys already qualified
	// with the groups that were open when they were added.
	prefix []slog.Attr
	groups []string
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *textHandler) Handle(_ context.Context, record slog.Record) error {
	var buf strings.Builder

	if h.timestamp && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}

	name := record.Level.String()
	if h.color {
		buf.WriteString(levelColor(record.Level))
		buf.WriteString(name)
		buf.WriteString(ansiReset)
	} else {
		buf.WriteString(name)
	}
	buf.WriteByte(' ')
	buf.WriteString(record.Message)

	for _, a := range h.prefix {
		appendAttr(&buf, a.Key, a.Value)
	}
	record.Attrs(func(a slog.Attr) bool {
		appendAttr(&buf, h.qualify(a.Key), a.Value)
		return true
	})

	buf.WriteByte('\n')
	_, err := io.WriteString(h.writer, buf.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.prefix = append([]slog.Attr{}, h.prefix...)
	for _, a := range attrs {
		c.prefix = append(c.prefix, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return &c
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.groups = append(append([]string{}, h.groups...), name)
	return &c
}

func (h *textHandler) qualify(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(h.groups, ".") + "." + key
}

func appendAttr(buf *strings.Builder, key string, value slog.Value) {
	buf.WriteByte(' ')
	buf.WriteString(key)
	buf.WriteByte('=')
	buf.WriteString(value.String())
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m" // red
	case level >= slog.LevelWarn:
		return "\033[33m" // yellow
	case level >= slog.LevelInfo:
		return "\033[36m" // cyan
	default:
		return "\033[90m" // gray
	}
}

// isTerminal checks if the file is attached to a terminal
func isTerminal(file *os.File) bool {
	if file == nil {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

// Init initializes the process logger writing to the given file.
// Color is enabled automatically when output is a terminal.
// format: "simple" (level + message), "verbose" (time + level +
// message), "json", or any other value for the standard slog text
// format. "text" is accepted as an alias of "simple".
func Init(level slog.Level, output *os.File, format string) {
	InitWriter(level, output, format, isTerminal(output))
}

// InitWriter initializes the process logger against an arbitrary
// writer, e.g. a rotating file. Color must be requested explicitly.
func InitWriter(level slog.Level, output io.Writer, format string, useColor bool) {
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	case "verbose":
		handler = &textHandler{writer: output, level: level, color: useColor, timestamp: true}
	case "simple", "text", "":
		handler = &textHandler{writer: output, level: level, color: useColor}
	default:
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: level})
	}

	defaultLogger = slog.New(&moduleFilter{
		next:  handler,
		debug: level <= slog.LevelDebug,
	})

	// All libraries that log through slog pick this up
	slog.SetDefault(defaultLogger)
}

// RotationConfig controls size-based log file rotation.
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewRotatingWriter returns a writer that appends to path and rotates
// the file once it grows past the configured size.
func NewRotatingWriter(path string, cfg RotationConfig) io.WriteCloser {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// OpenLogFile opens or creates a plain (non-rotating) log file.
// Returns the file handle and a cleanup function, or an error.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		file.Close()
	}

	return file, cleanup, nil
}

// GetLogger returns the default slog logger
func GetLogger() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, "simple")
	}
	return defaultLogger
}
