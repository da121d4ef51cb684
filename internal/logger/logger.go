// Package logger provides the process logging context.
//
// A Context is created once at startup and handed to every component that
// logs. It owns the registered sinks (console, optional log file), each with
// its own level, and tears them down in Close. There is no package-level
// logger: components receive a *slog.Logger from Context.Logger.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// Sink names used with SetLevel.
const (
	SinkConsole = "console"
	SinkFile    = "file"
)

// DefaultName is the logger name used when Options.Name is empty.
const DefaultName = "KingPhisher"

// Options configures a new logging context.
type Options struct {
	// Name is attached to every record as logger=<name>.
	Name string

	// ConsoleLevel is the minimum level written to the console sink.
	ConsoleLevel Level

	// Console is the console sink writer. Default: os.Stderr.
	Console io.Writer

	// Format is "text" or "json". Default: text.
	Format string

	// DisableColor forces plain console output even on a terminal.
	DisableColor bool
}

type sink struct {
	name    string
	path    string
	level   *slog.LevelVar
	handler slog.Handler
	closer  io.Closer
}

// Context owns the logging sinks of the process.
type Context struct {
	name   string
	format string

	mu     sync.RWMutex
	sinks  []*sink
	closed bool
}

// New creates a logging context with a console sink.
func New(opts Options) *Context {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	format := strings.ToLower(opts.Format)
	if format != "json" {
		format = "text"
	}

	c := &Context{name: opts.Name, format: format}

	useColor := false
	if f, ok := opts.Console.(*os.File); ok && !opts.DisableColor {
		useColor = isatty.IsTerminal(f.Fd())
	}
	c.sinks = append(c.sinks, c.newSink(SinkConsole, "", opts.Console, nil, opts.ConsoleLevel, useColor))
	return c
}

func (c *Context) newSink(name, path string, w io.Writer, closer io.Closer, level Level, useColor bool) *sink {
	levelVar := new(slog.LevelVar)
	levelVar.Set(level.Slog())

	opts := &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(levelName(l))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if c.format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = NewColorTextHandler(w, opts, useColor)
	}

	return &sink{
		name:    name,
		path:    path,
		level:   levelVar,
		handler: handler,
		closer:  closer,
	}
}

// SetFormat changes the format ("text" or "json") of sinks added afterwards.
// Existing sinks keep theirs.
func (c *Context) SetFormat(format string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.EqualFold(format, "json") {
		c.format = "json"
	} else {
		c.format = "text"
	}
}

// Name returns the root logger name.
func (c *Context) Name() string {
	return c.name
}

// AddFile registers a file sink appending to path at the given level.
// Adding a second file sink replaces the first.
func (c *Context) AddFile(path string, level Level) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %q: %w", path, err)
	}

	s := c.newSink(SinkFile, path, f, f, level, false)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = f.Close()
		return errors.New("logging context is closed")
	}
	kept := c.sinks[:0]
	for _, existing := range c.sinks {
		if existing.name == SinkFile {
			_ = existing.closer.Close()
			continue
		}
		kept = append(kept, existing)
	}
	c.sinks = append(kept, s)
	return nil
}

// FilePath returns the path of the file sink, if one is registered.
func (c *Context) FilePath() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sinks {
		if s.name == SinkFile {
			return s.path, true
		}
	}
	return "", false
}

// SetLevel changes the level of the named sink. It reports whether the sink
// exists.
func (c *Context) SetLevel(sinkName string, level Level) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sinks {
		if s.name == sinkName {
			s.level.Set(level.Slog())
			return true
		}
	}
	return false
}

// RemoveConsole drops the console sink.
func (c *Context) RemoveConsole() {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.sinks[:0]
	for _, s := range c.sinks {
		if s.name != SinkConsole {
			kept = append(kept, s)
		}
	}
	c.sinks = kept
}

// Logger returns a logger tagged with the given component name. An empty
// name uses the root name.
func (c *Context) Logger(name string) *slog.Logger {
	if name == "" {
		name = c.name
	} else if !strings.HasPrefix(name, c.name) {
		name = c.name + "." + name
	}
	return slog.New(&fanout{ctx: c}).With("logger", name)
}

// Close flushes and closes every file sink. Records logged afterwards are
// dropped. Close is idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, s := range c.sinks {
		if s.closer == nil {
			continue
		}
		if f, ok := s.closer.(*os.File); ok {
			if err := f.Sync(); err != nil && !errors.Is(err, os.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if err := s.closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.sinks = nil
	return errors.Join(errs...)
}

// fanout dispatches records to every sink registered on the context at the
// time the record is handled, so loggers created before AddFile still reach
// the file sink.
type fanout struct {
	ctx *Context
	ops []func(slog.Handler) slog.Handler
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	f.ctx.mu.RLock()
	defer f.ctx.mu.RUnlock()
	for _, s := range f.ctx.sinks {
		if s.handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	f.ctx.mu.RLock()
	defer f.ctx.mu.RUnlock()

	var errs []error
	for _, s := range f.ctx.sinks {
		if !s.handler.Enabled(ctx, r.Level) {
			continue
		}
		h := s.handler
		for _, op := range f.ops {
			h = op(h)
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *fanout) with(op func(slog.Handler) slog.Handler) *fanout {
	ops := make([]func(slog.Handler) slog.Handler, 0, len(f.ops)+1)
	ops = append(ops, f.ops...)
	ops = append(ops, op)
	return &fanout{ctx: f.ctx, ops: ops}
}

// Critical logs at CRITICAL level.
func Critical(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), slogLevelCritical, msg, args...)
}
