package output

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// Line prefixes for console diagnostics.
const (
	PrefixError   = "[-]"
	PrefixWarning = "[!]"
	PrefixSuccess = "[+]"
	PrefixStatus  = "[*]"
)

// Console prints prefixed, human-readable diagnostics. It is safe for
// concurrent use.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer, color bool) *Console {
	return &Console{out: out, color: color}
}

// StderrConsole returns a Console on stderr, colored when stderr is a
// terminal.
func StderrConsole() *Console {
	return NewConsole(os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))
}

// Writer returns the underlying writer.
func (c *Console) Writer() io.Writer {
	return c.out
}

// Error prints a [-] line.
func (c *Console) Error(format string, args ...any) {
	c.line("\033[31m", PrefixError, format, args...)
}

// Warning prints a [!] line.
func (c *Console) Warning(format string, args ...any) {
	c.line("\033[33m", PrefixWarning, format, args...)
}

// Success prints a [+] line.
func (c *Console) Success(format string, args ...any) {
	c.line("\033[32m", PrefixSuccess, format, args...)
}

// Status prints a [*] line.
func (c *Console) Status(format string, args ...any) {
	c.line("\033[34m", PrefixStatus, format, args...)
}

func (c *Console) line(color, prefix, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.color {
		_, _ = fmt.Fprintf(c.out, "%s%s\033[0m %s\n", color, prefix, msg)
		return
	}
	_, _ = fmt.Fprintf(c.out, "%s %s\n", prefix, msg)
}
