// Package runner executes external tools and captures their output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Command describes a single external tool invocation. Arguments are passed
// to the process directly, never through a shell.
type Command struct {
	Name string
	Args []string
	Dir  string

	// Stdin, if set, is connected to the process's standard input.
	Stdin io.Reader

	// Stdout, if set, receives the process's standard output instead of the
	// echo stream. Used for tools that write their artifact to stdout.
	Stdout io.Writer

	// Prefix is prepended to every echoed line.
	Prefix string
}

// String returns the command as a copy-pasteable shell line.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, Quote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// Result holds what a finished process produced.
type Result struct {
	// Output is the combined stdout and stderr, unless stdout was redirected.
	Output   string
	ExitCode int
}

// ExitError is returned when a process ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands with os/exec, echoing their output line by line.
type ExecRunner struct {
	echo    io.Writer
	timeout time.Duration
	mu      sync.Mutex
}

// NewExec creates a runner that echoes tool output to w. A nil w discards
// the echo. A positive timeout bounds every command.
func NewExec(w io.Writer, timeout time.Duration) *ExecRunner {
	if w == nil {
		w = io.Discard
	}
	return &ExecRunner{echo: w, timeout: timeout}
}

// Run starts the command and waits for it to finish.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin

	var buf bytes.Buffer
	lw := &lineWriter{buf: &buf, prefix: c.Prefix, out: r.echo, mu: &r.mu}
	cmd.Stderr = lw
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	} else {
		cmd.Stdout = lw
	}

	slog.Debug("running command", "cmd", c.String())
	err := cmd.Run()
	lw.flush()

	res := &Result{Output: buf.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s: %w", c.Name, ctxErr)
		}
		return res, &ExitError{Command: c.Name, Code: res.ExitCode, Output: res.Output}
	}
	return res, fmt.Errorf("run %s: %w", c.Name, err)
}

// lineWriter buffers everything it receives and echoes complete lines to
// out. The mutex is shared between runs so concurrent commands never
// interleave mid-line.
type lineWriter struct {
	buf     *bytes.Buffer
	pending []byte
	prefix  string
	out     io.Writer
	mu      *sync.Mutex
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(w.pending[:i+1])
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.pending) > 0 {
		w.emit(append(w.pending, '\n'))
		w.pending = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.prefix != "" {
		io.WriteString(w.out, w.prefix+" ")
	}
	w.out.Write(line)
}

// Quote wraps s in single quotes for a POSIX shell. Embedded single quotes
// are closed, escaped and reopened.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;#~%") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
