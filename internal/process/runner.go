// Package process runs external commands with bounded output capture
// and graceful termination.
package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	// DefaultGraceDelay is how long a process gets to exit after
	// SIGTERM before it is force killed.
	DefaultGraceDelay = 500 * time.Millisecond

	// DefaultMaxOutputBytes caps captured stdout and stderr each.
	DefaultMaxOutputBytes = 30_000
)

// Options configures a single command run.
type Options struct {
	// Dir is the working directory. Empty uses the process default.
	Dir string

	// Env replaces the environment when non-nil.
	Env []string

	// GraceDelay overrides DefaultGraceDelay.
	GraceDelay time.Duration

	// MaxOutputBytes overrides DefaultMaxOutputBytes.
	MaxOutputBytes int
}

// Result captures how a command finished.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Signal    string
	Killed    bool
	Truncated bool
	Duration  time.Duration
}

// Run executes command through the shell, streaming stdout and stderr
// into bounded buffers. When ctx is cancelled the process receives
// SIGTERM, then SIGKILL after the grace delay. The buffers are always
// populated with whatever output was produced before termination.
func Run(ctx context.Context, command string, opts Options) (*Result, error) {
	if command == "" {
		return nil, errors.New("process: command is empty")
	}
	grace := opts.GraceDelay
	if grace <= 0 {
		grace = DefaultGraceDelay
	}
	maxBytes := opts.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutputBytes
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	stdout := newBoundedBuffer(maxBytes)
	stderr := newBoundedBuffer(maxBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// SIGTERM first so the process can flush and clean up. WaitDelay
	// force kills if it ignores the signal.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Duration:  time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			result.Signal = ws.Signal().String()
		}
		if ctx.Err() != nil {
			result.Killed = true
		}
		return result, nil
	}
	if ctx.Err() != nil {
		result.ExitCode = -1
		result.Killed = true
		return result, nil
	}
	return nil, err
}

// boundedBuffer keeps up to max bytes and drops the rest, recording
// that truncation occurred. Safe for the concurrent writes exec.Cmd
// performs when stdout and stderr share a writer.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
