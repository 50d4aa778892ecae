// Package proc spawns and supervises the external tools lathe drives:
// the media processor, the probe tools, and the perceptual scorer.
package proc

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/five82/lathe/internal/errors"
)

const (
	// terminateGrace is how long a cancelled child gets between SIGTERM
	// and SIGKILL.
	terminateGrace = 5 * time.Second

	// stderrTailLines is how many trailing stderr lines are retained for
	// error reports.
	stderrTailLines = 50
)

// LineCallback receives one line of child output without its newline.
type LineCallback func(line string)

// Cmd describes one external tool invocation.
type Cmd struct {
	// Tool is the binary name or path.
	Tool string
	// Args is the argument vector, excluding the tool itself.
	Args []string
	// OnStdout, if set, receives stdout line by line.
	OnStdout LineCallback
	// OnStderr, if set, receives stderr line by line in addition to the
	// tail capture.
	OnStderr LineCallback
	// Timeout bounds wall-clock runtime. Zero means no timeout.
	Timeout time.Duration
	// LowPriority renices the child for responsive-mode encoding.
	LowPriority bool
}

// Result describes a completed invocation.
type Result struct {
	ExitCode   int
	StderrTail string
	Elapsed    time.Duration
}

// Runner executes external tools with cancellation, timeout, and output
// streaming. The zero value is not usable; construct with NewRunner.
type Runner struct {
	logger zerolog.Logger
}

// NewRunner creates a Runner.
func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{logger: logger}
}

// CheckTools verifies that every named tool resolves on PATH, failing
// fast with a descriptive error naming the first missing one.
func CheckTools(tools ...string) error {
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			return errors.NewProcessLaunchError(tool, err)
		}
	}
	return nil
}

// Run spawns the tool and waits for it to finish, streaming output lines
// to the callbacks. On context cancellation or timeout the child receives
// SIGTERM, then SIGKILL after the grace period. The child is always
// reaped; no exit path leaks a process handle.
func (r *Runner) Run(ctx context.Context, c Cmd) (Result, error) {
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Tool, c.Args...)
	// The child leads its own process group so SIGTERM also reaches any
	// helpers it spawned that hold the output pipes open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = terminateGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, errors.NewIOError("failed to create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, errors.NewIOError("failed to create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, errors.NewProcessLaunchError(c.Tool, err)
	}

	if c.LowPriority {
		lowerPriority(cmd.Process.Pid)
	}

	tail := newTailBuffer(stderrTailLines)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(stdout, c.OnStdout)
	}()
	go func() {
		defer wg.Done()
		streamLines(stderr, func(line string) {
			tail.Add(line)
			if c.OnStderr != nil {
				c.OnStderr(line)
			}
		})
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	result := Result{
		ExitCode:   cmd.ProcessState.ExitCode(),
		StderrTail: tail.String(),
		Elapsed:    elapsed,
	}

	if waitErr != nil {
		if ctx.Err() != nil {
			return result, errors.NewCancelledError()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			r.logger.Warn().
				Str("tool", c.Tool).
				Dur("timeout", c.Timeout).
				Msg("process killed after wall-clock timeout")
			return result, errors.NewRetryableEncodeError(c.Tool+" timed out", runCtx.Err())
		}
		return result, errors.NewProcessExitError(c.Tool, result.ExitCode, result.StderrTail)
	}

	return result, nil
}

// RunCollect runs the tool and returns its full stdout, for short
// JSON-emitting probes.
func (r *Runner) RunCollect(ctx context.Context, c Cmd) ([]byte, Result, error) {
	var out strings.Builder
	prev := c.OnStdout
	c.OnStdout = func(line string) {
		out.WriteString(line)
		out.WriteByte('\n')
		if prev != nil {
			prev(line)
		}
	}
	res, err := r.Run(ctx, c)
	return []byte(out.String()), res, err
}

// streamLines feeds reader lines to cb. FFmpeg progress lines terminate
// with \r rather than \n, so both are treated as line breaks.
func streamLines(reader io.Reader, cb LineCallback) {
	br := bufio.NewReaderSize(reader, 64*1024)
	var line strings.Builder

	for {
		b, err := br.ReadByte()
		if err != nil {
			if line.Len() > 0 && cb != nil {
				cb(line.String())
			}
			return
		}
		if b == '\n' || b == '\r' {
			if cb != nil {
				cb(line.String())
			}
			line.Reset()
			continue
		}
		line.WriteByte(b)
	}
}

// lowerPriority renices a child process; failure is non-fatal.
func lowerPriority(pid int) {
	_ = unix.Setpriority(unix.PRIO_PROCESS, pid, 10)
}

// tailBuffer retains the last n non-empty lines.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{cap: n}
}

func (t *tailBuffer) Add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.cap {
		t.lines = t.lines[len(t.lines)-t.cap:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
