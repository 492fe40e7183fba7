package monitor

import (
	"bytes"
	"context"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// TimeoutError is returned by CheckOutput/CheckCall when the deadline
// elapses before the child process exits.
type TimeoutError struct {
	Command []string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return "command timed out after " + e.Timeout.String()
}

// NonZeroExit is returned by CheckCall when the child exits with a
// non-zero status inside the deadline.
type NonZeroExit struct {
	Command []string
	Err     error
}

func (e *NonZeroExit) Error() string {
	return "command exited non-zero: " + e.Err.Error()
}

// Runner executes external commands under a hard deadline. Stages
// depend on this interface rather than os/exec directly so tests can
// substitute a fake.
type Runner interface {
	// RunWithDeadline runs command under ctx's deadline and reports
	// whether it exited zero inside the deadline, plus its captured
	// stdout (best-effort UTF-8, invalid bytes replaced). Stderr is
	// discarded.
	RunWithDeadline(ctx context.Context, name string, args ...string) (ok bool, stdout string)
}

// ExecRunner is the production Runner, backed by os/exec.
type ExecRunner struct{}

// RunWithDeadline implements Runner. ctx is expected to already carry a
// deadline (context.WithTimeout) set by the caller; RunWithDeadline
// itself never blocks past ctx's cancellation, relying on the target's
// native per-operation deadline instead of a signal-based alarm.
func (ExecRunner) RunWithDeadline(ctx context.Context, name string, args ...string) (bool, string) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	err := cmd.Run()
	if ctx.Err() != nil {
		return false, ""
	}
	if err != nil {
		return false, ""
	}
	return true, sanitizeUTF8(out.String())
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return string(bytes.ToValidUTF8([]byte(s), []byte("�")))
}

// CheckOutput runs a command under deadline and returns its stdout on
// success, or a *TimeoutError if the deadline elapsed.
func CheckOutput(ctx context.Context, r Runner, deadline time.Duration, name string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ok, out := r.RunWithDeadline(cctx, name, args...)
	if cctx.Err() != nil {
		return "", &TimeoutError{Command: append([]string{name}, args...), Timeout: deadline}
	}
	if !ok {
		return "", errors.Errorf("command failed: %s", name)
	}
	return out, nil
}

// CheckCall runs a command under deadline for its exit status alone.
func CheckCall(ctx context.Context, r Runner, deadline time.Duration, name string, args ...string) error {
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ok, _ := r.RunWithDeadline(cctx, name, args...)
	if cctx.Err() != nil {
		return &TimeoutError{Command: append([]string{name}, args...), Timeout: deadline}
	}
	if !ok {
		return &NonZeroExit{Command: append([]string{name}, args...), Err: errors.New("non-zero exit")}
	}
	return nil
}
