package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// CommandRunner defines the interface for running external commands
// This allows mocking exec.Command in tests
type CommandRunner interface {
	Start(ctx context.Context, name string, args ...string) (Process, error)
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Process is a started command whose diagnostic stream is being consumed
type Process interface {
	// Stderr is the command's diagnostic output; it must be drained before Wait
	Stderr() io.Reader
	// Wait blocks until the command exits
	Wait() error
}

// ExecCommandRunner is the production implementation using os/exec
type ExecCommandRunner struct {
	// KillGrace is how long a cancelled process group gets between SIGTERM and SIGKILL
	KillGrace time.Duration
}

// Start launches the command in its own process group so cancellation reaches
// every child ffmpeg may have spawned
func (r *ExecCommandRunner) Start(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)

	grace := r.KillGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	cmd.Cancel = func() error {
		return terminateGroup(cmd, grace)
	}
	cmd.WaitDelay = 2 * grace

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec start failed: %w", err)
	}
	return &execProcess{cmd: cmd, stderr: stderr}, nil
}

// Output executes a command and returns its output
func (r *ExecCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}

type execProcess struct {
	cmd    *exec.Cmd
	stderr io.Reader
}

func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Wait() error       { return p.cmd.Wait() }
