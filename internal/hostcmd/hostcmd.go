// Package hostcmd runs host-level commands for the backend CLI wrappers.
// It exists as an interface so wrapper tests can script backend responses
// without a real lxc or multipass binary on the host.
package hostcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/foundrybuild/foundry/internal/executor"
	"github.com/foundrybuild/foundry/internal/logging"
)

// Options control a single host command execution.
type Options struct {
	// Check requests that a nonzero exit code be reported as a
	// *executor.CommandError.
	Check bool
	// Stdin is fed to the command, if set.
	Stdin io.Reader
}

// Runner executes host-level commands and captures their output.
type Runner interface {
	Run(ctx context.Context, command []string, opts Options) (*executor.Result, error)
}

type hostRunner struct {
	logger *slog.Logger
}

// New returns a Runner that executes commands on the host. A nil logger
// falls back to the process default.
func New(logger *slog.Logger) Runner {
	return &hostRunner{logger: logging.Ensure(logger)}
}

func (r *hostRunner) Run(ctx context.Context, command []string, opts Options) (*executor.Result, error) {
	if len(command) == 0 {
		return nil, errors.New("host command is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.logger.Debug("executing on host", "command", strings.Join(command, " "))

	// Deliberately exec.Command, not exec.CommandContext: deadlines gate
	// whether a command is issued, they never kill one mid-flight.
	cmd := exec.Command(command[0], command[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = opts.Stdin

	result := &executor.Result{Command: command}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("execute %q: %w", command[0], err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()

	if opts.Check && result.ExitCode != 0 {
		return result, &executor.CommandError{
			Command:  command,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}
	return result, nil
}
