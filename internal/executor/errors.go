package executor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound marks a file-transfer failure where the source file or the
// destination's parent directory does not exist. The probe runs before any
// transfer is attempted.
var ErrNotFound = errors.New("file or directory not found")

// CommandError reports a command that exited nonzero when the caller
// required success. It carries the issued command and its captured output
// so failures can be diagnosed without re-running.
type CommandError struct {
	Command  []string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", strings.Join(e.Command, " "), e.ExitCode)
}

// Details renders a multi-line diagnostic block describing the failed
// command, its exit code, and any captured output.
func (e *CommandError) Details() string {
	lines := []string{
		fmt.Sprintf("* Command that failed: %s", strings.Join(e.Command, " ")),
		fmt.Sprintf("* Command exit code: %d", e.ExitCode),
	}
	if len(e.Stdout) > 0 {
		lines = append(lines, fmt.Sprintf("* Command output: %s", strings.TrimSpace(string(e.Stdout))))
	}
	if len(e.Stderr) > 0 {
		lines = append(lines, fmt.Sprintf("* Command standard error output: %s", strings.TrimSpace(string(e.Stderr))))
	}
	return strings.Join(lines, "\n")
}
