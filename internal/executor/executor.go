// Package executor defines the capability surface every build-environment
// backend must provide: command execution, file transfer, file creation
// with explicit mode and ownership, host directory mounts, and fresh
// existence/running state queries.
//
// Implementations translate these operations to their backend CLI and must
// expose identical observable semantics, so orchestration code (base setup,
// provisioning) never depends on which backend is in use. Implementations
// never cache instance state; every query re-derives it from the backend,
// which may be mutated out-of-band.
package executor

import (
	"context"
	"io"
	"os/exec"
)

// TerminalMode selects how the backend allocates a terminal for an
// executed command.
type TerminalMode string

const (
	// TerminalAuto lets the backend decide (the default).
	TerminalAuto TerminalMode = "auto"
	// TerminalInteractive forces terminal allocation.
	TerminalInteractive TerminalMode = "interactive"
	// TerminalNonInteractive disables terminal allocation.
	TerminalNonInteractive TerminalMode = "non-interactive"
)

// RunOptions control a single command execution inside an instance.
type RunOptions struct {
	// Env is added to the command's environment inside the instance.
	// Entries are applied in sorted key order so the issued command
	// line is deterministic.
	Env map[string]string

	// WorkingDirectory sets the command's working directory inside the
	// instance. Empty means the backend default.
	WorkingDirectory string

	// Terminal overrides terminal allocation. Zero value means auto.
	Terminal TerminalMode

	// Check requests that a nonzero exit code be reported as a
	// *CommandError instead of a normal Result.
	Check bool

	// Stdin is fed to the command, if set.
	Stdin io.Reader
}

// FileOptions control file creation inside an instance.
type FileOptions struct {
	// Mode is a POSIX permission string such as "0644". Empty means "0644".
	Mode string
	// User owns the created file. Empty means "root".
	User string
	// Group owns the created file. Empty means "root".
	Group string
}

// Result is the outcome of a completed command.
type Result struct {
	// Command is the full host-level command that was issued.
	Command []string
	// ExitCode is the command's exit code.
	ExitCode int
	// Stdout holds the captured standard output.
	Stdout []byte
	// Stderr holds the captured standard error.
	Stderr []byte
}

// Executor is one provisioned instance (container or VM) addressed through
// a uniform operation set.
type Executor interface {
	// Name returns the backend instance name this executor wraps.
	Name() string

	// Execute runs command inside the instance, blocking until it
	// completes, and captures its output. A nonzero exit code is
	// returned as a normal Result unless opts.Check is set, in which
	// case it becomes a *CommandError.
	Execute(ctx context.Context, command []string, opts RunOptions) (*Result, error)

	// Command returns a prepared, unstarted host command that runs the
	// given command inside the instance. It is the streaming variant of
	// Execute: the caller wires stdio and drives the process lifecycle,
	// e.g. for long-running processes or interactive sessions.
	Command(command []string, opts RunOptions) *exec.Cmd

	// CreateFile writes content at destination with the given mode and
	// ownership. The write is atomic from the instance's point of view:
	// content lands in a temporary location first and is moved into
	// place, then ownership is fixed up explicitly because transfer
	// mechanisms do not preserve it.
	CreateFile(ctx context.Context, destination string, content []byte, opts FileOptions) error

	// Push copies a single file from the host into the instance. It
	// fails with ErrNotFound when the host source file or the
	// destination's parent directory inside the instance is absent.
	Push(ctx context.Context, source, destination string) error

	// Pull copies a single file from the instance to the host. It fails
	// with ErrNotFound when the in-instance source file or the host
	// destination's parent directory is absent.
	Pull(ctx context.Context, source, destination string) error

	// Mount maps a host directory into the instance at target. Mounting
	// is idempotent: if the same pair is already mounted the call
	// returns without side effects.
	Mount(ctx context.Context, hostSource, target string) error

	// SupportsMount reports whether the backend can mount host paths
	// into this instance. Callers must check before calling Mount.
	SupportsMount() bool

	// Exists reports whether the backend instance exists. The answer is
	// derived from a fresh backend query.
	Exists(ctx context.Context) (bool, error)

	// IsRunning reports whether the backend instance is running. The
	// answer is derived from a fresh backend query.
	IsRunning(ctx context.Context) (bool, error)
}
