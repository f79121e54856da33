// Package executortest provides a scriptable Executor double shared by
// tests across the module.
package executortest

import (
	"context"
	"os/exec"
	"strings"

	"github.com/foundrybuild/foundry/internal/executor"
)

// CreatedFile records one CreateFile call.
type CreatedFile struct {
	Content []byte
	Options executor.FileOptions
}

// Fake is an in-memory Executor. Commands are answered by Handle when set,
// otherwise with a zero exit and empty output. Every call is appended to
// Calls so tests can assert ordering.
type Fake struct {
	// InstanceName is returned by Name. Empty means "fake".
	InstanceName string
	// Handle answers Execute calls. The command it sees includes any env
	// wrapper the caller applied.
	Handle func(command []string) (*executor.Result, error)
	// MountSupported is returned by SupportsMount.
	MountSupported bool
	// ExistsResult and RunningResult answer the state queries.
	ExistsResult  bool
	RunningResult bool

	// Calls logs every operation in order: executed commands joined with
	// spaces, and file operations as "createfile <dest>", "push <src>
	// <dest>", "pull <src> <dest>", "mount <src> <dest>".
	Calls []string
	// Files records CreateFile payloads by destination.
	Files map[string]CreatedFile
}

var _ executor.Executor = (*Fake)(nil)

func (f *Fake) Name() string {
	if f.InstanceName != "" {
		return f.InstanceName
	}
	return "fake"
}

func (f *Fake) Execute(ctx context.Context, command []string, opts executor.RunOptions) (*executor.Result, error) {
	command = executor.EnvWrap(opts.Env, command)
	f.Calls = append(f.Calls, strings.Join(command, " "))

	res := &executor.Result{Command: command}
	if f.Handle != nil {
		handled, err := f.Handle(command)
		if err != nil {
			return nil, err
		}
		if handled != nil {
			res = handled
		}
	}

	if opts.Check && res.ExitCode != 0 {
		return res, &executor.CommandError{
			Command:  command,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
	}
	return res, nil
}

func (f *Fake) Command(command []string, opts executor.RunOptions) *exec.Cmd {
	command = executor.EnvWrap(opts.Env, command)
	return exec.Command(command[0], command[1:]...)
}

func (f *Fake) CreateFile(ctx context.Context, destination string, content []byte, opts executor.FileOptions) error {
	f.Calls = append(f.Calls, "createfile "+destination)
	if f.Files == nil {
		f.Files = map[string]CreatedFile{}
	}
	f.Files[destination] = CreatedFile{Content: append([]byte(nil), content...), Options: opts}
	return nil
}

func (f *Fake) Push(ctx context.Context, source, destination string) error {
	f.Calls = append(f.Calls, "push "+source+" "+destination)
	return nil
}

func (f *Fake) Pull(ctx context.Context, source, destination string) error {
	f.Calls = append(f.Calls, "pull "+source+" "+destination)
	return nil
}

func (f *Fake) Mount(ctx context.Context, hostSource, target string) error {
	f.Calls = append(f.Calls, "mount "+hostSource+" "+target)
	return nil
}

func (f *Fake) SupportsMount() bool {
	return f.MountSupported
}

func (f *Fake) Exists(ctx context.Context) (bool, error) {
	return f.ExistsResult, nil
}

func (f *Fake) IsRunning(ctx context.Context) (bool, error) {
	return f.RunningResult, nil
}
