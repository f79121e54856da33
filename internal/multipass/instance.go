package multipass

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/foundrybuild/foundry/internal/executor"
	"github.com/foundrybuild/foundry/internal/hostcmd"
	"github.com/foundrybuild/foundry/internal/logging"
)

// Instance is a Multipass virtual machine addressed through the executor
// contract. multipass exec runs as the unprivileged default user, so every
// command is elevated with sudo; setup requires root throughout.
type Instance struct {
	// InstanceName is the virtual machine's name.
	InstanceName string
	// Multipass is the client used for every operation. Nil means a
	// zero-value client.
	Multipass *Multipass
	// Logger receives debug records. Nil means the process default.
	Logger *slog.Logger
}

var _ executor.Executor = (*Instance)(nil)

func (i *Instance) mp() *Multipass {
	if i.Multipass != nil {
		return i.Multipass
	}
	return &Multipass{Logger: i.Logger}
}

// Name returns the virtual machine name.
func (i *Instance) Name() string {
	return i.InstanceName
}

// elevate wraps command so it runs as root with a clean root home, with
// env applied inside the sudo boundary so it survives the elevation.
func elevate(env map[string]string, command []string) []string {
	return append([]string{"sudo", "-H", "--"}, executor.EnvWrap(env, command)...)
}

// Execute runs command inside the machine and captures its output.
func (i *Instance) Execute(ctx context.Context, command []string, opts executor.RunOptions) (*executor.Result, error) {
	command = elevate(opts.Env, command)
	return i.mp().Exec(ctx, i.InstanceName, command, hostcmd.Options{
		Check: opts.Check,
		Stdin: opts.Stdin,
	})
}

// Command returns a prepared host command running the given command inside
// the machine. The caller wires stdio and starts it.
func (i *Instance) Command(command []string, opts executor.RunOptions) *exec.Cmd {
	argv := i.mp().ExecCommand(i.InstanceName, elevate(opts.Env, command))
	return exec.Command(argv[0], argv[1:]...)
}

// CreateFile writes content at destination. The transfer can only write
// where the default user can, so content is staged under /tmp, fixed up,
// and moved into place as root. The move makes the write atomic from the
// machine's point of view.
func (i *Instance) CreateFile(ctx context.Context, destination string, content []byte, opts executor.FileOptions) error {
	mode := opts.Mode
	if mode == "" {
		mode = "0644"
	}
	user := opts.User
	if user == "" {
		user = "root"
	}
	group := opts.Group
	if group == "" {
		group = "root"
	}

	staged := "/tmp/" + strings.ReplaceAll(destination, "/", "_")
	if err := i.mp().TransferFromReader(ctx, bytes.NewReader(content), i.InstanceName+":"+staged); err != nil {
		return err
	}

	steps := [][]string{
		{"chown", user + ":" + group, staged},
		{"chmod", mode, staged},
		{"mv", staged, destination},
	}
	for _, step := range steps {
		if _, err := i.Execute(ctx, step, executor.RunOptions{Check: true}); err != nil {
			return fmt.Errorf("create file %s: %w", destination, err)
		}
	}
	return nil
}

// Push copies a host file into the machine.
func (i *Instance) Push(ctx context.Context, source, destination string) error {
	if info, err := os.Stat(source); err != nil || info.IsDir() {
		return fmt.Errorf("push %s: %w", source, executor.ErrNotFound)
	}

	parentExists, err := executor.IsTargetDirectory(ctx, i, filepath.Dir(destination))
	if err != nil {
		return fmt.Errorf("push %s: %w", source, err)
	}
	if !parentExists {
		return fmt.Errorf("push to %s: %w", destination, executor.ErrNotFound)
	}

	return i.mp().Transfer(ctx, source, i.InstanceName+":"+destination)
}

// Pull copies a file out of the machine onto the host.
func (i *Instance) Pull(ctx context.Context, source, destination string) error {
	sourceExists, err := executor.IsTargetFile(ctx, i, source)
	if err != nil {
		return fmt.Errorf("pull %s: %w", source, err)
	}
	if !sourceExists {
		return fmt.Errorf("pull %s: %w", source, executor.ErrNotFound)
	}

	if info, err := os.Stat(filepath.Dir(destination)); err != nil || !info.IsDir() {
		return fmt.Errorf("pull to %s: %w", destination, executor.ErrNotFound)
	}

	return i.mp().Transfer(ctx, i.InstanceName+":"+source, destination)
}

// Mount maps hostSource into the machine at target. An existing identical
// mount is left alone; a different source already mounted at target is an
// error.
func (i *Instance) Mount(ctx context.Context, hostSource, target string) error {
	info, err := i.mp().Info(ctx, i.InstanceName)
	if err != nil {
		return err
	}
	if info != nil {
		if mount, ok := info.Mounts[target]; ok {
			if mount.SourcePath == hostSource {
				return nil
			}
			return fmt.Errorf("%s is already mounted at %s", mount.SourcePath, target)
		}
	}

	return i.mp().Mount(ctx, hostSource, i.InstanceName, target, os.Getuid(), os.Getgid())
}

// SupportsMount always holds: multipass mounts work on every remote.
func (i *Instance) SupportsMount() bool {
	return true
}

// Exists reports whether the machine exists, from a fresh multipass info.
func (i *Instance) Exists(ctx context.Context) (bool, error) {
	info, err := i.mp().Info(ctx, i.InstanceName)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

// IsRunning reports whether the machine is running, from a fresh
// multipass info.
func (i *Instance) IsRunning(ctx context.Context) (bool, error) {
	info, err := i.mp().Info(ctx, i.InstanceName)
	if err != nil {
		return false, err
	}
	return info != nil && info.State == "Running", nil
}

// Start starts the machine.
func (i *Instance) Start(ctx context.Context) error {
	return i.mp().Start(ctx, i.InstanceName)
}

// Stop stops the machine.
func (i *Instance) Stop(ctx context.Context) error {
	return i.mp().Stop(ctx, i.InstanceName, 0)
}

// Delete removes the machine permanently.
func (i *Instance) Delete(ctx context.Context) error {
	logging.Ensure(i.Logger).Debug("deleting instance", "name", i.InstanceName)
	return i.mp().Delete(ctx, i.InstanceName, true)
}
