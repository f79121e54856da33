package lxd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/foundrybuild/foundry/internal/executor"
	"github.com/foundrybuild/foundry/internal/hostcmd"
	"github.com/foundrybuild/foundry/internal/logging"
)

// Instance is an LXD container addressed through the executor contract.
type Instance struct {
	// InstanceName is the container's name on the remote.
	InstanceName string
	// LXC is the client used for every operation. A nil value means a
	// zero-value client (local remote, default project).
	LXC *LXC
	// Logger receives debug records. Nil means the process default.
	Logger *slog.Logger
}

var _ executor.Executor = (*Instance)(nil)

func (i *Instance) lxc() *LXC {
	if i.LXC != nil {
		return i.LXC
	}
	return &LXC{Logger: i.Logger}
}

// Name returns the container name.
func (i *Instance) Name() string {
	return i.InstanceName
}

func execOptions(opts executor.RunOptions) ExecOptions {
	// Auto is lxc's default, so the flag is only emitted for overrides.
	mode := ""
	if opts.Terminal != "" && opts.Terminal != executor.TerminalAuto {
		mode = string(opts.Terminal)
	}
	return ExecOptions{
		WorkingDirectory: opts.WorkingDirectory,
		Mode:             mode,
	}
}

// Execute runs command inside the container and captures its output.
func (i *Instance) Execute(ctx context.Context, command []string, opts executor.RunOptions) (*executor.Result, error) {
	command = executor.EnvWrap(opts.Env, command)
	return i.lxc().Exec(ctx, i.InstanceName, command, execOptions(opts), hostcmd.Options{
		Check: opts.Check,
		Stdin: opts.Stdin,
	})
}

// Command returns a prepared host command running the given command inside
// the container. The caller wires stdio and starts it.
func (i *Instance) Command(command []string, opts executor.RunOptions) *exec.Cmd {
	command = executor.EnvWrap(opts.Env, command)
	argv := i.lxc().ExecCommand(i.InstanceName, command, execOptions(opts))
	return exec.Command(argv[0], argv[1:]...)
}

// CreateFile writes content at destination. The transfer does not
// preserve ownership, so the file is chowned inside the container after
// the push.
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

	tmp, err := os.CreateTemp("", "foundry-file-")
	if err != nil {
		return fmt.Errorf("stage file content: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("stage file content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stage file content: %w", err)
	}

	if err := i.lxc().FilePush(ctx, i.InstanceName, tmp.Name(), destination, mode); err != nil {
		return err
	}

	_, err = i.Execute(ctx, []string{"chown", user + ":" + group, destination}, executor.RunOptions{Check: true})
	if err != nil {
		return fmt.Errorf("set ownership of %s: %w", destination, err)
	}
	return nil
}

// Push copies a host file into the container.
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

	return i.lxc().FilePush(ctx, i.InstanceName, source, destination, "")
}

// Pull copies a file out of the container onto the host.
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

	return i.lxc().FilePull(ctx, i.InstanceName, source, destination)
}

// Mount attaches hostSource as a disk device at target. An existing
// identical mount is left alone; a different source already mounted at
// target is an error.
func (i *Instance) Mount(ctx context.Context, hostSource, target string) error {
	devices, err := i.lxc().ConfigDeviceShow(ctx, i.InstanceName)
	if err != nil {
		return err
	}
	for name, device := range devices {
		if device["path"] != target {
			continue
		}
		if device["source"] == hostSource {
			return nil
		}
		return fmt.Errorf("device %s already mounts %s at %s", name, device["source"], target)
	}

	device := "disk-" + target
	return i.lxc().ConfigDeviceAddDisk(ctx, i.InstanceName, device, hostSource, target)
}

// SupportsMount reports whether host directories can be mounted. Only the
// local remote shares a filesystem with the host.
func (i *Instance) SupportsMount() bool {
	return i.lxc().remote() == DefaultRemote
}

// Exists reports whether the container exists, from a fresh lxc list.
func (i *Instance) Exists(ctx context.Context) (bool, error) {
	entry, err := i.state(ctx)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// IsRunning reports whether the container is running, from a fresh lxc
// list.
func (i *Instance) IsRunning(ctx context.Context) (bool, error) {
	entry, err := i.state(ctx)
	if err != nil {
		return false, err
	}
	return entry != nil && entry.Status == "Running", nil
}

// state returns the container's list entry, or nil when absent. lxc list
// filters by prefix, so the name is matched exactly here.
func (i *Instance) state(ctx context.Context) (*ListEntry, error) {
	entries, err := i.lxc().List(ctx, i.InstanceName)
	if err != nil {
		return nil, err
	}
	for idx := range entries {
		if entries[idx].Name == i.InstanceName {
			return &entries[idx], nil
		}
	}
	return nil, nil
}

// Start starts the container.
func (i *Instance) Start(ctx context.Context) error {
	return i.lxc().Start(ctx, i.InstanceName)
}

// Stop stops the container.
func (i *Instance) Stop(ctx context.Context) error {
	return i.lxc().Stop(ctx, i.InstanceName)
}

// Delete removes the container, stopping it first if necessary.
func (i *Instance) Delete(ctx context.Context) error {
	logging.Ensure(i.Logger).Debug("deleting instance", "name", i.InstanceName)
	return i.lxc().Delete(ctx, i.InstanceName, true)
}
