// Package multipass drives Multipass virtual machines through the
// multipass command-line client.
package multipass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/foundrybuild/foundry/internal/executor"
	"github.com/foundrybuild/foundry/internal/hostcmd"
	"github.com/foundrybuild/foundry/internal/logging"
)

const defaultBinary = "multipass"

// Multipass wraps the multipass client binary. The zero value is usable
// and talks to the multipass on PATH.
type Multipass struct {
	// Path is the multipass binary to invoke. Empty means "multipass".
	Path string
	// Runner executes the composed commands on the host. Nil means a
	// real host runner.
	Runner hostcmd.Runner
	// Logger receives debug records. Nil means the process default.
	Logger *slog.Logger
}

func (m *Multipass) binary() string {
	if m.Path != "" {
		return m.Path
	}
	return defaultBinary
}

func (m *Multipass) runner() hostcmd.Runner {
	if m.Runner != nil {
		return m.Runner
	}
	return hostcmd.New(m.Logger)
}

func (m *Multipass) run(ctx context.Context, args []string, opts hostcmd.Options) (*executor.Result, error) {
	return m.runner().Run(ctx, append([]string{m.binary()}, args...), opts)
}

// LaunchOptions size a new virtual machine. Zero fields use the multipass
// defaults.
type LaunchOptions struct {
	CPUs   int
	Memory string // e.g. "2G"
	Disk   string // e.g. "64G"
}

// Launch creates and starts a new virtual machine from image.
func (m *Multipass) Launch(ctx context.Context, name, image string, opts LaunchOptions) error {
	args := []string{"launch", image, "--name", name}
	if opts.CPUs > 0 {
		args = append(args, "--cpus", strconv.Itoa(opts.CPUs))
	}
	if opts.Memory != "" {
		args = append(args, "--mem", opts.Memory)
	}
	if opts.Disk != "" {
		args = append(args, "--disk", opts.Disk)
	}

	logging.Ensure(m.Logger).Debug("launching instance", "name", name, "image", image)
	if _, err := m.run(ctx, args, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("launch instance %s: %w", name, err)
	}
	return nil
}

// Start starts a stopped virtual machine.
func (m *Multipass) Start(ctx context.Context, name string) error {
	if _, err := m.run(ctx, []string{"start", name}, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("start instance %s: %w", name, err)
	}
	return nil
}

// Stop stops a running virtual machine, optionally delaying by delayMins.
func (m *Multipass) Stop(ctx context.Context, name string, delayMins int) error {
	args := []string{"stop"}
	if delayMins > 0 {
		args = append(args, "--time", strconv.Itoa(delayMins))
	}
	args = append(args, name)
	if _, err := m.run(ctx, args, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("stop instance %s: %w", name, err)
	}
	return nil
}

// Delete removes a virtual machine. With purge the machine is removed
// permanently instead of being kept recoverable.
func (m *Multipass) Delete(ctx context.Context, name string, purge bool) error {
	args := []string{"delete", name}
	if purge {
		args = append(args, "--purge")
	}
	if _, err := m.run(ctx, args, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("delete instance %s: %w", name, err)
	}
	return nil
}

// ExecCommand composes the host argv that runs command inside the named
// virtual machine. Callers append environment handling themselves.
func (m *Multipass) ExecCommand(name string, command []string) []string {
	args := []string{m.binary(), "exec", name, "--"}
	return append(args, command...)
}

// Exec runs command inside the named virtual machine.
func (m *Multipass) Exec(ctx context.Context, name string, command []string, hostOpts hostcmd.Options) (*executor.Result, error) {
	return m.runner().Run(ctx, m.ExecCommand(name, command), hostOpts)
}

// MountConfig is one mount stanza from multipass info.
type MountConfig struct {
	SourcePath string `json:"source_path"`
}

// VMInfo is the subset of multipass info the module consumes.
type VMInfo struct {
	State  string                 `json:"state"`
	Mounts map[string]MountConfig `json:"mounts"`
}

type infoResponse struct {
	Info map[string]VMInfo `json:"info"`
}

// Info returns the named machine's state, or nil when the machine does
// not exist. multipass reports a missing machine as an error, so absence
// is recognized from the message rather than the exit code.
func (m *Multipass) Info(ctx context.Context, name string) (*VMInfo, error) {
	res, err := m.run(ctx, []string{"info", name, "--format", "json"}, hostcmd.Options{})
	if err != nil {
		return nil, fmt.Errorf("query instance %s: %w", name, err)
	}
	if res.ExitCode != 0 {
		if strings.Contains(string(res.Stderr), "does not exist") {
			return nil, nil
		}
		return nil, fmt.Errorf("query instance %s: %w", name, &executor.CommandError{
			Command:  res.Command,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		})
	}

	var response infoResponse
	if err := json.Unmarshal(res.Stdout, &response); err != nil {
		return nil, fmt.Errorf("parse multipass info output: %w", err)
	}
	info, ok := response.Info[name]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

// Mount maps a host directory into the machine. The host uid and gid are
// mapped to root so the mounted tree is writable inside.
func (m *Multipass) Mount(ctx context.Context, source, name, target string, uid, gid int) error {
	args := []string{
		"mount", source, name + ":" + target,
		"--uid-map", strconv.Itoa(uid) + ":0",
		"--gid-map", strconv.Itoa(gid) + ":0",
	}
	if _, err := m.run(ctx, args, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("mount %s into instance %s: %w", source, name, err)
	}
	return nil
}

// Umount removes a mount from the machine.
func (m *Multipass) Umount(ctx context.Context, name, target string) error {
	if _, err := m.run(ctx, []string{"umount", name + ":" + target}, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("unmount %s from instance %s: %w", target, name, err)
	}
	return nil
}

// Transfer copies a file between host and machine. In-machine paths are
// written as name:path by the caller.
func (m *Multipass) Transfer(ctx context.Context, source, destination string) error {
	if _, err := m.run(ctx, []string{"transfer", source, destination}, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("transfer %s to %s: %w", source, destination, err)
	}
	return nil
}

// TransferFromReader streams content into the machine at destination
// (written as name:path).
func (m *Multipass) TransferFromReader(ctx context.Context, content io.Reader, destination string) error {
	_, err := m.run(ctx, []string{"transfer", "-", destination}, hostcmd.Options{
		Check: true,
		Stdin: content,
	})
	if err != nil {
		return fmt.Errorf("transfer content to %s: %w", destination, err)
	}
	return nil
}
