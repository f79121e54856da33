// Package lxd drives LXD containers through the lxc command-line client.
package lxd

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/foundrybuild/foundry/internal/executor"
	"github.com/foundrybuild/foundry/internal/hostcmd"
	"github.com/foundrybuild/foundry/internal/logging"
)

const (
	// DefaultRemote is the remote used when none is configured. Mounts
	// are only possible against it.
	DefaultRemote = "local"

	defaultBinary  = "lxc"
	defaultProject = "default"
)

// LXC wraps the lxc client binary. The zero value is usable: it talks to
// the local remote and default project through the lxc on PATH.
type LXC struct {
	// Path is the lxc binary to invoke. Empty means "lxc".
	Path string
	// Project scopes every operation. Empty means "default".
	Project string
	// Remote qualifies instance names. Empty means "local".
	Remote string
	// Runner executes the composed commands on the host. Nil means a
	// real host runner.
	Runner hostcmd.Runner
	// Logger receives debug records. Nil means the process default.
	Logger *slog.Logger
}

func (l *LXC) binary() string {
	if l.Path != "" {
		return l.Path
	}
	return defaultBinary
}

func (l *LXC) project() string {
	if l.Project != "" {
		return l.Project
	}
	return defaultProject
}

func (l *LXC) remote() string {
	if l.Remote != "" {
		return l.Remote
	}
	return DefaultRemote
}

func (l *LXC) runner() hostcmd.Runner {
	if l.Runner != nil {
		return l.Runner
	}
	return hostcmd.New(l.Logger)
}

// qualify prefixes an instance name with the configured remote.
func (l *LXC) qualify(name string) string {
	return l.remote() + ":" + name
}

// command composes a full lxc invocation with the project flag applied.
func (l *LXC) command(args ...string) []string {
	return append([]string{l.binary(), "--project", l.project()}, args...)
}

func (l *LXC) run(ctx context.Context, args []string, opts hostcmd.Options) (*executor.Result, error) {
	return l.runner().Run(ctx, l.command(args...), opts)
}

// Launch creates and starts a new instance from imageRemote:image. Config
// keys are applied at creation time, in sorted order so invocations are
// reproducible.
func (l *LXC) Launch(ctx context.Context, name, image, imageRemote string, config map[string]string) error {
	args := []string{"launch", imageRemote + ":" + image, l.qualify(name)}

	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--config", k+"="+config[k])
	}

	logging.Ensure(l.Logger).Debug("launching instance", "name", name, "image", image)
	if _, err := l.run(ctx, args, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("launch instance %s: %w", name, err)
	}
	return nil
}

// Start starts a stopped instance.
func (l *LXC) Start(ctx context.Context, name string) error {
	if _, err := l.run(ctx, []string{"start", l.qualify(name)}, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("start instance %s: %w", name, err)
	}
	return nil
}

// Stop stops a running instance.
func (l *LXC) Stop(ctx context.Context, name string) error {
	if _, err := l.run(ctx, []string{"stop", l.qualify(name)}, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("stop instance %s: %w", name, err)
	}
	return nil
}

// Delete removes an instance. With force, a running instance is stopped
// first.
func (l *LXC) Delete(ctx context.Context, name string, force bool) error {
	args := []string{"delete", l.qualify(name)}
	if force {
		args = append(args, "--force")
	}
	if _, err := l.run(ctx, args, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("delete instance %s: %w", name, err)
	}
	return nil
}

// ExecOptions adjust how a command runs inside an instance.
type ExecOptions struct {
	// WorkingDirectory sets the command's cwd inside the instance.
	WorkingDirectory string
	// Mode is the lxc terminal mode: auto, interactive, or
	// non-interactive. Empty omits the flag.
	Mode string
}

// ExecCommand composes the host argv that runs command inside the named
// instance. Callers append environment handling to command themselves.
func (l *LXC) ExecCommand(name string, command []string, opts ExecOptions) []string {
	args := []string{"exec", l.qualify(name)}
	if opts.WorkingDirectory != "" {
		args = append(args, "--cwd", opts.WorkingDirectory)
	}
	if opts.Mode != "" {
		args = append(args, "--mode", opts.Mode)
	}
	args = append(args, "--")
	args = append(args, command...)
	return l.command(args...)
}

// Exec runs command inside the named instance and captures its output.
func (l *LXC) Exec(ctx context.Context, name string, command []string, opts ExecOptions, hostOpts hostcmd.Options) (*executor.Result, error) {
	return l.runner().Run(ctx, l.ExecCommand(name, command, opts), hostOpts)
}

// FilePush copies a host file into the instance. Mode, when set, is the
// octal permission string applied to the pushed file. Ownership inside
// the instance is not preserved by the transfer.
func (l *LXC) FilePush(ctx context.Context, name, source, destination, mode string) error {
	args := []string{"file", "push", source, l.qualify(name) + destination}
	if mode != "" {
		args = append(args, "--mode", mode)
	}
	if _, err := l.run(ctx, args, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("push file to instance %s: %w", name, err)
	}
	return nil
}

// FilePull copies a file out of the instance onto the host.
func (l *LXC) FilePull(ctx context.Context, name, source, destination string) error {
	args := []string{"file", "pull", l.qualify(name) + source, destination}
	if _, err := l.run(ctx, args, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("pull file from instance %s: %w", name, err)
	}
	return nil
}

// ListEntry is the subset of lxc list output the module consumes.
type ListEntry struct {
	Name   string `yaml:"name"`
	Status string `yaml:"status"`
}

// List returns the instances matching filter. lxc treats the filter as a
// prefix, so callers must still match names exactly.
func (l *LXC) List(ctx context.Context, filter string) ([]ListEntry, error) {
	args := []string{"list", "--format", "yaml"}
	if filter != "" {
		args = append(args, l.qualify(filter))
	}
	res, err := l.run(ctx, args, hostcmd.Options{Check: true})
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	var entries []ListEntry
	if err := yaml.Unmarshal(res.Stdout, &entries); err != nil {
		return nil, fmt.Errorf("parse lxc list output: %w", err)
	}
	return entries, nil
}

// ServerInfo is the subset of lxc info output the module consumes.
type ServerInfo struct {
	Environment struct {
		KernelFeatures map[string]string `yaml:"kernel_features"`
	} `yaml:"environment"`
}

// Info queries the LXD server itself.
func (l *LXC) Info(ctx context.Context) (*ServerInfo, error) {
	res, err := l.run(ctx, []string{"info"}, hostcmd.Options{Check: true})
	if err != nil {
		return nil, fmt.Errorf("query server info: %w", err)
	}

	var info ServerInfo
	if err := yaml.Unmarshal(res.Stdout, &info); err != nil {
		return nil, fmt.Errorf("parse lxc info output: %w", err)
	}
	return &info, nil
}

// HasSeccompListener reports whether the host kernel supports the seccomp
// notify interface, which gates mknod syscall interception in containers.
func (l *LXC) HasSeccompListener(ctx context.Context) (bool, error) {
	info, err := l.Info(ctx)
	if err != nil {
		return false, err
	}
	return info.Environment.KernelFeatures["seccomp_listener"] == "true", nil
}

// DeviceConfig is one device stanza from lxc config device show.
type DeviceConfig map[string]string

// ConfigDeviceShow returns the devices attached to an instance.
func (l *LXC) ConfigDeviceShow(ctx context.Context, name string) (map[string]DeviceConfig, error) {
	res, err := l.run(ctx, []string{"config", "device", "show", l.qualify(name)}, hostcmd.Options{Check: true})
	if err != nil {
		return nil, fmt.Errorf("show devices for instance %s: %w", name, err)
	}

	devices := map[string]DeviceConfig{}
	if err := yaml.Unmarshal(res.Stdout, &devices); err != nil {
		return nil, fmt.Errorf("parse device config for instance %s: %w", name, err)
	}
	return devices, nil
}

// ConfigDeviceAddDisk attaches a host directory as a disk device.
func (l *LXC) ConfigDeviceAddDisk(ctx context.Context, name, device, source, path string) error {
	args := []string{
		"config", "device", "add", l.qualify(name), device, "disk",
		"source=" + source, "path=" + path,
	}
	if _, err := l.run(ctx, args, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("add disk device to instance %s: %w", name, err)
	}
	return nil
}

// ConfigSet sets one instance config key.
func (l *LXC) ConfigSet(ctx context.Context, name, key, value string) error {
	args := []string{"config", "set", l.qualify(name), key, value}
	if _, err := l.run(ctx, args, hostcmd.Options{Check: true}); err != nil {
		return fmt.Errorf("set config %s on instance %s: %w", key, name, err)
	}
	return nil
}
