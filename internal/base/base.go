// Package base prepares a freshly created (or reused) Ubuntu instance for
// build work: compatibility gating, system environment, hostname, name
// resolution, networking, apt, and snapd, in a strict order, all through
// the executor contract so the steps are backend-agnostic.
package base

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/foundrybuild/foundry/internal/executor"
	"github.com/foundrybuild/foundry/internal/instancecfg"
	"github.com/foundrybuild/foundry/internal/logging"
	"github.com/foundrybuild/foundry/internal/osrelease"
	"github.com/foundrybuild/foundry/internal/poll"
	"github.com/foundrybuild/foundry/internal/provider"
)

// Alias names a supported Ubuntu release by its version id.
type Alias string

const (
	Xenial Alias = "16.04"
	Bionic Alias = "18.04"
	Focal  Alias = "20.04"
)

const (
	// DefaultCompatibilityTag marks instances set up by the current
	// bring-up sequence. Bump it when the sequence changes in a way that
	// makes previously prepared instances unusable.
	DefaultCompatibilityTag = "foundry-base-v1"

	defaultHostname = "foundry-instance"

	osName = "Ubuntu"
)

// networkdConfig configures eth0 for DHCP the way cloud images expect.
const networkdConfig = `[Match]
Name=eth0

[Network]
DHCP=ipv4
LinkLocalAddressing=ipv6

[DHCP]
RouteMetric=100
UseMTU=true
`

// DefaultEnvironment returns the build environment installed into
// /etc/environment.
func DefaultEnvironment() map[string]string {
	return map[string]string{
		"DEBIAN_FRONTEND":             "noninteractive",
		"DEBCONF_NONINTERACTIVE_SEEN": "true",
		"DEBIAN_PRIORITY":             "critical",
		"PATH":                        "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin:/snap/bin",
	}
}

// Base describes the target state of an instance.
type Base struct {
	// Alias is the expected Ubuntu release. An instance reporting a
	// different release is incompatible.
	Alias Alias
	// Hostname for the instance. Empty means a default.
	Hostname string
	// CompatibilityTag persisted into the instance after setup. Empty
	// means DefaultCompatibilityTag.
	CompatibilityTag string
	// Environment lands in /etc/environment. Nil means
	// DefaultEnvironment(); entries with empty values are omitted.
	Environment map[string]string
	// HTTPProxy and HTTPSProxy, when set, are added to the environment.
	HTTPProxy  string
	HTTPSProxy string
	// Logger receives progress records. Nil means the process default.
	Logger *slog.Logger
}

// SetupOptions bound the bring-up run.
type SetupOptions struct {
	// Timeout is the absolute budget for the whole sequence. It gates
	// whether the next step is issued; it never kills a command that is
	// already running. Zero means no deadline.
	Timeout time.Duration
	// RetryWait is the pause between readiness probes. Zero means the
	// polling default.
	RetryWait time.Duration
}

func (b *Base) tag() string {
	if b.CompatibilityTag != "" {
		return b.CompatibilityTag
	}
	return DefaultCompatibilityTag
}

func (b *Base) hostname() string {
	if b.Hostname != "" {
		return b.Hostname
	}
	return defaultHostname
}

// Setup brings the instance to the target state. Steps run in a fixed
// order and the compatibility record is persisted only after every other
// step succeeded, so an interrupted run leaves no record and the next run
// simply redoes the work (every step is idempotent).
func (b *Base) Setup(ctx context.Context, e executor.Executor, opts SetupOptions) error {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	logger := logging.Ensure(b.Logger).With("instance", e.Name())

	steps := []struct {
		name string
		run  func(context.Context, executor.Executor) error
	}{
		{"checking instance compatibility", b.ensureCompatible},
		{"configuring environment", b.setupEnvironment},
		{"waiting for system readiness", func(ctx context.Context, e executor.Executor) error {
			return b.waitForSystemReady(ctx, e, opts.RetryWait)
		}},
		{"configuring hostname", b.setupHostname},
		{"configuring name resolution", b.setupResolved},
		{"configuring networking", b.setupNetworkd},
		{"waiting for network connectivity", func(ctx context.Context, e executor.Executor) error {
			return b.waitForNetwork(ctx, e, opts.RetryWait)
		}},
		{"configuring apt", b.setupApt},
		{"configuring snapd", b.setupSnapd},
		{"recording instance setup", b.persistRecord},
	}

	for _, step := range steps {
		if err := deadlineError(ctx); err != nil {
			return err
		}
		logger.Debug(step.name)
		if err := step.run(ctx, e); err != nil {
			return stepError(step.name, err)
		}
	}
	return nil
}

// WaitUntilReady runs only the readiness waits, for instances that were
// already set up and merely restarted.
func (b *Base) WaitUntilReady(ctx context.Context, e executor.Executor, opts SetupOptions) error {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	if err := b.waitForSystemReady(ctx, e, opts.RetryWait); err != nil {
		return stepError("waiting for system readiness", err)
	}
	if err := b.waitForNetwork(ctx, e, opts.RetryWait); err != nil {
		return stepError("waiting for network connectivity", err)
	}
	return nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func deadlineError(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return &provider.Error{
		Brief:      "timed out preparing instance",
		Resolution: "Retry with a larger timeout.",
		Err:        poll.ErrTimeout,
	}
}

// stepError shapes a step failure for the caller: already-shaped errors
// pass through, timeouts get a resolution hint, everything else becomes a
// setup failure carrying the failed command's details.
func stepError(step string, err error) error {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, poll.ErrTimeout) {
		return &provider.Error{
			Brief:      "timed out while " + step,
			Resolution: "Retry with a larger timeout.",
			Err:        err,
		}
	}
	return provider.WrapCommandError("failed "+step, err)
}

func (b *Base) run(ctx context.Context, e executor.Executor, command ...string) error {
	_, err := e.Execute(ctx, command, executor.RunOptions{
		Env:   b.environment(),
		Check: true,
	})
	return err
}

// ensureCompatible rejects instances prepared under a different tag or
// running a different OS release. An absent record means a first-time or
// interrupted setup and is accepted.
func (b *Base) ensureCompatible(ctx context.Context, e executor.Executor) error {
	record, err := instancecfg.Load(ctx, e, instancecfg.DefaultPath)
	if err != nil {
		return err
	}
	if ok, reason := instancecfg.IsCompatible(record, b.tag()); !ok {
		return incompatible(reason)
	}

	release, err := osrelease.Read(ctx, e, executor.RunOptions{Env: b.environment()})
	if err != nil {
		return err
	}
	if release.Name != osName {
		return incompatible(fmt.Sprintf("expected OS %q, found %q", osName, release.Name))
	}
	if release.VersionID != string(b.Alias) {
		return incompatible(fmt.Sprintf(
			"expected OS version %q, found %q", string(b.Alias), release.VersionID,
		))
	}
	return nil
}

func incompatible(reason string) error {
	return &provider.Error{
		Brief:      "incompatible instance: " + reason,
		Resolution: "Delete the instance and relaunch, or pass --recreate.",
		Err:        provider.ErrIncompatible,
	}
}

func (b *Base) environment() map[string]string {
	env := b.Environment
	if env == nil {
		env = DefaultEnvironment()
	}
	merged := make(map[string]string, len(env)+2)
	for k, v := range env {
		merged[k] = v
	}
	if b.HTTPProxy != "" {
		merged["http_proxy"] = b.HTTPProxy
		merged["HTTP_PROXY"] = b.HTTPProxy
	}
	if b.HTTPSProxy != "" {
		merged["https_proxy"] = b.HTTPSProxy
		merged["HTTPS_PROXY"] = b.HTTPSProxy
	}
	return merged
}

// setupEnvironment writes /etc/environment. Keys are sorted and entries
// with empty values are dropped so the file is stable across runs.
func (b *Base) setupEnvironment(ctx context.Context, e executor.Executor) error {
	env := b.environment()

	keys := make([]string, 0, len(env))
	for k, v := range env {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var content strings.Builder
	for _, k := range keys {
		content.WriteString(k)
		content.WriteByte('=')
		content.WriteString(env[k])
		content.WriteByte('\n')
	}

	return e.CreateFile(ctx, "/etc/environment", []byte(content.String()), executor.FileOptions{
		Mode: "0644",
	})
}

// waitForSystemReady polls until systemd reports the boot settled.
// "degraded" is accepted: cloud images routinely boot with a failed unit
// that does not affect builds.
func (b *Base) waitForSystemReady(ctx context.Context, e executor.Executor, retryWait time.Duration) error {
	return poll.Until(ctx, retryWait, func(ctx context.Context) (bool, error) {
		res, err := e.Execute(ctx, []string{"systemctl", "is-system-running"}, executor.RunOptions{
			Env: b.environment(),
		})
		if err != nil {
			return false, err
		}
		state := strings.TrimSpace(string(res.Stdout))
		return state == "running" || state == "degraded", nil
	})
}

func (b *Base) setupHostname(ctx context.Context, e executor.Executor) error {
	err := e.CreateFile(ctx, "/etc/hostname", []byte(b.hostname()+"\n"), executor.FileOptions{
		Mode: "0644",
	})
	if err != nil {
		return err
	}
	return b.run(ctx, e, "hostname", "-F", "/etc/hostname")
}

func (b *Base) setupResolved(ctx context.Context, e executor.Executor) error {
	err := b.run(ctx, e,
		"ln", "-sf", "/run/systemd/resolve/resolv.conf", "/etc/resolv.conf")
	if err != nil {
		return err
	}
	if err := b.run(ctx, e, "systemctl", "enable", "systemd-resolved"); err != nil {
		return err
	}
	return b.run(ctx, e, "systemctl", "restart", "systemd-resolved")
}

func (b *Base) setupNetworkd(ctx context.Context, e executor.Executor) error {
	err := e.CreateFile(ctx, "/etc/systemd/network/10-eth0.network", []byte(networkdConfig), executor.FileOptions{
		Mode: "0644",
	})
	if err != nil {
		return err
	}
	if err := b.run(ctx, e, "systemctl", "enable", "systemd-networkd"); err != nil {
		return err
	}
	return b.run(ctx, e, "systemctl", "restart", "systemd-networkd")
}

// waitForNetwork polls name resolution of a host the toolchain needs
// anyway. Resolution implies the interface is up and DNS works.
func (b *Base) waitForNetwork(ctx context.Context, e executor.Executor, retryWait time.Duration) error {
	return poll.Until(ctx, retryWait, func(ctx context.Context) (bool, error) {
		res, err := e.Execute(ctx, []string{"getent", "hosts", "snapcraft.io"}, executor.RunOptions{
			Env: b.environment(),
		})
		if err != nil {
			return false, err
		}
		return res.ExitCode == 0, nil
	})
}

func (b *Base) setupApt(ctx context.Context, e executor.Executor) error {
	err := e.CreateFile(ctx, "/etc/apt/apt.conf.d/00no-recommends",
		[]byte("APT::Install-Recommends \"false\";\n"), executor.FileOptions{Mode: "0644"})
	if err != nil {
		return err
	}
	if err := b.run(ctx, e, "apt-get", "update"); err != nil {
		return err
	}
	return b.run(ctx, e, "apt-get", "install", "-y", "apt-utils")
}

// setupSnapd installs and starts snapd. snapd.service is restarted rather
// than started so a proxy configured in /etc/environment is picked up.
func (b *Base) setupSnapd(ctx context.Context, e executor.Executor) error {
	if err := b.run(ctx, e, "apt-get", "install", "-y", "fuse", "udev"); err != nil {
		return err
	}
	if err := b.run(ctx, e, "systemctl", "enable", "systemd-udevd"); err != nil {
		return err
	}
	if err := b.run(ctx, e, "systemctl", "start", "systemd-udevd"); err != nil {
		return err
	}
	if err := b.run(ctx, e, "apt-get", "install", "-y", "snapd"); err != nil {
		return err
	}
	if err := b.run(ctx, e, "systemctl", "start", "snapd.socket"); err != nil {
		return err
	}
	if err := b.run(ctx, e, "systemctl", "restart", "snapd.service"); err != nil {
		return err
	}
	return b.run(ctx, e, "snap", "wait", "system", "seed.loaded")
}

func (b *Base) persistRecord(ctx context.Context, e executor.Executor) error {
	return instancecfg.Save(ctx, e, instancecfg.DefaultPath, instancecfg.Record{
		CompatibilityTag: b.tag(),
	})
}
