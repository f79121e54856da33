package lxd

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/foundrybuild/foundry/internal/base"
	"github.com/foundrybuild/foundry/internal/executor"
	"github.com/foundrybuild/foundry/internal/provider"
)

const focalOSRelease = "NAME=\"Ubuntu\"\nVERSION_ID=\"20.04\"\n"

// healthyHost scripts an LXD host with a seccomp-capable kernel and a
// healthy Focal guest. The record callback answers reads of the
// compatibility record.
func healthyHost(listOutput string, record func() *executor.Result) func([]string) (*executor.Result, error) {
	return func(command []string) (*executor.Result, error) {
		line := strings.Join(command, " ")
		switch {
		case line == "lxc --project default info":
			return &executor.Result{Stdout: []byte(
				"environment:\n  kernel_features:\n    seccomp_listener: \"true\"\n",
			)}, nil
		case strings.Contains(line, " list "):
			return &executor.Result{Stdout: []byte(listOutput)}, nil
		case strings.Contains(line, "cat /etc/foundry-instance.conf"):
			return record(), nil
		case strings.Contains(line, "cat /etc/os-release"):
			return &executor.Result{Stdout: []byte(focalOSRelease)}, nil
		case strings.Contains(line, "is-system-running"):
			return &executor.Result{Stdout: []byte("running\n")}, nil
		}
		return &executor.Result{}, nil
	}
}

func TestEnsureLaunchedCreatesMissingInstance(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	runner.handle = healthyHost("[]\n", func() *executor.Result {
		return &executor.Result{ExitCode: 1}
	})
	lxc := &LXC{Runner: runner}

	inst, err := EnsureLaunched(context.Background(), lxc, LaunchOptions{
		Name:   "inst",
		Base:   &base.Base{Alias: base.Focal},
		MapUID: 1000,
		Setup:  base.SetupOptions{RetryWait: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("EnsureLaunched returned error: %v", err)
	}
	if inst.Name() != "inst" {
		t.Fatalf("instance name = %q, want inst", inst.Name())
	}

	launchIdx := -1
	for i, call := range runner.calls {
		if strings.Contains(call, " launch ") {
			launchIdx = i
			break
		}
	}
	if launchIdx == -1 {
		t.Fatalf("instance never launched: %v", runner.calls)
	}
	launch := runner.calls[launchIdx]
	if !strings.Contains(launch, "ubuntu:20.04") {
		t.Fatalf("launch does not use the derived image: %q", launch)
	}
	if !strings.Contains(launch, "raw.idmap=both 1000 0") {
		t.Fatalf("launch missing idmap config: %q", launch)
	}
	if !strings.Contains(launch, "security.syscalls.intercept.mknod=true") {
		t.Fatalf("launch missing mknod interception: %q", launch)
	}

	last := runner.calls[len(runner.calls)-2] // push precedes the chown
	if !strings.Contains(last, "file push") || !strings.Contains(last, "/etc/foundry-instance.conf") {
		t.Fatalf("compatibility record was not the final write: %v", runner.calls[len(runner.calls)-3:])
	}
}

func TestEnsureLaunchedStartsStoppedInstance(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	runner.handle = healthyHost("- name: inst\n  status: Stopped\n", func() *executor.Result {
		return &executor.Result{ExitCode: 1}
	})
	lxc := &LXC{Runner: runner}

	_, err := EnsureLaunched(context.Background(), lxc, LaunchOptions{
		Name:  "inst",
		Base:  &base.Base{Alias: base.Focal},
		Setup: base.SetupOptions{RetryWait: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("EnsureLaunched returned error: %v", err)
	}

	if !runner.calledWith("start local:inst") {
		t.Fatalf("stopped instance was not started: %v", runner.calls)
	}
	if runner.calledWith(" launch ") {
		t.Fatalf("existing instance was relaunched: %v", runner.calls)
	}
}

func TestEnsureLaunchedIncompatibleWithoutRecreateFails(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	runner.handle = healthyHost("- name: inst\n  status: Running\n", func() *executor.Result {
		return &executor.Result{Stdout: []byte("compatibility_tag: ancient\n")}
	})
	lxc := &LXC{Runner: runner}

	_, err := EnsureLaunched(context.Background(), lxc, LaunchOptions{
		Name:  "inst",
		Base:  &base.Base{Alias: base.Focal},
		Setup: base.SetupOptions{RetryWait: time.Millisecond},
	})
	if !errors.Is(err, provider.ErrIncompatible) {
		t.Fatalf("expected ErrIncompatible, got %v", err)
	}
	if runner.calledWith(" delete ") {
		t.Fatalf("instance deleted without --recreate: %v", runner.calls)
	}
}

func TestEnsureLaunchedRecreatesIncompatibleInstance(t *testing.T) {
	t.Parallel()

	deleted := false
	runner := &stubRunner{}
	runner.handle = healthyHost("- name: inst\n  status: Running\n", func() *executor.Result {
		if deleted {
			return &executor.Result{ExitCode: 1}
		}
		return &executor.Result{Stdout: []byte("compatibility_tag: ancient\n")}
	})
	inner := runner.handle
	runner.handle = func(command []string) (*executor.Result, error) {
		if strings.Contains(strings.Join(command, " "), " delete ") {
			deleted = true
		}
		return inner(command)
	}
	lxc := &LXC{Runner: runner}

	inst, err := EnsureLaunched(context.Background(), lxc, LaunchOptions{
		Name:                   "inst",
		Base:                   &base.Base{Alias: base.Focal},
		RecreateOnIncompatible: true,
		Setup:                  base.SetupOptions{RetryWait: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("EnsureLaunched returned error: %v", err)
	}
	if inst == nil {
		t.Fatal("expected an instance after recreation")
	}
	if !deleted {
		t.Fatal("incompatible instance was not deleted")
	}
	if !runner.calledWith(" launch ") {
		t.Fatalf("instance was not relaunched: %v", runner.calls)
	}
}
