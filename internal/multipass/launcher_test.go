package multipass

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

// healthyHost scripts a multipass host with a healthy Focal guest. The
// info callback answers state queries, the record callback answers reads
// of the compatibility record.
func healthyHost(info func() *executor.Result, record func() *executor.Result) func([]string) (*executor.Result, error) {
	return func(command []string) (*executor.Result, error) {
		line := strings.Join(command, " ")
		switch {
		case strings.HasPrefix(line, "multipass info "):
			return info(), nil
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

func TestEnsureLaunchedCreatesMissingMachine(t *testing.T) {
	t.Parallel()

	launched := false
	runner := &stubRunner{}
	runner.handle = healthyHost(
		func() *executor.Result {
			if launched {
				return &executor.Result{Stdout: []byte(`{"info":{"inst":{"state":"Running","mounts":{}}}}`)}
			}
			return &executor.Result{ExitCode: 2, Stderr: []byte(`instance "inst" does not exist`)}
		},
		func() *executor.Result { return &executor.Result{ExitCode: 1} },
	)
	inner := runner.handle
	runner.handle = func(command []string) (*executor.Result, error) {
		if command[1] == "launch" {
			launched = true
		}
		return inner(command)
	}
	mp := &Multipass{Runner: runner}

	inst, err := EnsureLaunched(context.Background(), mp, EnsureLaunchedOptions{
		Name:   "inst",
		Base:   &base.Base{Alias: base.Focal},
		Sizing: LaunchOptions{CPUs: 2},
		Setup:  base.SetupOptions{RetryWait: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("EnsureLaunched returned error: %v", err)
	}
	if inst.Name() != "inst" {
		t.Fatalf("instance name = %q, want inst", inst.Name())
	}

	if !runner.calledWith("multipass launch 20.04 --name inst --cpus 2") {
		t.Fatalf("machine never launched with the derived image: %v", runner.calls)
	}

	// The record is staged, fixed up, and moved; the move must be the
	// final command of the run.
	last := runner.calls[len(runner.calls)-1]
	if !strings.Contains(last, "mv /tmp/_etc_foundry-instance.conf /etc/foundry-instance.conf") {
		t.Fatalf("compatibility record was not the final write: %q", last)
	}
}

func TestEnsureLaunchedIncompatibleWithoutRecreateFails(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	runner.handle = healthyHost(
		func() *executor.Result {
			return &executor.Result{Stdout: []byte(`{"info":{"inst":{"state":"Running","mounts":{}}}}`)}
		},
		func() *executor.Result {
			return &executor.Result{Stdout: []byte("compatibility_tag: ancient\n")}
		},
	)
	mp := &Multipass{Runner: runner}

	_, err := EnsureLaunched(context.Background(), mp, EnsureLaunchedOptions{
		Name:  "inst",
		Base:  &base.Base{Alias: base.Focal},
		Setup: base.SetupOptions{RetryWait: time.Millisecond},
	})
	if !errors.Is(err, provider.ErrIncompatible) {
		t.Fatalf("expected ErrIncompatible, got %v", err)
	}
	if runner.calledWith("multipass delete") {
		t.Fatalf("machine deleted without --recreate: %v", runner.calls)
	}
}
