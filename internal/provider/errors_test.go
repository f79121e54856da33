package provider

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/foundrybuild/foundry/internal/executor"
)

func TestErrorFull(t *testing.T) {
	t.Parallel()

	err := &Error{
		Brief:      "failed configuring apt",
		Details:    "* Command exit code: 100",
		Resolution: "Check the instance's network connectivity.",
	}

	full := err.Full()
	want := "failed configuring apt\n* Command exit code: 100\nResolution: Check the instance's network connectivity."
	if full != want {
		t.Fatalf("Full() = %q, want %q", full, want)
	}
	if err.Error() != "failed configuring apt" {
		t.Fatalf("Error() = %q, want brief only", err.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := &Error{Brief: "incompatible instance", Err: ErrIncompatible}
	if !errors.Is(err, ErrIncompatible) {
		t.Fatal("expected error to unwrap to ErrIncompatible")
	}
}

func TestWrapCommandErrorExtractsDetails(t *testing.T) {
	t.Parallel()

	cmdErr := &executor.CommandError{
		Command:  []string{"apt-get", "update"},
		ExitCode: 100,
		Stderr:   []byte("no network"),
	}
	err := WrapCommandError("failed configuring apt", fmt.Errorf("run step: %w", cmdErr))

	if err.Brief != "failed configuring apt" {
		t.Fatalf("Brief = %q", err.Brief)
	}
	if !strings.Contains(err.Details, "apt-get update") {
		t.Fatalf("Details missing command: %q", err.Details)
	}
	if !strings.Contains(err.Details, "no network") {
		t.Fatalf("Details missing stderr: %q", err.Details)
	}

	var unwrapped *executor.CommandError
	if !errors.As(err, &unwrapped) {
		t.Fatal("expected wrapped CommandError to remain reachable")
	}
}

func TestWrapCommandErrorWithoutCommandError(t *testing.T) {
	t.Parallel()

	err := WrapCommandError("failed configuring apt", errors.New("connection refused"))
	if err.Details != "" {
		t.Fatalf("Details = %q, want empty", err.Details)
	}
}
