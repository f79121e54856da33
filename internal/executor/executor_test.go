package executor

import (
	"strings"
	"testing"
)

func TestEnvWrapSortsKeys(t *testing.T) {
	t.Parallel()

	got := EnvWrap(map[string]string{
		"PATH": "/bin",
		"A":    "1",
		"HOME": "/root",
	}, []string{"apt-get", "update"})

	want := "env A=1 HOME=/root PATH=/bin apt-get update"
	if strings.Join(got, " ") != want {
		t.Fatalf("EnvWrap = %q, want %q", strings.Join(got, " "), want)
	}
}

func TestEnvWrapEmptyEnvLeavesCommandAlone(t *testing.T) {
	t.Parallel()

	command := []string{"systemctl", "is-system-running"}
	got := EnvWrap(nil, command)
	if strings.Join(got, " ") != strings.Join(command, " ") {
		t.Fatalf("EnvWrap = %v, want %v", got, command)
	}
}

func TestCommandErrorMessage(t *testing.T) {
	t.Parallel()

	err := &CommandError{
		Command:  []string{"apt-get", "update"},
		ExitCode: 100,
	}
	want := `command "apt-get update" exited with code 100`
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCommandErrorDetails(t *testing.T) {
	t.Parallel()

	err := &CommandError{
		Command:  []string{"apt-get", "update"},
		ExitCode: 100,
		Stdout:   []byte("reading package lists\n"),
		Stderr:   []byte("could not resolve archive.ubuntu.com\n"),
	}

	details := err.Details()
	for _, want := range []string{
		"* Command that failed: apt-get update",
		"* Command exit code: 100",
		"* Command output: reading package lists",
		"* Command standard error output: could not resolve archive.ubuntu.com",
	} {
		if !strings.Contains(details, want) {
			t.Fatalf("Details() missing %q:\n%s", want, details)
		}
	}
}

func TestCommandErrorDetailsOmitsEmptyStreams(t *testing.T) {
	t.Parallel()

	err := &CommandError{Command: []string{"true"}, ExitCode: 1}
	details := err.Details()
	if strings.Contains(details, "Command output") {
		t.Fatalf("Details() mentions empty stdout:\n%s", details)
	}
	if strings.Contains(details, "standard error") {
		t.Fatalf("Details() mentions empty stderr:\n%s", details)
	}
}
