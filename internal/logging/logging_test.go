package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestCLIHandlerRendersAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewCLI(&buf, nil)

	logger.Info("launching instance", "name", "foundry-a1b2", "backend", "lxd")

	line := buf.String()
	if !strings.Contains(line, "info ") {
		t.Fatalf("missing level label: %q", line)
	}
	if !strings.Contains(line, "launching instance") {
		t.Fatalf("missing message: %q", line)
	}
	if !strings.Contains(line, "name=foundry-a1b2") || !strings.Contains(line, "backend=lxd") {
		t.Fatalf("missing attrs: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("record not newline terminated: %q", line)
	}
}

func TestCLIHandlerQuotesValuesWithSpaces(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewCLI(&buf, nil)

	logger.Info("executing on host", "command", "lxc file push a b")

	if !strings.Contains(buf.String(), `command="lxc file push a b"`) {
		t.Fatalf("value with spaces not quoted: %q", buf.String())
	}
}

func TestCLIHandlerRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewCLI(&buf, nil)

	logger.Debug("should be suppressed")
	if buf.Len() != 0 {
		t.Fatalf("debug record emitted at info level: %q", buf.String())
	}

	var level slog.LevelVar
	level.Set(slog.LevelDebug)
	logger = NewCLI(&buf, &level)
	logger.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Fatalf("debug record missing at debug level: %q", buf.String())
	}
}

func TestCLIHandlerFlattensGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewCLI(&buf, nil).WithGroup("instance").With("name", "inst")

	logger.Info("ready")
	if !strings.Contains(buf.String(), "instance.name=inst") {
		t.Fatalf("group prefix missing: %q", buf.String())
	}
}

func TestEnsure(t *testing.T) {
	t.Parallel()

	if Ensure(nil) != slog.Default() {
		t.Fatal("Ensure(nil) should return the process default")
	}
	logger := NewCLI(&bytes.Buffer{}, nil)
	if Ensure(logger) != logger {
		t.Fatal("Ensure should pass a non-nil logger through")
	}
}
