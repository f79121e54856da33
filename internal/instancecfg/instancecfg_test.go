package instancecfg_test

import (
	"context"
	"strings"
	"testing"

	"github.com/foundrybuild/foundry/internal/executor"
	"github.com/foundrybuild/foundry/internal/executor/executortest"
	"github.com/foundrybuild/foundry/internal/instancecfg"
)

func TestLoadAbsentRecord(t *testing.T) {
	t.Parallel()

	fake := &executortest.Fake{
		Handle: func(command []string) (*executor.Result, error) {
			return &executor.Result{ExitCode: 1, Stderr: []byte("No such file or directory")}, nil
		},
	}

	record, err := instancecfg.Load(context.Background(), fake, instancecfg.DefaultPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil record for absent file, got %+v", record)
	}
}

func TestLoadParsesRecord(t *testing.T) {
	t.Parallel()

	fake := &executortest.Fake{
		Handle: func(command []string) (*executor.Result, error) {
			return &executor.Result{Stdout: []byte("compatibility_tag: foundry-base-v1\nunknown_key: ignored\n")}, nil
		},
	}

	record, err := instancecfg.Load(context.Background(), fake, instancecfg.DefaultPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if record == nil {
		t.Fatal("expected a record")
	}
	if record.CompatibilityTag != "foundry-base-v1" {
		t.Fatalf("CompatibilityTag = %q, want foundry-base-v1", record.CompatibilityTag)
	}
}

func TestSaveWritesYAML(t *testing.T) {
	t.Parallel()

	fake := &executortest.Fake{}
	err := instancecfg.Save(context.Background(), fake, instancecfg.DefaultPath, instancecfg.Record{
		CompatibilityTag: "foundry-base-v1",
	})
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	file, ok := fake.Files[instancecfg.DefaultPath]
	if !ok {
		t.Fatalf("no file written at %s", instancecfg.DefaultPath)
	}
	if !strings.Contains(string(file.Content), "compatibility_tag: foundry-base-v1") {
		t.Fatalf("unexpected record content: %q", file.Content)
	}
	if file.Options.Mode != "0644" {
		t.Fatalf("Mode = %q, want 0644", file.Options.Mode)
	}
}

func TestIsCompatible(t *testing.T) {
	t.Parallel()

	if ok, reason := instancecfg.IsCompatible(nil, "tag"); !ok || reason != "" {
		t.Fatalf("nil record: ok=%t reason=%q, want compatible", ok, reason)
	}

	record := &instancecfg.Record{CompatibilityTag: "tag"}
	if ok, _ := instancecfg.IsCompatible(record, "tag"); !ok {
		t.Fatal("matching tag reported incompatible")
	}

	ok, reason := instancecfg.IsCompatible(record, "other")
	if ok {
		t.Fatal("mismatched tag reported compatible")
	}
	if !strings.Contains(reason, `"tag"`) || !strings.Contains(reason, `"other"`) {
		t.Fatalf("reason does not name both tags: %q", reason)
	}
}
