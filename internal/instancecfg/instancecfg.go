// Package instancecfg persists the per-instance setup record inside the
// instance itself. The record is what lets a later run decide whether an
// existing instance was prepared by a compatible version of the tooling.
package instancecfg

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/foundrybuild/foundry/internal/executor"
)

// DefaultPath is where the record lives inside every instance.
const DefaultPath = "/etc/foundry-instance.conf"

// Record describes how an instance was set up.
type Record struct {
	CompatibilityTag string `yaml:"compatibility_tag"`
}

// Load reads the record from path inside the instance. A missing file is
// not an error: it returns (nil, nil), meaning the instance predates record
// keeping and is treated as compatible.
func Load(ctx context.Context, e executor.Executor, path string) (*Record, error) {
	res, err := e.Execute(ctx, []string{"cat", path}, executor.RunOptions{})
	if err != nil {
		return nil, fmt.Errorf("read instance record: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, nil
	}

	var record Record
	if err := yaml.Unmarshal(res.Stdout, &record); err != nil {
		return nil, fmt.Errorf("parse instance record %s: %w", path, err)
	}
	return &record, nil
}

// Save writes the record to path inside the instance, creating or
// replacing it atomically from the instance's point of view.
func Save(ctx context.Context, e executor.Executor, path string, record Record) error {
	content, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode instance record: %w", err)
	}
	if err := e.CreateFile(ctx, path, content, executor.FileOptions{Mode: "0644"}); err != nil {
		return fmt.Errorf("write instance record %s: %w", path, err)
	}
	return nil
}

// IsCompatible reports whether the record allows reuse with the given tag.
// A nil record is compatible; a present record must match exactly. The
// returned reason is empty when compatible.
func IsCompatible(record *Record, tag string) (bool, string) {
	if record == nil {
		return true, ""
	}
	if record.CompatibilityTag != tag {
		return false, fmt.Sprintf(
			"instance was set up with tag %q, expected %q",
			record.CompatibilityTag, tag,
		)
	}
	return true, ""
}
