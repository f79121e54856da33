// Package osrelease reads /etc/os-release from inside an instance.
package osrelease

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"

	"github.com/foundrybuild/foundry/internal/executor"
)

// Info is the subset of os-release fields the compatibility check needs.
type Info struct {
	// Name is the NAME field, e.g. "Ubuntu".
	Name string
	// VersionID is the VERSION_ID field, e.g. "20.04".
	VersionID string
}

// Read fetches and parses the instance's /etc/os-release. The file uses
// shell-style KEY="value" assignments, which is exactly the dotenv format.
func Read(ctx context.Context, e executor.Executor, opts executor.RunOptions) (*Info, error) {
	opts.Check = true
	res, err := e.Execute(ctx, []string{"cat", "/etc/os-release"}, opts)
	if err != nil {
		return nil, fmt.Errorf("read /etc/os-release: %w", err)
	}

	fields, err := godotenv.Unmarshal(string(res.Stdout))
	if err != nil {
		return nil, fmt.Errorf("parse /etc/os-release: %w", err)
	}
	return &Info{
		Name:      fields["NAME"],
		VersionID: fields["VERSION_ID"],
	}, nil
}
