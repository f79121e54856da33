package provider

import (
	"context"

	"github.com/foundrybuild/foundry/internal/executor"
)

// Instance is a provisioned build environment together with its lifecycle
// operations. Both backends return a concrete type satisfying this
// interface; the instance's create/start/stop/delete lifecycle is always
// driven explicitly by the caller, never implicitly by executor methods.
type Instance interface {
	executor.Executor

	// Start starts a stopped instance.
	Start(ctx context.Context) error
	// Stop stops a running instance.
	Stop(ctx context.Context) error
	// Delete removes the instance, stopping it first if necessary.
	Delete(ctx context.Context) error
}
