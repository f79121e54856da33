package multipass

import (
	"context"
	"errors"
	"fmt"

	"github.com/foundrybuild/foundry/internal/base"
	"github.com/foundrybuild/foundry/internal/logging"
	"github.com/foundrybuild/foundry/internal/provider"
)

// EnsureLaunchedOptions describe the machine EnsureLaunched converges on.
type EnsureLaunchedOptions struct {
	// Name of the machine.
	Name string
	// Base is the target configuration applied after the machine is up.
	Base *base.Base
	// Image to launch from. Empty derives the image from Base.Alias.
	Image string
	// Sizing for a newly created machine.
	Sizing LaunchOptions
	// RecreateOnIncompatible deletes and relaunches an existing machine
	// that fails the compatibility check, once.
	RecreateOnIncompatible bool
	// Setup bounds the bring-up run.
	Setup base.SetupOptions
}

func (o EnsureLaunchedOptions) image() string {
	if o.Image != "" {
		return o.Image
	}
	return string(o.Base.Alias)
}

// EnsureLaunched converges on a ready machine: an existing one is started
// and brought through setup, a missing one is launched first. When an
// existing machine turns out incompatible and recreation is allowed, it is
// deleted and launched fresh exactly once.
func EnsureLaunched(ctx context.Context, mp *Multipass, opts EnsureLaunchedOptions) (*Instance, error) {
	if opts.Base == nil {
		return nil, errors.New("launch options carry no base configuration")
	}
	if mp == nil {
		mp = &Multipass{}
	}

	inst := &Instance{InstanceName: opts.Name, Multipass: mp, Logger: mp.Logger}
	logger := logging.Ensure(mp.Logger).With("instance", opts.Name)

	info, err := mp.Info(ctx, opts.Name)
	if err != nil {
		return nil, err
	}

	if info != nil {
		if info.State != "Running" {
			if err := inst.Start(ctx); err != nil {
				return nil, err
			}
		}
		if err := opts.Base.WaitUntilReady(ctx, inst, opts.Setup); err != nil {
			return nil, err
		}

		err = opts.Base.Setup(ctx, inst, opts.Setup)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, provider.ErrIncompatible) || !opts.RecreateOnIncompatible {
			return nil, err
		}

		logger.Info("discarding incompatible instance")
		if err := inst.Delete(ctx); err != nil {
			return nil, fmt.Errorf("discard incompatible instance: %w", err)
		}
	}

	if err := mp.Launch(ctx, opts.Name, opts.image(), opts.Sizing); err != nil {
		return nil, err
	}
	if err := opts.Base.Setup(ctx, inst, opts.Setup); err != nil {
		return nil, err
	}
	return inst, nil
}
