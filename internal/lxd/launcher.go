package lxd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/foundrybuild/foundry/internal/base"
	"github.com/foundrybuild/foundry/internal/logging"
	"github.com/foundrybuild/foundry/internal/provider"
)

// DefaultImageRemote serves the official Ubuntu cloud images.
const DefaultImageRemote = "ubuntu"

// LaunchOptions describe the instance EnsureLaunched converges on.
type LaunchOptions struct {
	// Name of the instance.
	Name string
	// Base is the target configuration applied after the instance is up.
	Base *base.Base
	// Image to launch from. Empty derives the image from Base.Alias.
	Image string
	// ImageRemote hosting the image. Empty means DefaultImageRemote.
	ImageRemote string
	// MapUID is the host uid mapped to root inside the container. Zero
	// means the current user.
	MapUID int
	// RecreateOnIncompatible deletes and relaunches an existing instance
	// that fails the compatibility check, once.
	RecreateOnIncompatible bool
	// Setup bounds the bring-up run.
	Setup base.SetupOptions
}

func (o LaunchOptions) image() string {
	if o.Image != "" {
		return o.Image
	}
	return string(o.Base.Alias)
}

func (o LaunchOptions) imageRemote() string {
	if o.ImageRemote != "" {
		return o.ImageRemote
	}
	return DefaultImageRemote
}

func (o LaunchOptions) mapUID() int {
	if o.MapUID != 0 {
		return o.MapUID
	}
	return os.Getuid()
}

// EnsureLaunched converges on a ready instance: an existing one is started
// and brought through setup, a missing one is launched first. When an
// existing instance turns out incompatible and recreation is allowed, it
// is deleted and launched fresh exactly once.
func EnsureLaunched(ctx context.Context, lxc *LXC, opts LaunchOptions) (*Instance, error) {
	if opts.Base == nil {
		return nil, errors.New("launch options carry no base configuration")
	}
	if lxc == nil {
		lxc = &LXC{}
	}

	inst := &Instance{InstanceName: opts.Name, LXC: lxc, Logger: lxc.Logger}
	logger := logging.Ensure(lxc.Logger).With("instance", opts.Name)

	exists, err := inst.Exists(ctx)
	if err != nil {
		return nil, err
	}

	if exists {
		running, err := inst.IsRunning(ctx)
		if err != nil {
			return nil, err
		}
		if !running {
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

	if err := launch(ctx, lxc, opts); err != nil {
		return nil, err
	}
	if err := opts.Base.Setup(ctx, inst, opts.Setup); err != nil {
		return nil, err
	}
	return inst, nil
}

// launch creates and starts a fresh container. The host uid is mapped to
// root so mounted project directories stay writable, and mknod syscall
// interception is enabled when the host kernel supports it.
func launch(ctx context.Context, lxc *LXC, opts LaunchOptions) error {
	config := map[string]string{
		"raw.idmap": "both " + strconv.Itoa(opts.mapUID()) + " 0",
	}

	seccomp, err := lxc.HasSeccompListener(ctx)
	if err != nil {
		return err
	}
	if seccomp {
		config["security.syscalls.intercept.mknod"] = "true"
	}

	return lxc.Launch(ctx, opts.Name, opts.image(), opts.imageRemote(), config)
}
