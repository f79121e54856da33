package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/foundrybuild/foundry/internal/base"
	"github.com/foundrybuild/foundry/internal/executor"
	"github.com/foundrybuild/foundry/internal/logging"
	"github.com/foundrybuild/foundry/internal/lxd"
	"github.com/foundrybuild/foundry/internal/multipass"
	"github.com/foundrybuild/foundry/internal/provider"
	"github.com/foundrybuild/foundry/internal/shell"
	"github.com/foundrybuild/foundry/internal/snap"
)

const (
	defaultLogLevel = "info"
	defaultTimeout  = 10 * time.Minute
)

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		var perr *provider.Error
		if errors.As(err, &perr) {
			fmt.Fprintln(os.Stderr, perr.Full())
			os.Exit(1)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// backendFlags are the instance-addressing flags shared by every command.
type backendFlags struct {
	backend string
	name    string
	remote  string
	project string
}

func (f *backendFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.backend, "backend", "lxd", "Instance backend (lxd, multipass)")
	cmd.PersistentFlags().StringVar(&f.name, "name", "", "Instance name")
	cmd.PersistentFlags().StringVar(&f.remote, "remote", "", "LXD remote (lxd backend only)")
	cmd.PersistentFlags().StringVar(&f.project, "project", "", "LXD project (lxd backend only)")
}

func (f *backendFlags) instanceName() string {
	if f.name != "" {
		return f.name
	}
	return "foundry-" + uuid.NewString()[:8]
}

// instance resolves the flags to a backend instance handle. The name must
// be explicit here: commands other than launch address an existing
// instance.
func (f *backendFlags) instance(logger *slog.Logger) (provider.Instance, error) {
	if f.name == "" {
		return nil, fmt.Errorf("--name is required")
	}

	switch f.backend {
	case "lxd":
		return &lxd.Instance{
			InstanceName: f.name,
			LXC:          &lxd.LXC{Remote: f.remote, Project: f.project, Logger: logger},
			Logger:       logger,
		}, nil
	case "multipass":
		return &multipass.Instance{
			InstanceName: f.name,
			Multipass:    &multipass.Multipass{Logger: logger},
			Logger:       logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (expected lxd or multipass)", f.backend)
	}
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	logLevel := defaultLogLevel
	flags := &backendFlags{}

	root := &cobra.Command{
		Use:           "foundry",
		Short:         "Provision and manage ephemeral Ubuntu build environments",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	flags.register(root)
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		return nil
	}

	root.AddCommand(
		newLaunchCommand(logger, flags),
		newExecCommand(logger, flags),
		newShellCommand(logger, flags),
		newStatusCommand(logger, flags),
		newStopCommand(logger, flags),
		newDeleteCommand(logger, flags),
	)
	return root
}

func newLaunchCommand(logger *slog.Logger, flags *backendFlags) *cobra.Command {
	var (
		baseVersion string
		image       string
		hostname    string
		tag         string
		httpProxy   string
		httpsProxy  string
		timeout     time.Duration
		recreate    bool
		cpus        int
		memory      string
		disk        string
		mounts      []string
		storeSnaps  []string
		hostSnaps   []string
	)

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Create (or reuse) an instance and bring it to a ready state",
		RunE: func(cmd *cobra.Command, args []string) error {
			name := flags.instanceName()
			cmdLogger := logger.With("command", "launch", "instance", name)

			b := &base.Base{
				Alias:            base.Alias(baseVersion),
				Hostname:         hostname,
				CompatibilityTag: tag,
				HTTPProxy:        httpProxy,
				HTTPSProxy:       httpsProxy,
				Logger:           cmdLogger,
			}
			setup := base.SetupOptions{Timeout: timeout}

			cmdLogger.Info("launching instance", "backend", flags.backend, "base", baseVersion)

			var (
				inst provider.Instance
				err  error
			)
			switch flags.backend {
			case "lxd":
				inst, err = lxd.EnsureLaunched(cmd.Context(),
					&lxd.LXC{Remote: flags.remote, Project: flags.project, Logger: cmdLogger},
					lxd.LaunchOptions{
						Name:                   name,
						Base:                   b,
						Image:                  image,
						RecreateOnIncompatible: recreate,
						Setup:                  setup,
					})
			case "multipass":
				inst, err = multipass.EnsureLaunched(cmd.Context(),
					&multipass.Multipass{Logger: cmdLogger},
					multipass.EnsureLaunchedOptions{
						Name:                   name,
						Base:                   b,
						Image:                  image,
						Sizing:                 multipass.LaunchOptions{CPUs: cpus, Memory: memory, Disk: disk},
						RecreateOnIncompatible: recreate,
						Setup:                  setup,
					})
			default:
				return fmt.Errorf("unknown backend %q (expected lxd or multipass)", flags.backend)
			}
			if err != nil {
				return err
			}

			for _, mount := range mounts {
				source, target, ok := strings.Cut(mount, ":")
				if !ok {
					return fmt.Errorf("invalid mount %q (expected host-path:instance-path)", mount)
				}
				if !inst.SupportsMount() {
					return fmt.Errorf("backend %q cannot mount host paths into this instance", flags.backend)
				}
				if err := inst.Mount(cmd.Context(), source, target); err != nil {
					return err
				}
				cmdLogger.Info("mounted", "source", source, "target", target)
			}

			for _, spec := range storeSnaps {
				name, channel, ok := strings.Cut(spec, "/")
				if !ok {
					channel = "stable"
				}
				if err := snap.InstallFromStore(cmd.Context(), inst, name, channel, false); err != nil {
					return err
				}
				cmdLogger.Info("installed snap", "snap", name, "channel", channel)
			}
			for _, name := range hostSnaps {
				if err := snap.InjectFromHost(cmd.Context(), inst, name, false, cmdLogger); err != nil {
					return err
				}
				cmdLogger.Info("injected snap", "snap", name)
			}

			cmdLogger.Info("instance ready")
			fmt.Fprintln(cmd.OutOrStdout(), inst.Name())
			return nil
		},
	}

	cmd.Flags().StringVar(&baseVersion, "base", string(base.Focal), "Ubuntu release to provision (16.04, 18.04, 20.04)")
	cmd.Flags().StringVar(&image, "image", "", "Image override; defaults to the image matching --base")
	cmd.Flags().StringVar(&hostname, "hostname", "", "Hostname set inside the instance")
	cmd.Flags().StringVar(&tag, "compatibility-tag", "", "Override the setup compatibility tag")
	cmd.Flags().StringVar(&httpProxy, "http-proxy", "", "HTTP proxy configured inside the instance")
	cmd.Flags().StringVar(&httpsProxy, "https-proxy", "", "HTTPS proxy configured inside the instance")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "Overall budget for the bring-up sequence")
	cmd.Flags().BoolVar(&recreate, "recreate", false, "Delete and relaunch an existing instance that is incompatible")
	cmd.Flags().IntVar(&cpus, "cpus", 0, "CPU count for a new VM (multipass backend only)")
	cmd.Flags().StringVar(&memory, "mem", "", "Memory size for a new VM, e.g. 2G (multipass backend only)")
	cmd.Flags().StringVar(&disk, "disk", "", "Disk size for a new VM, e.g. 64G (multipass backend only)")
	cmd.Flags().StringArrayVar(&mounts, "mount", nil, "Mount a host directory, as host-path:instance-path (repeatable)")
	cmd.Flags().StringArrayVar(&storeSnaps, "install-snap", nil, "Install a snap from the store, as name[/channel] (repeatable)")
	cmd.Flags().StringArrayVar(&hostSnaps, "inject-snap", nil, "Install the host's revision of a snap (repeatable)")

	return cmd
}

func newExecCommand(logger *slog.Logger, flags *backendFlags) *cobra.Command {
	var workingDirectory string

	cmd := &cobra.Command{
		Use:   "exec -- <command> [args...]",
		Args:  cobra.MinimumNArgs(1),
		Short: "Run a command inside an instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := flags.instance(logger.With("command", "exec"))
			if err != nil {
				return err
			}

			res, err := inst.Execute(cmd.Context(), args, executor.RunOptions{
				WorkingDirectory: workingDirectory,
			})
			if err != nil {
				return err
			}

			cmd.OutOrStdout().Write(res.Stdout)
			cmd.ErrOrStderr().Write(res.Stderr)
			if res.ExitCode != 0 {
				return fmt.Errorf("command exited with code %d", res.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workingDirectory, "cwd", "", "Working directory inside the instance")

	return cmd
}

func newShellCommand(logger *slog.Logger, flags *backendFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive shell inside an instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := flags.instance(logger.With("command", "shell"))
			if err != nil {
				return err
			}

			hostCmd := inst.Command([]string{"bash", "-i"}, executor.RunOptions{
				Terminal: executor.TerminalInteractive,
			})
			return shell.Attach(hostCmd)
		},
	}
}

func newStatusCommand(logger *slog.Logger, flags *backendFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether an instance exists and is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := flags.instance(logger.With("command", "status"))
			if err != nil {
				return err
			}

			exists, err := inst.Exists(cmd.Context())
			if err != nil {
				return err
			}
			if !exists {
				fmt.Fprintln(cmd.OutOrStdout(), "absent")
				return nil
			}

			running, err := inst.IsRunning(cmd.Context())
			if err != nil {
				return err
			}
			if running {
				fmt.Fprintln(cmd.OutOrStdout(), "running")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "stopped")
			}
			return nil
		},
	}
}

func newStopCommand(logger *slog.Logger, flags *backendFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "stop")
			inst, err := flags.instance(cmdLogger)
			if err != nil {
				return err
			}
			if err := inst.Stop(cmd.Context()); err != nil {
				return err
			}
			cmdLogger.Info("instance stopped", "instance", inst.Name())
			return nil
		},
	}
}

func newDeleteCommand(logger *slog.Logger, flags *backendFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete an instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "delete")
			inst, err := flags.instance(cmdLogger)
			if err != nil {
				return err
			}
			if err := inst.Delete(cmd.Context()); err != nil {
				return err
			}
			cmdLogger.Info("instance deleted", "instance", inst.Name())
			return nil
		},
	}
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}
