package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/coder/serpent"

	"github.com/coder/cwg/config"
	"github.com/coder/cwg/inspect"
	"github.com/coder/cwg/logging"
	"github.com/coder/cwg/namespace"
	"github.com/coder/cwg/privilege"
	"github.com/coder/cwg/provision"
	"github.com/coder/cwg/subprocess"
)

// ErrReported is returned once the failure has already been written to
// stderr. The caller only sets the exit status.
var ErrReported = errors.New("error already reported")

// app holds the wired components for one invocation.
type app struct {
	provisioner *provision.Provisioner
	inspector   *inspect.Inspector
}

type operation func(a *app, args []string) error

// NewCommand creates and returns the root serpent command
func NewCommand() *serpent.Command {
	var cfg config.CliConfig

	run := func(op operation) func(inv *serpent.Invocation) error {
		return func(inv *serpent.Invocation) error {
			return runOperation(inv, &cfg, op)
		}
	}

	return &serpent.Command{
		Use:   "cwg <command> <arguments>",
		Short: "Provision WireGuard endpoints inside container network namespaces",
		Long: `cwg creates, connects and destroys point-to-point WireGuard links whose
endpoints live in the network namespaces of running containers.

Network <net> owns 10.0.0.0 | <net> << 1 as a /31, and its two ends are hosts 0
and 1. The device for one end is named <prefix>-<net>-<host>.

cwg needs cap_net_admin, cap_sys_admin, cap_sys_ptrace and cap_ipc_lock in its
permitted set, for example:
  sudo setcap cap_net_admin,cap_sys_admin,cap_sys_ptrace,cap_ipc_lock+p /usr/local/bin/cwg

The device prefix and the wg and ip tools are set in /etc/cwg/config.yaml
(device_prefix, wg_path, ip_path) and nowhere else. Tools given by name are
searched in the system directories, never in $PATH.

Examples:
  # Create both ends of network 5 and print their public keys
  cwg create 1234 5 0 51820
  cwg create 5678 5 1 51820

  # Point each end at the other
  cwg connect 1234 5 0 192.0.2.2:51820 <public key of 5678>
  cwg connect 5678 5 1 192.0.2.1:51820 <public key of 1234>

  # Remove an end
  cwg destroy 1234 5 0`,
		Options: serpent.OptionSet{
			{
				Name:        "config",
				Flag:        "config",
				Env:         "CWG_CONFIG",
				Description: "Path to YAML config file.",
				Value:       &cfg.Config,
			},
			{
				Name:        "log-level",
				Flag:        "log-level",
				Env:         "CWG_LOG_LEVEL",
				Description: "Set log level (error, warn, info, debug). Default warn.",
				Value:       &cfg.LogLevel,
			},

			{
				Name:        "memory-lock",
				Flag:        "memory-lock",
				Env:         "CWG_MEMORY_LOCK",
				Description: "Pages to lock in memory besides the secret buffers (buffers, current, all). current and all need an unlimited RLIMIT_MEMLOCK. Default buffers.",
				Value:       &cfg.MemoryLock,
			},
			{
				Name:        "otlp-endpoint",
				Flag:        "otlp-endpoint",
				Env:         "CWG_OTLP_ENDPOINT",
				Description: "Also export logs to this OTLP/HTTP host:port.",
				Value:       &cfg.OTLPEndpoint,
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			if len(inv.Args) > 0 {
				fmt.Fprintf(inv.Stderr, "Unknown command %s\n", inv.Args[0])
			}
			printUsage(inv.Stderr)
			return ErrReported
		},
		Children: []*serpent.Command{
			{
				Use:     provision.SynopsisCreate,
				Short:   "Create an endpoint in the namespace of <pid> and print its public key.",
				Handler: run(func(a *app, args []string) error { return a.provisioner.Create(args) }),
			},
			{
				Use:     provision.SynopsisConnect,
				Short:   "Point the endpoint in the namespace of <pid> at its peer.",
				Handler: run(func(a *app, args []string) error { return a.provisioner.Connect(args) }),
			},
			{
				Use:     provision.SynopsisDestroy,
				Short:   "Delete the endpoint in the namespace of <pid>.",
				Handler: run(func(a *app, args []string) error { return a.provisioner.Destroy(args) }),
			},
			{
				Use:     provision.SynopsisDeviceCreate,
				Short:   "Create a device in the current namespace and print its public key.",
				Handler: run(func(a *app, args []string) error { return a.provisioner.CreateDevice(args) }),
			},
			{
				Use:     provision.SynopsisAddPeer,
				Short:   "Add a peer to a device in the current namespace.",
				Handler: run(func(a *app, args []string) error { return a.provisioner.AddPeer(args) }),
			},
			{
				Use:     inspect.SynopsisStatus,
				Short:   "Show the endpoints in the namespace of <pid>.",
				Handler: run(func(a *app, args []string) error { return a.inspector.Status(args) }),
			},
		},
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: cwg <command> <arguments>\n\n")
	fmt.Fprintf(w, "Available commands:\n")
	for _, synopsis := range []string{
		provision.SynopsisCreate,
		provision.SynopsisConnect,
		provision.SynopsisDestroy,
		provision.SynopsisDeviceCreate,
		provision.SynopsisAddPeer,
		inspect.SynopsisStatus,
	} {
		fmt.Fprintf(w, "    cwg %s\n", synopsis)
	}
}

// runOperation resolves the configuration, brings up the process-wide
// protections and runs op.
func runOperation(inv *serpent.Invocation, cliCfg *config.CliConfig, op operation) error {
	lc, err := loadConfig(cliCfg.Config.Value())
	if err != nil {
		return err
	}
	if err := mergeConfig(lc, cliCfg); err != nil {
		return err
	}
	appConfig, err := config.NewAppConfigFromCliConfig(*cliCfg, lc.system.SystemConfig)
	if err != nil {
		return err
	}

	logger, shutdown, err := logging.Setup(inv.Context(), logging.Config{
		Level:        appConfig.LogLevel,
		OTLPEndpoint: appConfig.OTLPEndpoint,
		Stderr:       inv.Stderr,
	})
	if err != nil {
		return fmt.Errorf("could not set up logging: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			fmt.Fprintf(inv.Stderr, "Warning: failed to flush logs: %v\n", err)
		}
	}()
	for _, path := range []string{lc.systemPath, lc.userPath} {
		if path != "" {
			logger.Debug("loaded config file", "path", path)
		}
	}
	logger.Debug("config", "device_prefix", appConfig.DevicePrefix, "wg", appConfig.WGPath,
		"ip", appConfig.IPPath, "memory_lock", appConfig.MemoryLock)

	a, err := newApp(appConfig, logger, inv.Stdout, inv.Stderr)
	if err != nil {
		return err
	}

	err = op(a, inv.Args)
	var usageErr *provision.UsageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(inv.Stderr, "%s\nUsage: cwg %s\n", usageErr.Msg, usageErr.Usage)
		return ErrReported
	}
	return err
}

func newApp(cfg config.AppConfig, logger *slog.Logger, stdout, stderr io.Writer) (*app, error) {
	broker := privilege.NewBroker(logger)
	if err := broker.Preflight(); err != nil {
		logger.Warn("capability preflight failed", "error", err)
	}
	if err := broker.LockMemory(cfg.MemoryLock); err != nil {
		return nil, err
	}

	engine := subprocess.New(subprocess.Config{
		AmbientCaps: broker.AmbientCaps(),
		Stderr:      stderr,
		Logger:      logger,
	})
	switcher := namespace.New(namespace.Config{
		Broker: broker,
		Logger: logger,
	})

	return &app{
		provisioner: provision.New(provision.Config{
			Runner:   engine,
			Switcher: switcher,
			Tools:    provision.Tools{WG: cfg.WGPath, IP: cfg.IPPath},
			Prefix:   cfg.DevicePrefix,
			Stdout:   stdout,
			Stderr:   stderr,
			Logger:   logger,
		}),
		inspector: inspect.New(inspect.Config{
			Broker:   broker,
			Switcher: switcher,
			Prefix:   cfg.DevicePrefix,
			Stdout:   stdout,
			Logger:   logger,
		}),
	}, nil
}
