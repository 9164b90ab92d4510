package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"shelfarr/internal/config"
	"shelfarr/internal/daemon"
	"shelfarr/internal/deps"
	"shelfarr/internal/logging"
	"shelfarr/internal/preflight"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the job processors until interrupted (SIGHUP reloads download clients)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	for _, status := range statuses {
		if !status.Available {
			logging.WarnWithContext(logger, "external dependency unavailable", "dependency_missing",
				logging.String("dependency", status.Name),
				logging.String("detail", status.Detail),
				logging.Bool("optional", status.Optional),
				logging.String(logging.FieldImpact, status.Description+" is unavailable"),
			)
		}
	}
	if missing := deps.MissingRequired(statuses); len(missing) > 0 {
		return fmt.Errorf("required dependencies missing: %v", missing)
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, "shelfarr.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := daemon.NewRuntime(cfg, logger, ctx.runtimeOptions...)
	if err != nil {
		return err
	}
	d, err := daemon.New(rt)
	if err != nil {
		rt.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}
	for _, failed := range preflight.Failed(preflight.RunAll(signalCtx, cfg, rt.Registry, libraryPinger(rt))) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
		)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-signalCtx.Done():
			logger.Info("shelfarr daemon shutting down")
			return nil
		case <-hup:
			reloadDaemonConfig(d, ctx, logger)
		}
	}
}

func reloadDaemonConfig(d *daemon.Daemon, ctx *commandContext, logger *slog.Logger) {
	var path string
	if ctx.configFlag != nil {
		path = *ctx.configFlag
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		logger.Warn("config reload failed; keeping current clients", logging.Error(err))
		return
	}
	d.Reload(cfg)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
