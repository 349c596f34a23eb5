package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alessandrobrunoh/mnemosyne/internal/config"
	"github.com/alessandrobrunoh/mnemosyne/internal/daemon"
	"github.com/alessandrobrunoh/mnemosyne/internal/logging"
	"github.com/alessandrobrunoh/mnemosyne/internal/rpcserver"
)

func newStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Long: `Start the Mnemosyne daemon in the background.

Use --foreground for debugging or to see logs in real time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func newRunCmd() *cobra.Command {
	// run is the hidden re-exec target of `start`: the actual daemon loop
	// in the child process.
	cmd := &cobra.Command{
		Use:    "run",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long:  "Send SIGTERM to the daemon process for graceful shutdown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidFile := daemon.NewPIDFile(daemon.DefaultPIDPath())
			if !pidFile.IsRunning() {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}
			if err := pidFile.Signal(syscall.SIGTERM); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopping")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidFile := daemon.NewPIDFile(daemon.DefaultPIDPath())
			pid, err := pidFile.Read()
			if err != nil || !pidFile.IsRunning() {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon is running (pid %d)\n", pid)
			return nil
		},
	}
}

func runStart(cmd *cobra.Command, foreground bool) error {
	pidFile := daemon.NewPIDFile(daemon.DefaultPIDPath())
	if pidFile.IsRunning() {
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon is already running")
		return nil
	}

	if foreground {
		return runDaemon(cmd.Context())
	}

	// Background: re-exec ourselves detached and let the child own the
	// pid file.
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate own executable: %w", err)
	}
	child := exec.Command(exe, "run")
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Give the child a moment to come up before reporting success.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if pidFile.IsRunning() {
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon started (pid %d)\n", child.Process.Pid)
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Daemon launched; status not confirmed yet")
	return nil
}

// runDaemon is the daemon main loop: logging, pid file, engine, RPC server,
// signal handling. Teardown happens in reverse initialization order.
func runDaemon(ctx context.Context) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return err
	}

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:    cfg.Log.Level,
		FilePath: cfg.Log.FilePath,
	})
	if err != nil {
		return err
	}
	defer cleanup()
	slog.SetDefault(logger)

	pidFile := daemon.NewPIDFile(daemon.DefaultPIDPath())
	if err := pidFile.Write(); err != nil {
		return err
	}
	defer func() { _ = pidFile.Remove() }()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine := daemon.New(cfg, logging.ForComponent(logger, "engine"))
	engine.Start(ctx)
	defer engine.Close()

	server := rpcserver.NewServer(rpcserver.Options{
		SocketPath:     cfg.SocketPath(),
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBatch:       cfg.Server.MaxBatch,
		OnExit:         cancel,
	}, engine, logging.ForComponent(logger, "rpc"))

	logger.Info("mnemd starting", slog.String("socket", cfg.SocketPath()))
	return server.ListenAndServe(ctx)
}
