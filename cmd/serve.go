package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/continuity/internal/api"
	"github.com/joescharf/continuity/internal/daemon"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve JSON-RPC over HTTP",
	Long: `Start the HTTP transport in the foreground.

  POST /rpc            JSON-RPC 2.0 "execute" requests (always HTTP 200)
  GET  /api/v1/tools   registered tool descriptions
  GET  /api/v1/health  liveness

Connection state such as the current context namespace is scoped by the
X-Continuity-Client header. Use 'serve start' to run in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the HTTP server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background HTTP server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().String("host", "127.0.0.1", "Address to bind")
	serveCmd.PersistentFlags().IntP("port", "p", 8765, "Port to listen on")
	_ = viper.BindPFlag("http.host", serveCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("http.port", serveCmd.PersistentFlags().Lookup("port"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func runFile() *daemon.RunFile {
	return daemon.NewRunFile(filepath.Join(viper.GetString("state_dir"), "continuity-serve.json"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "continuity-serve.log")
}

func serveAddr() string {
	return net.JoinHostPort(viper.GetString("http.host"), strconv.Itoa(viper.GetInt("http.port")))
}

func serveRun(ctx context.Context) error {
	d, err := newDispatcher()
	if err != nil {
		return err
	}

	addr := serveAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	apiServer := api.NewServer(d, defaultNamespace(), buildVersion, slog.Default(),
		api.WithClientIdleTimeout(viper.GetDuration("http.client_idle_timeout")))
	srv := &http.Server{
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	rf := runFile()
	if err := os.MkdirAll(filepath.Dir(rf.Path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := rf.Write(ln.Addr().String()); err != nil {
		slog.Warn("failed to write run file", "path", rf.Path, "error", err)
	}
	defer func() { _ = rf.Remove() }()

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	slog.Info("http transport listening", "addr", ln.Addr().String())
	ui.Info("Serving JSON-RPC at http://%s/rpc", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down http transport")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func serveStartRun() error {
	rf := runFile()
	if info, running := rf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d, %s)", info.PID, info.Addr)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	args := []string{"serve",
		"--host", viper.GetString("http.host"),
		"--port", strconv.Itoa(viper.GetInt("http.port")),
	}
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}

	if dryRun {
		ui.DryRunMsg("Would run %s %v (log: %s)", exe, args, serveLogPath())
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(serveLogPath()), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	_ = child.Process.Release()

	ui.Success("Server started (pid %d) at http://%s", child.Process.Pid, serveAddr())
	ui.Info("Log: %s", serveLogPath())
	return nil
}

func serveStopRun() error {
	rf := runFile()
	info, running := rf.IsRunning()
	if !running {
		if info != nil {
			_ = rf.Remove()
		}
		return fmt.Errorf("server not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (pid %d)", info.PID)
		return nil
	}

	if err := rf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}

	deadline := time.Now().Add(shutdownTimeout + time.Second)
	for time.Now().Before(deadline) {
		if _, alive := rf.IsRunning(); !alive {
			ui.Success("Server stopped (pid %d)", info.PID)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	ui.Warning("Server did not exit in time, killing pid %d", info.PID)
	if err := rf.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill server: %w", err)
	}
	_ = rf.Remove()
	return nil
}

func serveStatusRun() error {
	info, running := runFile().IsRunning()
	if !running {
		ui.Info("Server not running")
		return nil
	}
	ui.Success("Server running (pid %d) at http://%s", info.PID, info.Addr)
	ui.Info("Started: %s", info.StartedAt.Local().Format(time.RFC1123))
	return nil
}
