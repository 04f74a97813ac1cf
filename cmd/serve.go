package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joescharf/scorecard/internal/api"
	"github.com/joescharf/scorecard/internal/daemon"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scorecard REST API server",
	Long: `Start an HTTP server exposing scorecards, reviews, and appeals
under /api/v1 backed by the local database.
By default it listens on port 8080. Use --port to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmdContext(cmd), viper.GetInt("serve.port"))
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether an API server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

func init() {
	serveCmd.AddCommand(serveStatusCmd)
	serveCmd.AddCommand(serveStopCmd)
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
}

func serveRun(ctx context.Context, port int) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", port)
	if dryRun {
		ui.DryRunMsg("Would serve API at http://localhost%s/api/v1", addr)
		return nil
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0o755); err != nil {
		return eris.Wrap(err, "create state directory")
	}
	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Release() }()

	log := zap.L().Named("api")
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(s, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	ui.Info("Serving API at http://localhost%s/api/v1", addr)
	log.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "serve")
	case <-ctx.Done():
	}

	ui.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "shutdown")
	}
	return nil
}

// pidFile returns the PID file of the API server in state_dir.
func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "serve.pid"))
}

func serveStatusRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		ui.Success("API server running (pid %d)", pid)
		return nil
	}
	ui.Info("API server not running")
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	if dryRun {
		if pid, running := pf.IsRunning(); running {
			ui.DryRunMsg("Would stop API server (pid %d)", pid)
			return nil
		}
	}
	pid, err := pf.Stop()
	if err != nil {
		return err
	}
	ui.Success("Sent stop to API server (pid %d)", pid)
	return nil
}
