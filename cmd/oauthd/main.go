package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/amoylab/oauthd/internal/common/cnst"
	"github.com/amoylab/oauthd/internal/common/config"
	"github.com/amoylab/oauthd/pkg/helper"
	"github.com/amoylab/oauthd/pkg/logger"
	"github.com/amoylab/oauthd/pkg/trace"
	"github.com/amoylab/oauthd/pkg/utils"
	"github.com/amoylab/oauthd/pkg/version"
)

var (
	configPath string
	pidFile    string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of oauthd",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", cnst.CommandName, version.String())
		},
	}

	testCmd = &cobra.Command{
		Use:   "test",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("configuration %s is invalid: %w", path, err)
			}
			fmt.Printf("configuration file %s is valid\n", path)
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}

	rootCmd = &cobra.Command{
		Use:   cnst.CommandName,
		Short: "OAuth 2.0 authorization server",
		Long:  `oauthd issues authorization codes and bearer tokens for trusted first-party clients`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", "oauthd.yaml", "path to configuration file, like /etc/oauthd/oauthd.yaml")
	rootCmd.PersistentFlags().StringVar(&pidFile, "pid", "", "path to PID file")
	rootCmd.AddCommand(versionCmd, testCmd, serveCmd, cleanupCmd, tokenCmd, sessionCmd, clientCmd)
}

// load reads the configuration and builds the logger from it
func load() (*config.Config, *zap.Logger, error) {
	cfg, path, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration %s: %w", path, err)
	}
	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, lg, nil
}

func resolvePIDFile(cfg *config.Config) string {
	if pidFile != "" {
		return helper.GetPIDPath(pidFile)
	}
	return helper.GetPIDPath(cfg.Server.PID)
}

func run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, lg, err := load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lg.Sync()
	lg.Info("Starting oauthd", zap.String("version", version.Get()))

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		lg.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer tcancel()
		_ = shutdownTracing(tctx)
	}()

	a, err := newApp(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("failed to initialize oauthd", zap.Error(err))
	}
	defer a.Close()

	pid := utils.NewPIDManager(resolvePIDFile(cfg))
	if err := pid.WritePID(); err != nil {
		lg.Fatal("Failed to write PID file", zap.String("path", pid.GetPIDFile()), zap.Error(err))
	}
	defer pid.RemovePID()

	srv, err := a.newServer(ctx)
	if err != nil {
		lg.Fatal("failed to create server", zap.Error(err))
	}
	srv.Start()

	var metricsSrv *http.Server
	if a.metrics != nil && cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           otelhttp.NewHandler(mux, "metrics"),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			lg.Info("starting metrics listener", zap.String("addr", cfg.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lg.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	if cfg.Cleanup.Mode == cnst.CleanupModeTimer {
		a.scheduler.Start(ctx)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	for sig := range quit {
		if sig == syscall.SIGUSR1 {
			lg.Info("Received SIGUSR1, running cleanup")
			a.scheduler.Trigger(ctx)
			continue
		}
		lg.Info("Received shutdown signal", zap.String("signal", sig.String()))
		break
	}
	signal.Stop(quit)

	a.scheduler.Stop()
	sctx, scancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		lg.Error("failed to shutdown server", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(sctx); err != nil {
			lg.Error("failed to shutdown metrics listener", zap.Error(err))
		}
	}
	lg.Info("Server shutdown completed")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
