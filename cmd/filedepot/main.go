// filedepot is the multi-tenant chunked file storage server and client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/filedepot/filedepot/internal/auth"
	"github.com/filedepot/filedepot/internal/chunk"
	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/logging/loki"
	"github.com/filedepot/filedepot/internal/server"
	"github.com/filedepot/filedepot/internal/storage"
	"github.com/filedepot/filedepot/internal/svc"
	"github.com/filedepot/filedepot/internal/transfer"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string

	// Service mode flag (hidden, used when running as a service)
	serviceRun bool
)

func main() {
	// Check if running as a service (invoked by service manager)
	if svc.IsServiceMode(os.Args) {
		runAsService()
		return
	}

	rootCmd := &cobra.Command{
		Use:   "filedepot",
		Short: "FileDepot - chunked multi-tenant file storage",
		Long: `FileDepot stores files as chunks under per-user storage quotas.

QUICK START - Run a depot:

  # Write a config file (listen address, data dir, bootstrap password),
  # then start the server:
  filedepot serve --config /etc/filedepot/config.yaml

  # Install as a system service (optional):
  sudo filedepot service install --config /etc/filedepot/config.yaml

QUICK START - Use a depot:

  # Log in once; the session is saved as a context for later commands:
  filedepot login http://depot.example.com:8080 --username alice

  # Move files:
  filedepot upload report.pdf
  filedepot ls
  filedepot download <file-id>
  filedepot share <file-id>

For more help on any command, use: filedepot <command> --help`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	// Hidden service mode flag (used when running as a service)
	rootCmd.PersistentFlags().BoolVar(&serviceRun, "service-run", false, "Run as a service (internal use)")
	_ = rootCmd.PersistentFlags().MarkHidden("service-run")

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the storage server",
		Long: `Run the FileDepot server in the foreground.

Examples:
  # Serve with a config file
  filedepot serve --config /etc/filedepot/config.yaml

  # Serve from environment variables alone
  FILEDEPOT_LISTEN=:8080 FILEDEPOT_DATA_DIR=/var/lib/filedepot filedepot serve`,
		RunE: runServe,
	}
	rootCmd.AddCommand(serveCmd)

	// Client commands - work against a depot over its HTTP API
	rootCmd.AddCommand(newRegisterCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newShareCmd())
	rootCmd.AddCommand(newStatsCmd())

	// User command - account administration
	rootCmd.AddCommand(newUserCmd())

	// Context command - manage saved depot connections
	rootCmd.AddCommand(newContextCmd())

	// Service command - manage system service
	rootCmd.AddCommand(newServiceCmd())

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("filedepot %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// nolint:revive // args required by cobra.Command RunE signature
func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()
	logStartupBanner()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("shutting down...")
		cancel()
	}()

	return runServeWithConfig(ctx, cfgFile)
}

// runServeWithConfig assembles the depot from configuration and serves
// until the context is cancelled. Shared by the foreground serve command
// and the service runner.
func runServeWithConfig(ctx context.Context, configPath string) error {
	// A .env file next to the working directory supplies FILEDEPOT_*
	// variables; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Apply configured log level
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	// Ship logs to Loki alongside the console when configured
	if cfg.Loki.Enabled && cfg.Loki.URL != "" {
		hostname, _ := os.Hostname()
		lokiWriter := loki.NewWriter(loki.Config{
			URL:           cfg.Loki.URL,
			BatchSize:     cfg.Loki.BatchSize,
			FlushInterval: cfg.Loki.FlushInterval.Std(),
			Labels: map[string]string{
				"instance": hostname,
				"version":  Version,
			},
		})
		lokiWriter.Start()
		defer lokiWriter.Stop()

		multi := zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr}, lokiWriter)
		log.Logger = log.Output(multi)
		log.Info().Str("url", cfg.Loki.URL).Msg("Loki log shipping enabled")
	}

	store, err := storage.OpenSQL(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	var chunks chunk.Store
	switch cfg.Chunks.Backend {
	case config.BackendS3:
		chunks, err = chunk.NewS3Store(ctx, chunk.S3Config{
			Region:    cfg.Chunks.S3.Region,
			Bucket:    cfg.Chunks.S3.Bucket,
			AccessKey: cfg.Chunks.S3.AccessKey,
			SecretKey: cfg.Chunks.S3.SecretKey,
			Endpoint:  cfg.Chunks.S3.Endpoint,
			PathStyle: cfg.Chunks.S3.PathStyle,
		})
		if err != nil {
			return fmt.Errorf("open s3 chunk store: %w", err)
		}
	default:
		chunks, err = chunk.NewDiskStore(cfg.ChunkDir())
		if err != nil {
			return fmt.Errorf("open chunk store: %w", err)
		}
	}

	sessions := auth.NewManager(store, cfg.SessionTTL.Std(), cfg.DefaultAllocationGB())

	// Create the master account on first run
	if cfg.Bootstrap.Password != "" {
		if _, err := sessions.Bootstrap(ctx, cfg.Bootstrap.Username, cfg.Bootstrap.Password, cfg.BootstrapAllocationGB()); err != nil {
			return fmt.Errorf("bootstrap master account: %w", err)
		}
	}

	// Register metrics on the default registry served at /metrics
	transfer.InitMetrics(nil)

	depot := transfer.New(store, chunks, sessions)

	janitor := transfer.NewJanitor(depot, cfg.SweepInterval.Std(), cfg.UploadExpiry.Std())
	go janitor.Run(ctx)

	api := server.New(depot, sessions)
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No read/write deadlines: uploads and downloads stream whole files.
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("listen", cfg.Listen).
			Str("database", cfg.Database.Driver).
			Str("chunks", cfg.Chunks.Backend).
			Msg("filedepot server ready")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
	return nil
}

// runAsService runs the server as a system service.
// This is called when the service manager starts the application with
// the --service-run flag.
func runAsService() {
	// Set up logging directly to a file since launchd/kardianos-service
	// may not properly redirect stderr
	setupServiceLogging()
	logStartupBanner()

	// Parse the config path manually; cobra never runs in this mode
	var configPath string
	for i, arg := range os.Args {
		if (arg == "--config" || arg == "-c") && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		}
	}
	if configPath == "" {
		configPath = svc.DefaultConfigPath()
	}

	log.Info().Str("config", configPath).Msg("starting as service")

	cfg := &svc.ServiceConfig{
		Name:        svc.DefaultServiceName(),
		DisplayName: svc.DefaultDisplayName(),
		Description: svc.DefaultDescription(),
		ConfigPath:  configPath,
	}

	prg := &svc.Program{
		ConfigPath: configPath,
		RunServe:   runServeWithConfig,
	}

	if err := svc.Run(prg, cfg); err != nil {
		log.Fatal().Err(err).Msg("service error")
	}
}

// setupLogging configures zerolog with console output.
func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// logStartupBanner logs the application startup banner with version information.
func logStartupBanner() {
	banner := `
╔══════════════════════════════════════════════════╗
║                                                  ║
║    ███████╗██╗██╗     ███████╗                   ║
║    ██╔════╝██║██║     ██╔════╝                   ║
║    █████╗  ██║██║     █████╗                     ║
║    ██╔══╝  ██║██║     ██╔══╝                     ║
║    ██║     ██║███████╗███████╗                   ║
║    ╚═╝     ╚═╝╚══════╝╚══════╝                   ║
║                                                  ║
║    ██████╗ ███████╗██████╗  ██████╗ ████████╗    ║
║    ██╔══██╗██╔════╝██╔══██╗██╔═══██╗╚══██╔══╝    ║
║    ██║  ██║█████╗  ██████╔╝██║   ██║   ██║       ║
║    ██║  ██║██╔══╝  ██╔═══╝ ██║   ██║   ██║       ║
║    ██████╔╝███████╗██║     ╚██████╔╝   ██║       ║
║    ╚═════╝ ╚══════╝╚═╝      ╚═════╝    ╚═╝       ║
║                                                  ║
║            Chunked Multi-Tenant File Storage     ║
║                                                  ║
╚══════════════════════════════════════════════════╝`

	fmt.Fprintln(os.Stderr, banner)
	fmt.Fprintf(os.Stderr, "\n  Version:    %s\n", Version)
	fmt.Fprintf(os.Stderr, "  Commit:     %s\n", Commit)
	fmt.Fprintf(os.Stderr, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(os.Stderr, "  Go:         %s\n", runtime.Version())
	fmt.Fprintf(os.Stderr, "  OS/Arch:    %s/%s\n\n", runtime.GOOS, runtime.GOARCH)
}

// setupServiceLogging configures logging for service mode.
// Services write to a log file because stderr may not be captured.
func setupServiceLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Try to open log file for direct writing
	logPath := "/var/log/filedepot-service.log"
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		// Fall back to stderr if we can't open the log file
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return
	}

	// Write to both file and stderr
	multi := io.MultiWriter(logFile, os.Stderr)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: multi, TimeFormat: time.RFC3339})
}
