package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"iothook/internal/audit"
	"iothook/internal/config"
	"iothook/internal/events"
	"iothook/internal/security"
	"iothook/internal/server"
	"iothook/pkg/fileutil"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ShutdownTimeout bounds graceful shutdown after SIGINT/SIGTERM.
const ShutdownTimeout = 10 * time.Second

var (
	configFile       string
	logFile          string
	dbPath           string
	host             string
	port             int
	secret           string
	rateLimit        int
	webhookRateLimit int
	testMode         bool
)

var serveCmd = &cobra.Command{
	Use:   "serve [port]",
	Short: "Start the webhook receiver",
	Long: `Start the HTTP server that receives signed event deliveries on POST /webhook.

Settings are resolved in this order: command-line flags, IOTHOOK_* environment
variables (including a .env file), the YAML config file, then built-in defaults.
An empty secret or the placeholder "your-webhook-secret-key" disables signature
verification.`,
	Example: `  iothook serve
  iothook serve 9000
  IOTHOOK_SECRET=$(iothook secret) iothook serve --db /var/lib/iothook/audit.db`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	registerServeFlags(serveCmd.Flags())
}

// registerServeFlags binds the serve flags to their package variables.
func registerServeFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configFile, "config", "c", "", "Path to iothook.yaml configuration file (env IOTHOOK_CONFIG_FILE)")
	fs.StringVar(&logFile, "log", "", "Path to log file, in addition to stdout (env IOTHOOK_LOG_FILE)")
	fs.StringVar(&dbPath, "db", config.DefaultDBPath, "Path to SQLite delivery audit log, empty disables it (env IOTHOOK_DB_PATH)")
	fs.StringVar(&host, "host", config.DefaultHost, "Host to bind to (env IOTHOOK_HOST)")
	fs.IntVarP(&port, "port", "p", config.DefaultPort, "Port to listen on (env IOTHOOK_PORT)")
	fs.StringVar(&secret, "secret", "", "Shared webhook secret (env IOTHOOK_SECRET)")
	fs.IntVar(&rateLimit, "rate-limit", config.DefaultRateLimit, "Requests per minute per client, 0 disables")
	fs.IntVar(&webhookRateLimit, "webhook-rate-limit", config.DefaultWebhookRateLimit, "Webhook deliveries per minute per client, 0 disables")
	fs.BoolVar(&testMode, "test-mode", false, "Enable test mode (no rate limits, no audit log) (env IOTHOOK_TEST_MODE)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	// Set up logging
	logger, closeLog, err := setupLogging(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	logger.Info("Starting iothook", "version", version)
	if cfgPath != "" {
		logger.Info("Loaded configuration", "config", cfgPath)
		if err := security.ValidateSecurePermissions(cfgPath); err != nil {
			logger.Warn("Config file permissions are too open", "config", cfgPath, "error", err)
		}
	}

	if security.VerificationDisabled(cfg.Secret) {
		logger.Warn("Signature verification disabled: no webhook secret configured")
	} else if security.IsWeakSecret(cfg.Secret) {
		logger.Warn("Webhook secret is weak; generate one with 'iothook secret'")
	}

	// Initialize audit database
	var auditLog *audit.Log
	if !cfg.TestMode && cfg.DBPath != "" {
		logger.Info("Initializing delivery audit log", "db", cfg.DBPath)
		auditLog, err = audit.Open(cfg.DBPath)
		if err != nil {
			logger.Error("Failed to initialize audit log", "error", err)
			return fmt.Errorf("failed to initialize audit log: %w", err)
		}
	}

	// Create and start server
	srv := server.NewServer(cfg, events.NewStore(), auditLog, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("Webhook receiver ready",
		"webhook_url", fmt.Sprintf("http://%s/webhook", cfg.Addr()),
		"verification", verificationLabel(cfg.Secret),
		"audit_log", auditLog != nil,
		"test_mode", cfg.TestMode)

	select {
	case err := <-errCh:
		if auditLog != nil {
			auditLog.Close()
		}
		if err != nil {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "error", err)
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return <-errCh
}

// loadConfig resolves the configuration: defaults, then the YAML file, then
// IOTHOOK_* variables, then flags the user actually set. A positional port
// argument counts as the --port flag. It returns the config file used, if any.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, string, error) {
	cfg := config.Default()

	// Determine config file path
	path := configFile
	if !cmd.Flags().Changed("config") {
		path = getEnvOrDefault(config.EnvConfigFile, "")
	}
	if path == "" {
		// Search in default locations using pkg/fileutil
		path = fileutil.FindConfigOptional()
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, "", err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, "", err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = host
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("secret") {
		cfg.Secret = secret
	}
	if flags.Changed("log") {
		cfg.LogFile = logFile
	}
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("rate-limit") {
		cfg.RateLimit = rateLimit
	}
	if flags.Changed("webhook-rate-limit") {
		cfg.WebhookRateLimit = webhookRateLimit
	}
	if flags.Changed("test-mode") {
		cfg.TestMode = testMode
	}

	if len(args) == 1 {
		p, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, "", fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		cfg.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setupLogging configures slog for console and optional file logging.
// The returned function closes the log file.
func setupLogging(logPath string) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stdout
	closeFn := func() {}

	if logPath != "" {
		// Create log directory if needed
		if err := fileutil.EnsureParentDir(logPath, security.PermDirectory); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		// Open log file with secure permissions
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, security.PermLogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}

		// Create multi-writer to log to both file and console
		out = io.MultiWriter(os.Stdout, file)
		closeFn = func() { file.Close() }
	}

	// Create JSON handler for structured logging
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return slog.New(handler), closeFn, nil
}

func verificationLabel(secret string) string {
	if security.VerificationDisabled(secret) {
		return "disabled"
	}
	return "enabled"
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
