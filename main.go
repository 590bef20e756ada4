package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailsync_server/config"
	"mailsync_server/core/domain"
	"mailsync_server/internal/bootstrap"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "mailsync",
	Short:         "Mailbox synchronization service",
	Long:          "mailsync copies mailbox contents from IMAP and POP3 servers into MongoDB.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env file if exists (for local development)
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Init(logger.Config{
			Level:   logger.ParseLevel(cfg.LogLevel),
			Service: "mailsync",
			Console: cfg.IsDevelopment(),
		})
		return nil
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), true, false)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued sync jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), false, true)
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run the API and the worker in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), true, true)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize one mailbox and print the result as JSON",
	RunE:  runSync,
}

var (
	addressFlag    string
	passwordFlag   string
	oauthTokenFlag string
	hostFlag       string
	portFlag       int
	userIDFlag     string
)

func init() {
	syncCmd.Flags().StringVar(&addressFlag, "address", "", "Mailbox address (required)")
	syncCmd.Flags().StringVar(&passwordFlag, "password", "", "Account password")
	syncCmd.Flags().StringVar(&oauthTokenFlag, "oauth-token", "", "OAuth2 access token")
	syncCmd.Flags().StringVar(&hostFlag, "host", "", "Mail server host, overrides the provider table")
	syncCmd.Flags().IntVar(&portFlag, "port", 0, "Mail server port, used together with --host")
	syncCmd.Flags().StringVar(&userIDFlag, "user-id", "", "Owner of a stored OAuth grant")
	_ = syncCmd.MarkFlagRequired("address")

	rootCmd.AddCommand(apiCmd, workerCmd, allCmd, syncCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, withAPI, withWorker bool) error {
	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer cleanup()

	var w *bootstrap.Worker
	if withWorker {
		w, err = bootstrap.NewWorker(deps)
		if err != nil {
			return err
		}
		go func() {
			logger.Info("Starting worker...")
			w.Start()
		}()
	}

	errCh := make(chan error, 1)
	app := bootstrap.NewAPI(deps)
	if withAPI {
		go func() {
			addr := ":" + cfg.Port
			logger.Info("Starting API server on %s", addr)
			errCh <- app.Listen(addr)
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	logger.Info("Shutting down (timeout: %v)...", shutdownTimeout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if withAPI {
			if serr := app.ShutdownWithTimeout(shutdownTimeout); serr != nil {
				logger.Error("Error shutting down API: %v", serr)
			}
		}
		if w != nil {
			w.Stop()
		}
	}()

	select {
	case <-done:
		logger.Info("Shut down gracefully")
	case <-time.After(shutdownTimeout + 5*time.Second):
		logger.Warn("Shutdown timed out, forcing exit")
	}
	return err
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer cleanup()

	result, runErr := deps.SyncService.RunSync(ctx, domain.SyncDescriptor{
		Address:    addressFlag,
		Password:   passwordFlag,
		OAuthToken: oauthTokenFlag,
		Host:       hostFlag,
		Port:       portFlag,
		UserID:     userIDFlag,
	})

	out := map[string]any{"result": result}
	if result != nil {
		out["throughput"] = result.Throughput()
	}
	if runErr != nil {
		out["error"] = map[string]string{
			"code":    apperr.CodeOf(runErr),
			"message": runErr.Error(),
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	return runErr
}
