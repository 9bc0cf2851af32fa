// Package main is the entry point for the Code Inbox server.
//
// MAIN PACKAGE:
// main only reads configuration, builds the dependency graph and starts the
// application. All logic lives in internal/.
//
// COMMANDS:
//
//	code-inbox serve                                  run the API and the tutorial scheduler
//	code-inbox send-tutorial --to a@b.c --language go send one tutorial now
//
// Both accept --env-file (default .env).
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/sakif/code-inbox/internal/auth"
	"github.com/sakif/code-inbox/internal/config"
	"github.com/sakif/code-inbox/internal/llm"
	"github.com/sakif/code-inbox/internal/notify"
	"github.com/sakif/code-inbox/internal/nylas"
	"github.com/sakif/code-inbox/internal/repository"
	"github.com/sakif/code-inbox/internal/repository/deta"
	mongorepo "github.com/sakif/code-inbox/internal/repository/mongo"
	sqliterepo "github.com/sakif/code-inbox/internal/repository/sqlite"
	"github.com/sakif/code-inbox/internal/scheduler"
	"github.com/sakif/code-inbox/internal/server"
	"github.com/sakif/code-inbox/internal/service"
)

// Version is set via ldflags during build.
var Version = "dev"

var envFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "code-inbox",
	Short:         "Code Inbox - email client backend with scheduled algorithm tutorials",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the tutorial scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, newLogger(cfg))
	},
}

var sendTutorialCmd = &cobra.Command{
	Use:   "send-tutorial",
	Short: "Generate and send one tutorial email",
	Long: `Generate one tutorial with the configured LLM and send it from the
system mailbox. Useful to check prompt changes and Nylas credentials.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		language, _ := cmd.Flags().GetString("language")

		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		n, err := newNotifier(cfg, newNylasClient(cfg), logger)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.LLMTimeout+cfg.UpstreamTimeout)
		defer cancel()
		return n.SendTutorial(ctx, to, language)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file (missing file is ignored)")

	sendTutorialCmd.Flags().String("to", "", "Recipient address")
	sendTutorialCmd.Flags().String("language", "python", "Programming language of the code samples")
	_ = sendTutorialCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendTutorialCmd)
}

// newLogger returns a text logger at Debug in development (DEBUG=info|test)
// and a JSON logger at Info in production.
func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.Development() {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func newNylasClient(cfg *config.Config) *nylas.Client {
	return nylas.New(cfg.NylasAPIServer, http.DefaultClient, cfg.UpstreamTimeout)
}

func newNotifier(cfg *config.Config, client *nylas.Client, logger *slog.Logger) (*notify.Notifier, error) {
	links, err := auth.NewUnsubscribeTokens(cfg.UnsubscribeSecret)
	if err != nil {
		return nil, err
	}
	gen := llm.New(llm.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.LLMTimeout,
	})
	return notify.New(notify.Options{
		SystemToken:  cfg.NylasSystemToken,
		FromEmail:    cfg.NylasSystemEmail,
		PublicURL:    cfg.PublicURL,
		TutorialRate: rate.Limit(float64(cfg.TutorialRatePerMinute) / 60),
	}, client, gen, links, logger)
}

// newBlobStore returns the configured profile-image store and a close func.
func newBlobStore(cfg *config.Config) (repository.BlobStore, io.Closer, error) {
	switch cfg.BlobBackend {
	case config.BlobSQLite:
		if dir := filepath.Dir(cfg.BlobSQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("creating blob directory %s: %w", dir, err)
			}
		}
		db, err := sqliterepo.New(cfg.BlobSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	default:
		drive, err := deta.New(cfg.DetaProjectKey, "profile-images", cfg.UpstreamTimeout)
		if err != nil {
			return nil, nil, err
		}
		return drive, closerFunc(func() error { return nil }), nil
	}
}

// closerFunc adapts a func to io.Closer. The Deta drive holds no connection.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// serve is the composition root: every component is built here and handed
// to its consumers explicitly.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	db, err := mongorepo.New(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	cancel()
	if err != nil {
		return err
	}

	blobs, blobCloser, err := newBlobStore(cfg)
	if err != nil {
		_ = db.Close(context.Background())
		return err
	}
	defer blobCloser.Close()

	nylasClient := newNylasClient(cfg)
	notifier, err := newNotifier(cfg, nylasClient, logger)
	if err != nil {
		_ = db.Close(context.Background())
		return err
	}
	links, err := auth.NewUnsubscribeTokens(cfg.UnsubscribeSecret)
	if err != nil {
		_ = db.Close(context.Background())
		return err
	}

	sched := scheduler.New(notifier, scheduler.Options{}, logger)
	users := service.NewUserService(db, blobs, sched, notifier, links, service.UserServiceOptions{}, logger)
	authService := service.NewAuthService(
		auth.NewNylasProvider(cfg.NylasClientID, cfg.NylasClientSecret, cfg.NylasAPIServer, http.DefaultClient, cfg.UpstreamTimeout),
		nylasClient,
		db,
		db,
		cfg.ClientURI,
		logger,
	)

	// Jobs live in memory; rebuild them from the stored schedules.
	scheduled, err := db.ListScheduled(ctx)
	if err != nil {
		_ = db.Close(context.Background())
		return err
	}
	n, err := sched.Rearm(ctx, scheduled)
	if err != nil {
		_ = db.Close(context.Background())
		return err
	}
	logger.Info("tutorial schedules re-armed", slog.Int("jobs", n))

	srv, err := server.New(server.Config{
		Port:        cfg.Port,
		CORSOrigins: cfg.CORSOrigins,
	}, server.Deps{
		Authenticator: auth.NewAuthenticator(db, db),
		Auth:          authService,
		Users:         users,
		Mail:          service.NewMailService(nylasClient),
		Scheduler:     sched,
		Store:         db,
	}, logger)
	if err != nil {
		_ = db.Close(context.Background())
		return err
	}

	// Start blocks until SIGINT/SIGTERM, then stops the scheduler and closes Mongo.
	return srv.Start(ctx)
}
