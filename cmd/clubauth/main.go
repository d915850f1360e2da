package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goliatone/go-persistence-bun"
	auth "github.com/picklehub/go-club-auth"
	"github.com/picklehub/go-club-auth/activitymap"
	"github.com/picklehub/go-club-auth/config"
	"github.com/picklehub/go-club-auth/database"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "clubauth",
	Short: "Member authentication for the pickleball club app",
	Long: `clubauth serves the member authentication endpoints of the club app and
manages member records.

Members sign in from the LINE in-app browser with their LINE identity, or
from a regular browser with email and password.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}

		logger, err = newLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "clubauth.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(memberCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}

	if lc.Level != "" {
		level, err := zap.ParseAtomicLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}

	return zc.Build()
}

func openDB(ctx context.Context, migrate bool) (*bun.DB, error) {
	client, err := openClient()
	if err != nil {
		return nil, err
	}

	if migrate {
		if err := database.Migrate(ctx, client); err != nil {
			_ = client.DB().Close()
			return nil, err
		}
		if report := client.Report(); report != nil && !report.IsZero() {
			logger.Info("applied migrations", zap.String("report", report.String()))
		}
	}

	return client.DB(), nil
}

func openClient() (*persistence.Client, error) {
	return database.Open(database.Options{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Debug:  cfg.Database.Debug,
	})
}

// activityLogger writes activity events to the process log.
func activityLogger() auth.ActivitySink {
	return activitymap.Sink(func(_ context.Context, r activitymap.Record) error {
		logger.Info("activity",
			zap.String("verb", r.Verb),
			zap.String("actor", r.ActorID),
			zap.String("object", r.ObjectType+":"+r.ObjectID),
			zap.Any("metadata", r.Metadata),
			zap.Time("occurred_at", r.OccurredAt),
		)
		return nil
	}, activitymap.WithChannel(cfg.Name))
}
