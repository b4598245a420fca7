package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yaw/api/internal/config"
	"yaw/api/internal/logging"
	"yaw/api/internal/pagetree"
	"yaw/api/internal/search"
	"yaw/api/internal/store"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type cliEnv struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var configFile string
	rt := &cliEnv{}

	root := &cobra.Command{
		Use:           "api",
		Short:         "Yet Another Wiki API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile == "" {
				configFile = os.Getenv("YAW_CONFIG_FILE")
			}
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			rt.cfg = cfg
			rt.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), rt.cfg, rt.logger)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (default $YAW_CONFIG_FILE)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), rt.cfg, rt.logger)
			},
		},
		newMigrateCmd(rt),
		&cobra.Command{
			Use:   "seed-questions",
			Short: "Insert the default secret questions into an empty catalog",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), rt.cfg, func(db *sql.DB) error {
					inserted, err := store.NewPostgresStore(db).SeedSecretQuestions(cmd.Context(), store.DefaultSecretQuestions)
					if err != nil {
						return err
					}
					rt.logger.Info("secret questions seeded", zap.Int("inserted", inserted))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "reindex",
			Short: "Rebuild the Meilisearch page index from the docs directory",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return reindex(cmd.Context(), rt.cfg, rt.logger)
			},
		},
	)
	return root
}

func newMigrateCmd(rt *cliEnv) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withDB(ctx, rt.cfg, func(db *sql.DB) error {
				if down {
					if err := store.RollbackMigrations(ctx, db); err != nil {
						return err
					}
				} else if err := store.ApplyMigrations(ctx, db); err != nil {
					return err
				}
				version, err := store.MigrationVersion(ctx, db)
				if err != nil {
					return err
				}
				rt.logger.Info("migrations done", zap.Int64("version", version), zap.Bool("down", down))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}

func withDB(ctx context.Context, cfg config.Config, fn func(db *sql.DB) error) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func reindex(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.MeiliURL == "" {
		return fmt.Errorf("MEILI_URL is not set")
	}
	meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	defer meili.Close()

	tree, err := pagetree.Open(pagetree.Config{DocsDir: cfg.DocsDir, Logger: logger})
	if err != nil {
		return err
	}
	defer tree.Close()

	svc := search.NewService(meili, search.NewFiles(cfg.DocsDir), logger)
	svc.SetScope(func(ctx context.Context) (search.Policy, error) {
		view, err := tree.Visibility(ctx, true)
		if err != nil {
			return nil, err
		}
		return view, nil
	})
	count, err := svc.ReindexAll(ctx)
	if err != nil {
		return err
	}
	logger.Info("search index rebuilt", zap.Int("pages", count))
	return nil
}
