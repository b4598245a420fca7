package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"yaw/api/internal/app"
	"yaw/api/internal/auth"
	"yaw/api/internal/authpw"
	"yaw/api/internal/blob"
	"yaw/api/internal/config"
	"yaw/api/internal/email"
	"yaw/api/internal/export"
	"yaw/api/internal/gitrepo"
	"yaw/api/internal/pagetree"
	"yaw/api/internal/search"
	"yaw/api/internal/session"
	"yaw/api/internal/settings"
	"yaw/api/internal/store"
)

func serve(parent context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if cfg.MigrateOnBoot {
		if err := store.ApplyMigrations(ctx, db); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}
	users := store.NewPostgresStore(db)

	var grants session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		logger.Info("using redis for reset grants and revocations")
		grants = redisStore
	} else {
		logger.Warn("REDIS_URL not set, reset grants are kept in memory")
		grants = session.NewMemoryStore()
	}
	defer grants.Close()

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logger.Info("SMTP not configured, password change notices are disabled")
	}

	accounts := authpw.NewService(users, auth.NewSigner(cfg.JWTSecret), grants, authpw.Options{
		Hasher:    authpw.NewBcryptHasher(cfg.BcryptCost),
		ResetTTL:  cfg.ResetTokenTTL,
		AccessTTL: cfg.AccessTTL,
		Notifier:  mailer,
		Logger:    logger.Named("accounts"),
	})

	tree, err := pagetree.Open(pagetree.Config{
		DocsDir:  cfg.DocsDir,
		MetaFile: cfg.MetaFile,
		Logger:   logger.Named("pagetree"),
	})
	if err != nil {
		return fmt.Errorf("open page tree: %w", err)
	}
	defer tree.Close()
	if err := tree.Watch(); err != nil {
		logger.Warn("meta.json watcher disabled", zap.Error(err))
	}

	history := gitrepo.New(cfg.DocsDir)

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewFiles(cfg.DocsDir), logger)
	defer searchService.Wait()

	uploads, err := openUploads(ctx, cfg, logger)
	if err != nil {
		return err
	}

	service := app.New(cfg, app.Deps{
		Users:    users,
		Accounts: accounts,
		Tree:     tree,
		History:  history,
		Search:   searchService,
		Exporter: export.NewService(tree, history),
		Settings: settings.New(cfg.SettingsDir),
		Uploads:  blob.NewUploads(uploads),
		Content:  blob.NewDir(cfg.ContentDir),
		Logger:   logger,
	})
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap error (will retry on next restart)", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}

// openUploads picks MinIO when an endpoint is configured and the local
// uploads directory otherwise.
func openUploads(ctx context.Context, cfg config.Config, logger *zap.Logger) (blob.Store, error) {
	if strings.TrimSpace(cfg.MinioEndpoint) == "" {
		logger.Info("storing uploads on disk", zap.String("dir", cfg.UploadsDir))
		return blob.NewDir(cfg.UploadsDir), nil
	}
	minioStore, err := blob.NewMinio(blob.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("prepare upload bucket: %w", err)
	}
	logger.Info("storing uploads in minio", zap.String("bucket", cfg.MinioBucket))
	return minioStore, nil
}
