// Package app はサーバーとCLIで共通の依存関係の組み立てを提供する。
package app

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"migration-service/config"
	"migration-service/internal/infra"
	"migration-service/internal/registry"
	"migration-service/internal/repository"
	"migration-service/internal/usecase"
	"migration-service/migrations"
)

// Components は組み立て済みの依存関係。
type Components struct {
	DB       *gorm.DB
	Registry *registry.Registry
	Catalog  *usecase.FileCatalog
	Service  *usecase.MigrationService
	Metrics  *infra.Metrics
	Resolve  usecase.SourceResolver

	closers []func() error
}

// Build は設定からマイグレーションサービスを組み立てる。
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	db, err := infra.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	c := &Components{
		DB:      db,
		Catalog: usecase.NewFileCatalog(),
		Metrics: infra.NewMetrics(),
		Resolve: usecase.DirSourceResolver(cfg.MigrationsRoot),
	}
	c.closers = append(c.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	c.Registry, err = buildRegistry()
	if err != nil {
		c.Close()
		return nil, err
	}

	secretKey, err := resolveArchiveSecret(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	mc := cfg.MigrationConfig(secretKey)

	opts := []usecase.Option{
		usecase.WithSourceResolver(c.Resolve),
		usecase.WithMetrics(c.Metrics),
	}
	archiver, err := infra.NewArchiver(ctx, mc.Archive)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to init archive: %w", err)
	}
	if archiver != nil {
		opts = append(opts, usecase.WithArchiver(archiver))
		c.closers = append(c.closers, archiver.Close)
	}

	c.Service = usecase.NewMigrationService(repository.NewMigrationHistoryRepository(db), c.Catalog, c.Registry, db, mc, opts...)
	return c, nil
}

// buildRegistry は同梱のGoユニットを登録する。SQLファイルは実行時に対象フォルダから読み込まれる。
func buildRegistry() (*registry.Registry, error) {
	reg := registry.New()
	if err := migrations.Register(reg); err != nil {
		return nil, err
	}
	slog.Debug("registered Go migration units", "folder", migrations.Folder, "count", len(reg.Sequences(migrations.Folder)))
	return reg, nil
}

// resolveArchiveSecret はKMSで暗号化されたシークレットキーを復号する。
func resolveArchiveSecret(ctx context.Context, cfg *config.Config) (string, error) {
	if !cfg.Archive.Enabled || cfg.Archive.SecretKeyCiphertext == "" {
		return "", nil
	}

	kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
	if err != nil {
		return "", fmt.Errorf("failed to init KMS client: %w", err)
	}
	defer func() {
		if closeErr := kmsClient.Close(); closeErr != nil {
			slog.Error("failed to close KMS client", "error", closeErr)
		}
	}()

	secret, err := infra.DecryptSecret(ctx, kmsClient, cfg.Archive.SecretKeyCiphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt archive secret key: %w", err)
	}
	return secret, nil
}

// Close は保持しているリソースを解放する。
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			slog.Error("failed to close resource", "error", err)
		}
	}
	c.closers = nil
}
