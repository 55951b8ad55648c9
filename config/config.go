// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"migration-service/internal/domain"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string `env:"PORT" envDefault:"8080"`
	DatabaseDriver     string `env:"DATABASE_DRIVER" envDefault:"mysql"`
	DatabaseURL        string `env:"DATABASE_URL"`
	KMSKeyName         string `env:"KMS_KEY_NAME"`
	GoogleCloudProject string `env:"GOOGLE_CLOUD_PROJECT"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"INFO"`

	OtelEnabled      bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OtelEndpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OtelServiceName  string  `env:"OTEL_SERVICE_NAME" envDefault:"migration-service"`
	OtelSamplingRate float64 `env:"OTEL_SAMPLING_RATE" envDefault:"1.0"`
	OtelInsecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`

	MigrationsRoot      string        `env:"MIGRATIONS_ROOT" envDefault:"."`
	MigrationFolderName string        `env:"MIGRATION_FOLDER_NAME" envDefault:"migrations"`
	MigrationDirPrefix  string        `env:"MIGRATION_DIR_KEY_PREFIX" envDefault:"migration"`
	RunOnStartup        bool          `env:"RUN_ON_STARTUP" envDefault:"false"`
	ExposeAPI           bool          `env:"EXPOSE_API" envDefault:"true"`
	MigrationTimeout    time.Duration `env:"MIGRATION_TIMEOUT" envDefault:"5m"`

	Archive ArchiveConfig `envPrefix:"ARCHIVE_"`
}

// ArchiveConfig はマイグレーションファイルのアーカイブ先の設定。
type ArchiveConfig struct {
	Enabled   bool   `env:"ENABLED" envDefault:"false"`
	Backend   string `env:"BACKEND" envDefault:"s3"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	// SecretKeyCiphertext はKMSで暗号化されたSecretKey(base64)。SecretKeyより優先する。
	SecretKeyCiphertext string `env:"SECRET_KEY_CIPHERTEXT"`
	Region              string `env:"REGION"`
	Bucket              string `env:"BUCKET"`
	Endpoint            string `env:"ENDPOINT"`
	KeyPrefix           string `env:"KEY_PREFIX" envDefault:"MigrationFile"`
}

// Load は環境変数から設定を読み込む。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.DatabaseDriver = strings.ToLower(c.DatabaseDriver)
	switch c.DatabaseDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedDialect, c.DatabaseDriver)
	}

	if c.MigrationTimeout < 0 {
		return fmt.Errorf("MIGRATION_TIMEOUT must not be negative: %s", c.MigrationTimeout)
	}

	if c.Archive.Enabled {
		c.Archive.Backend = strings.ToLower(c.Archive.Backend)
		switch c.Archive.Backend {
		case "s3", "gcs":
		default:
			return fmt.Errorf("unsupported ARCHIVE_BACKEND: %s", c.Archive.Backend)
		}
		if c.Archive.Bucket == "" {
			return fmt.Errorf("ARCHIVE_BUCKET is required when archive is enabled")
		}
		if c.Archive.SecretKeyCiphertext != "" && c.KMSKeyName == "" {
			return fmt.Errorf("KMS_KEY_NAME is required to decrypt ARCHIVE_SECRET_KEY_CIPHERTEXT")
		}
	}
	return nil
}

// MigrationConfig はランナー用の設定を組み立てる。
// 暗号化されたシークレットは呼び出し側で復号してから渡す。
func (c *Config) MigrationConfig(secretKey string) domain.MigrationConfig {
	if secretKey == "" {
		secretKey = c.Archive.SecretKey
	}
	return domain.MigrationConfig{
		FolderName:   c.MigrationFolderName,
		DirKeyPrefix: c.MigrationDirPrefix,
		RunOnStartup: c.RunOnStartup,
		Timeout:      c.MigrationTimeout,
		Archive: domain.ArchiveConfig{
			Enabled:   c.Archive.Enabled,
			Backend:   c.Archive.Backend,
			AccessKey: c.Archive.AccessKey,
			SecretKey: secretKey,
			Region:    c.Archive.Region,
			Bucket:    c.Archive.Bucket,
			Endpoint:  c.Archive.Endpoint,
			KeyPrefix: c.Archive.KeyPrefix,
		},
	}
}
