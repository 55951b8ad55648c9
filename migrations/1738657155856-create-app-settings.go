package migrations

import (
	"context"
	"time"

	"gorm.io/gorm"

	"migration-service/internal/registry"
)

// appSetting は1738657155856時点のapp_settingsテーブル定義。
type appSetting struct {
	Key       string    `gorm:"column:setting_key;primaryKey;size:128"`
	Value     string    `gorm:"column:setting_value;size:1024;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;index:idx_app_settings_updated_at"`
}

func (appSetting) TableName() string {
	return "app_settings"
}

var createAppSettings = registry.Unit{
	Sequence: 1738657155856,
	Name:     "CreateAppSettings",
	Up: func(ctx context.Context, tx *gorm.DB) error {
		return tx.WithContext(ctx).Migrator().CreateTable(&appSetting{})
	},
	Down: func(ctx context.Context, tx *gorm.DB) error {
		return tx.WithContext(ctx).Migrator().DropTable(&appSetting{})
	},
}
