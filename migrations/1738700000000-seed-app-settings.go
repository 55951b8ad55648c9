package migrations

import (
	"context"
	"time"

	"gorm.io/gorm"

	"migration-service/internal/registry"
)

var defaultSettings = map[string]string{
	"maintenance_mode": "false",
	"max_page_size":    "100",
}

var seedAppSettings = registry.Unit{
	Sequence: 1738700000000,
	Name:     "SeedAppSettings",
	Up: func(ctx context.Context, tx *gorm.DB) error {
		now := time.Now().UTC()
		rows := make([]appSetting, 0, len(defaultSettings))
		for k, v := range defaultSettings {
			rows = append(rows, appSetting{Key: k, Value: v, UpdatedAt: now})
		}
		return tx.WithContext(ctx).Create(&rows).Error
	},
	Down: func(ctx context.Context, tx *gorm.DB) error {
		keys := make([]string, 0, len(defaultSettings))
		for k := range defaultSettings {
			keys = append(keys, k)
		}
		return tx.WithContext(ctx).Where("setting_key IN ?", keys).Delete(&appSetting{}).Error
	},
}
