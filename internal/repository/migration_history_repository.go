// Package repository はマイグレーション履歴の永続化を提供する。
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"migration-service/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MigrationHistoryModel はmigration_historyテーブルのモデル。
type MigrationHistoryModel struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	FileName     string    `gorm:"column:migration_file_name;type:varchar(255);not null"`
	DirectoryKey string    `gorm:"column:migration_dir_key;type:varchar(255);not null"`
	CreatedOn    time.Time `gorm:"column:created_on;not null"`
	Timestamp    int64     `gorm:"column:timestamp;not null"`
}

// TableName はテーブル名を指定。
func (MigrationHistoryModel) TableName() string {
	return "migration_history"
}

func (m *MigrationHistoryModel) toDomain() domain.MigrationRecord {
	return domain.MigrationRecord{
		FileName:     m.FileName,
		DirectoryKey: m.DirectoryKey,
		Sequence:     m.Timestamp,
		AppliedAt:    m.CreatedOn,
	}
}

// 複数インスタンスから同時に呼ばれても失敗しないようIF NOT EXISTSで作成する。
var createHistoryTableSQL = map[string][]string{
	"mysql": {
		"CREATE TABLE IF NOT EXISTS migration_history (" +
			"id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY, " +
			"migration_file_name VARCHAR(255) NOT NULL, " +
			"migration_dir_key VARCHAR(255) NOT NULL, " +
			"created_on DATETIME(6) NOT NULL, " +
			"`timestamp` BIGINT NOT NULL, " +
			"INDEX idx_migration_dir_key (migration_dir_key))",
	},
	"postgres": {
		`CREATE TABLE IF NOT EXISTS migration_history (
			id BIGSERIAL PRIMARY KEY,
			migration_file_name VARCHAR(255) NOT NULL,
			migration_dir_key VARCHAR(255) NOT NULL,
			created_on TIMESTAMPTZ NOT NULL,
			"timestamp" BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_migration_dir_key ON migration_history (migration_dir_key)`,
	},
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS migration_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			migration_file_name TEXT NOT NULL,
			migration_dir_key TEXT NOT NULL,
			created_on DATETIME NOT NULL,
			"timestamp" INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_migration_dir_key ON migration_history (migration_dir_key)`,
	},
}

// MigrationHistoryRepository はマイグレーション履歴を管理するリポジトリ。
type MigrationHistoryRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewMigrationHistoryRepository は新しいMigrationHistoryRepositoryを生成する。
func NewMigrationHistoryRepository(db *gorm.DB) *MigrationHistoryRepository {
	return &MigrationHistoryRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema は履歴テーブルが存在しなければ作成する。
func (r *MigrationHistoryRepository) EnsureSchema(ctx context.Context) error {
	dialect := r.db.Dialector.Name()
	stmts, ok := createHistoryTableSQL[dialect]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedDialect, dialect)
	}

	for _, stmt := range stmts {
		if err := r.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			slog.ErrorContext(ctx, "failed to ensure migration history table",
				"operation", "ensure_schema",
				"dialect", dialect,
				"error", err,
			)
			return err
		}
	}
	return nil
}

// LatestSequence はディレクトリキーに記録された最大シーケンスを返す。
// 履歴が無い場合と読み込みに失敗した場合はfalseを返し、呼び出し側は全ファイルを対象とする。
func (r *MigrationHistoryRepository) LatestSequence(ctx context.Context, dirKey string) (int64, bool) {
	var model MigrationHistoryModel
	err := r.db.WithContext(ctx).
		Where("migration_dir_key = ?", dirKey).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}).
		Take(&model).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			slog.WarnContext(ctx, "failed to read latest migration sequence, treating history as empty",
				"operation", "latest_sequence",
				"dir_key", dirKey,
				"error", err,
			)
		}
		return 0, false
	}
	return model.Timestamp, true
}

// FindByDirKey はディレクトリキーの履歴をシーケンス順に取得する。
func (r *MigrationHistoryRepository) FindByDirKey(ctx context.Context, dirKey string) ([]domain.MigrationRecord, error) {
	var models []MigrationHistoryModel
	err := r.db.WithContext(ctx).
		Where("migration_dir_key = ?", dirKey).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find migration history",
			"operation", "find_by_dir_key",
			"dir_key", dirKey,
			"error", err,
		)
		return nil, err
	}

	records := make([]domain.MigrationRecord, len(models))
	for i := range models {
		records[i] = models[i].toDomain()
	}
	return records, nil
}

// Record はマイグレーション適用履歴を1行追加する。更新やupsertはしない。
func (r *MigrationHistoryRepository) Record(ctx context.Context, dirKey, fileName string, sequence int64) error {
	model := &MigrationHistoryModel{
		FileName:     fileName,
		DirectoryKey: dirKey,
		CreatedOn:    r.now(),
		Timestamp:    sequence,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to record migration",
			"operation", "record_migration",
			"dir_key", dirKey,
			"file", fileName,
			"sequence", sequence,
			"error", err,
		)
		return err
	}
	return nil
}

// Delete はファイル名とディレクトリキーが一致する履歴を削除する。
func (r *MigrationHistoryRepository) Delete(ctx context.Context, dirKey, fileName string) error {
	result := r.db.WithContext(ctx).
		Where("migration_file_name = ? AND migration_dir_key = ?", fileName, dirKey).
		Delete(&MigrationHistoryModel{})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to delete migration history",
			"operation", "delete_migration",
			"dir_key", dirKey,
			"file", fileName,
			"error", result.Error,
		)
		return result.Error
	}

	slog.DebugContext(ctx, "migration history deleted",
		"operation", "delete_migration",
		"dir_key", dirKey,
		"file", fileName,
		"rows", result.RowsAffected,
	)
	return nil
}
