package repository

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupHistoryDB はテスト用のSQLiteデータベースを作成する。
// トランザクションと別コネクションで同じDBを参照するためファイルを使う。
func setupHistoryDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "history.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestMigrationHistoryRepository_EnsureSchema_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := setupHistoryDB(t)
	repo := NewMigrationHistoryRepository(db)

	for i := 0; i < 2; i++ {
		if err := repo.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema call %d failed: %v", i+1, err)
		}
	}

	if !db.Migrator().HasTable("migration_history") {
		t.Fatal("migration_history table was not created")
	}
}

func TestMigrationHistoryRepository_LatestSequence(t *testing.T) {
	ctx := context.Background()
	repo := NewMigrationHistoryRepository(setupHistoryDB(t))
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	// 履歴が無い場合
	if seq, ok := repo.LatestSequence(ctx, "app_migrations"); ok {
		t.Fatalf("expected no watermark, got %d", seq)
	}

	// 記録順に関係なく最大値を返す
	entries := []struct {
		file string
		seq  int64
	}{
		{"200-addcol.sql", 200},
		{"100-init.sql", 100},
		{"300-index.sql", 300},
		{"250-backfill.sql", 250},
	}
	for _, e := range entries {
		if err := repo.Record(ctx, "app_migrations", e.file, e.seq); err != nil {
			t.Fatalf("Record(%s) failed: %v", e.file, err)
		}
	}
	if err := repo.Record(ctx, "app_other", "900-other.sql", 900); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	seq, ok := repo.LatestSequence(ctx, "app_migrations")
	if !ok {
		t.Fatal("expected watermark to exist")
	}
	if seq != 300 {
		t.Errorf("expected watermark 300, got %d", seq)
	}
}

func TestMigrationHistoryRepository_LatestSequence_FailOpen(t *testing.T) {
	ctx := context.Background()
	repo := NewMigrationHistoryRepository(setupHistoryDB(t))

	// テーブルが無い場合は読み込みエラーだが、履歴なしとして扱う
	if seq, ok := repo.LatestSequence(ctx, "app_migrations"); ok {
		t.Fatalf("expected no watermark on read failure, got %d", seq)
	}
}

func TestMigrationHistoryRepository_Record_Error(t *testing.T) {
	ctx := context.Background()
	repo := NewMigrationHistoryRepository(setupHistoryDB(t))

	if err := repo.Record(ctx, "app_migrations", "100-init.sql", 100); err == nil {
		t.Error("expected error when history table is missing, got nil")
	}
}

func TestMigrationHistoryRepository_Record_NeverUpserts(t *testing.T) {
	ctx := context.Background()
	db := setupHistoryDB(t)
	repo := NewMigrationHistoryRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := repo.Record(ctx, "app_migrations", "100-init.sql", 100); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	var count int64
	if err := db.Model(&MigrationHistoryModel{}).Where("migration_file_name = ?", "100-init.sql").Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 rows, got %d", count)
	}
}

func TestMigrationHistoryRepository_Delete_ScopedByDirKey(t *testing.T) {
	ctx := context.Background()
	db := setupHistoryDB(t)
	repo := NewMigrationHistoryRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	// 2つのディレクトリが同じファイル名を持つ
	for _, key := range []string{"app_migrations", "app_seeds"} {
		if err := repo.Record(ctx, key, "200-addcol.sql", 200); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if err := repo.Record(ctx, "app_migrations", "100-init.sql", 100); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := repo.Delete(ctx, "app_migrations", "200-addcol.sql"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	migrations, err := repo.FindByDirKey(ctx, "app_migrations")
	if err != nil {
		t.Fatalf("FindByDirKey failed: %v", err)
	}
	if len(migrations) != 1 || migrations[0].FileName != "100-init.sql" {
		t.Errorf("expected only 100-init.sql to remain, got %+v", migrations)
	}

	seeds, err := repo.FindByDirKey(ctx, "app_seeds")
	if err != nil {
		t.Fatalf("FindByDirKey failed: %v", err)
	}
	if len(seeds) != 1 || seeds[0].FileName != "200-addcol.sql" {
		t.Errorf("expected app_seeds row to be untouched, got %+v", seeds)
	}

	seq, ok := repo.LatestSequence(ctx, "app_migrations")
	if !ok || seq != 100 {
		t.Errorf("expected watermark to fall back to 100, got %d (ok=%v)", seq, ok)
	}
}

func TestMigrationHistoryRepository_FindByDirKey_Ordered(t *testing.T) {
	ctx := context.Background()
	repo := NewMigrationHistoryRepository(setupHistoryDB(t))
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	for _, seq := range []int64{300, 100, 200} {
		if err := repo.Record(ctx, "app_migrations", "x.sql", seq); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	records, err := repo.FindByDirKey(ctx, "app_migrations")
	if err != nil {
		t.Fatalf("FindByDirKey failed: %v", err)
	}
	want := []int64{100, 200, 300}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	for i, rec := range records {
		if rec.Sequence != want[i] {
			t.Errorf("records[%d].Sequence = %d, want %d", i, rec.Sequence, want[i])
		}
		if rec.AppliedAt.IsZero() {
			t.Errorf("records[%d].AppliedAt is zero", i)
		}
	}
}
