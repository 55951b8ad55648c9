package usecase

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"migration-service/internal/domain"
)

// writeFiles はテスト用のファイルをdirに作成する。
func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
}

func sequencesOf(files []domain.MigrationFile) []int64 {
	seqs := make([]int64, len(files))
	for i, f := range files {
		seqs[i] = f.Sequence
	}
	return seqs
}

func TestFileCatalog_ListPending_Watermark(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"300-index.sql":  "",
		"100-init.sql":   "",
		"200-addcol.sql": "",
	})

	files, err := NewFileCatalog().ListPending(dir, 150)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}

	got := sequencesOf(files)
	if len(got) != 2 || got[0] != 200 || got[1] != 300 {
		t.Fatalf("expected [200 300], got %v", got)
	}
	if files[0].FileName != "200-addcol.sql" {
		t.Errorf("expected 200-addcol.sql first, got %s", files[0].FileName)
	}
	if files[0].Path != filepath.Join(dir, "200-addcol.sql") {
		t.Errorf("unexpected path %s", files[0].Path)
	}
}

func TestFileCatalog_ListPending_NumericOrder(t *testing.T) {
	dir := t.TempDir()
	// 文字列順では 1000 < 900 になるが数値順で並ぶこと
	writeFiles(t, dir, map[string]string{
		"1000-later.sql":  "",
		"900-earlier.sql": "",
	})

	files, err := NewFileCatalog().ListAll(dir)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	got := sequencesOf(files)
	if len(got) != 2 || got[0] != 900 || got[1] != 1000 {
		t.Fatalf("expected [900 1000], got %v", got)
	}
}

func TestFileCatalog_ListPending_SkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"100-init.sql": "",
		"registry.go":  "",
		"abc-init.sql": "",
		".100-hidden":  "",
	})
	if err := os.Mkdir(filepath.Join(dir, "200-subdir"), 0755); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}

	files, err := NewFileCatalog().ListAll(dir)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(files) != 1 || files[0].Sequence != 100 {
		t.Errorf("expected only 100-init.sql, got %+v", files)
	}
}

func TestFileCatalog_ListPending_DirectoryNotFound(t *testing.T) {
	_, err := NewFileCatalog().ListPending(filepath.Join(t.TempDir(), "missing"), 0)
	if !errors.Is(err, domain.ErrDirectoryNotFound) {
		t.Errorf("expected ErrDirectoryNotFound, got %v", err)
	}
}

func TestFileCatalog_ListPending_DuplicateSequence(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"100-a.sql": "",
		"100-b.sql": "",
	})

	_, err := NewFileCatalog().ListAll(dir)
	if !errors.Is(err, domain.ErrDuplicateSequence) {
		t.Errorf("expected ErrDuplicateSequence, got %v", err)
	}

	// 適用済み範囲の重複は対象外
	files, err := NewFileCatalog().ListPending(dir, 100)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no pending files, got %+v", files)
	}
}

func TestFileCatalog_Create(t *testing.T) {
	dir := t.TempDir()
	now := time.UnixMilli(1738657155856)
	catalog := NewFileCatalog()

	sqlFile, err := catalog.Create(dir, "Create Users!", "sql", now)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sqlFile.FileName != "1738657155856-create-users.sql" {
		t.Errorf("unexpected file name %s", sqlFile.FileName)
	}
	content, err := os.ReadFile(sqlFile.Path)
	if err != nil {
		t.Fatalf("failed to read created file: %v", err)
	}
	if !strings.Contains(string(content), "-- +migrate Up") || !strings.Contains(string(content), "-- +migrate Down") {
		t.Errorf("missing section markers:\n%s", content)
	}

	goFile, err := catalog.Create(dir, "seed_users", "go", now.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	content, err = os.ReadFile(goFile.Path)
	if err != nil {
		t.Fatalf("failed to read created file: %v", err)
	}
	if !strings.Contains(string(content), "var seedUsers = registry.Unit{") {
		t.Errorf("unexpected go template:\n%s", content)
	}
	if !strings.Contains(string(content), "Sequence: 1738657155857,") {
		t.Errorf("missing sequence in go template:\n%s", content)
	}

	files, err := catalog.ListAll(dir)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("expected 2 files, got %d", len(files))
	}
}

func TestFileCatalog_CreateErrors(t *testing.T) {
	dir := t.TempDir()
	now := time.UnixMilli(100)
	catalog := NewFileCatalog()

	if _, err := catalog.Create(dir, "!!!", "sql", now); !errors.Is(err, domain.ErrInvalidMigrationFile) {
		t.Errorf("expected ErrInvalidMigrationFile, got %v", err)
	}
	if _, err := catalog.Create(filepath.Join(dir, "missing"), "init", "sql", now); !errors.Is(err, domain.ErrDirectoryNotFound) {
		t.Errorf("expected ErrDirectoryNotFound, got %v", err)
	}
	if _, err := catalog.Create(dir, "init", "ts", now); err == nil {
		t.Error("expected error for unsupported type")
	}
	if _, err := catalog.Create(dir, "init", "sql", now); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := catalog.Create(dir, "init", "sql", now); err == nil {
		t.Error("expected error when file already exists")
	}
}
