package usecase

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"migration-service/internal/domain"
)

// FileCatalog はマイグレーションフォルダのファイル一覧を提供する。
type FileCatalog struct{}

// NewFileCatalog は新しいFileCatalogを生成する。
func NewFileCatalog() *FileCatalog {
	return &FileCatalog{}
}

// ListPending はsinceより大きいシーケンスを持つファイルをシーケンス昇順で返す。
// シーケンスを解釈できないファイルは無視する。
func (c *FileCatalog) ListPending(dir string, since int64) ([]domain.MigrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDirectoryNotFound, dir)
		}
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []domain.MigrationFile
	seen := make(map[int64]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		seq, err := domain.ParseSequence(name)
		if err != nil || seq <= since {
			continue
		}

		// 同一シーケンスの順序は決められないため設定エラーとする
		if other, ok := seen[seq]; ok {
			return nil, fmt.Errorf("%w: %d (%s, %s)", domain.ErrDuplicateSequence, seq, other, name)
		}
		seen[seq] = name

		files = append(files, domain.MigrationFile{
			FileName: name,
			Sequence: seq,
			Path:     filepath.Join(dir, name),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Sequence < files[j].Sequence
	})

	return files, nil
}

// ListAll はフォルダ内の全マイグレーションファイルを返す。
func (c *FileCatalog) ListAll(dir string) ([]domain.MigrationFile, error) {
	return c.ListPending(dir, 0)
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9]+`)

const sqlTemplate = `-- %s
-- +migrate Up

-- +migrate Down
`

const goTemplate = `package migrations

import (
	"context"

	"gorm.io/gorm"

	"migration-service/internal/registry"
)

// %[1]s must be added to units in migrations.go.
var %[1]s = registry.Unit{
	Sequence: %[2]d,
	Name:     %[3]q,
	Up: func(ctx context.Context, tx *gorm.DB) error {
		return nil
	},
	Down: func(ctx context.Context, tx *gorm.DB) error {
		return nil
	},
}
`

// Create はnowのミリ秒をシーケンスとする新しいマイグレーションファイルを作成する。
// extは"sql"または"go"。
func (c *FileCatalog) Create(dir, name, ext string, now time.Time) (domain.MigrationFile, error) {
	slug := strings.Trim(invalidNameChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		return domain.MigrationFile{}, fmt.Errorf("%w: empty migration name %q", domain.ErrInvalidMigrationFile, name)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return domain.MigrationFile{}, fmt.Errorf("%w: %s", domain.ErrDirectoryNotFound, dir)
	}

	seq := now.UnixMilli()
	fileName := fmt.Sprintf("%d-%s.%s", seq, slug, ext)

	var content string
	switch ext {
	case "sql":
		content = fmt.Sprintf(sqlTemplate, slug)
	case "go":
		content = fmt.Sprintf(goTemplate, lowerCamel(slug), seq, upperCamel(slug))
	default:
		return domain.MigrationFile{}, fmt.Errorf("unsupported migration file type: %s", ext)
	}

	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return domain.MigrationFile{}, fmt.Errorf("failed to create migration file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return domain.MigrationFile{}, fmt.Errorf("failed to write migration file: %w", err)
	}

	return domain.MigrationFile{FileName: fileName, Sequence: seq, Path: path}, nil
}

func upperCamel(slug string) string {
	var b strings.Builder
	for _, part := range strings.Split(slug, "-") {
		if part == "" {
			continue
		}
		r := []rune(part)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

func lowerCamel(slug string) string {
	s := upperCamel(slug)
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	// 数字で始まる識別子は使えない
	if unicode.IsDigit(r[0]) {
		return "m" + string(r)
	}
	return string(r)
}
