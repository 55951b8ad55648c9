package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"migration-service/internal/domain"

	"gorm.io/gorm"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// SplitSQL はSQLファイルをUpセクションとDownセクションに分割する。
// マーカーが無い場合は全体をUpとして扱う。
func SplitSQL(content string) (up, down string) {
	upIdx := strings.Index(content, upMarker)
	downIdx := strings.Index(content, downMarker)

	switch {
	case upIdx == -1 && downIdx == -1:
		return strings.TrimSpace(content), ""
	case downIdx == -1:
		return strings.TrimSpace(content[upIdx+len(upMarker):]), ""
	case upIdx == -1:
		return "", strings.TrimSpace(content[downIdx+len(downMarker):])
	case upIdx < downIdx:
		up = content[upIdx+len(upMarker) : downIdx]
		down = content[downIdx+len(downMarker):]
	default:
		down = content[downIdx+len(downMarker) : upIdx]
		up = content[upIdx+len(upMarker):]
	}
	return strings.TrimSpace(up), strings.TrimSpace(down)
}

// SQLUnit はSQLファイルの内容からユニットを生成する。
// 空のセクションに対応する操作はnilのままにする。
func SQLUnit(fileName, content string) (Unit, error) {
	seq, err := domain.ParseSequence(fileName)
	if err != nil {
		return Unit{}, err
	}

	up, down := SplitSQL(content)
	unit := Unit{Sequence: seq, Name: UnitName(seq)}
	if up != "" {
		unit.Up = execSQL(up)
	}
	if down != "" {
		unit.Down = execSQL(down)
	}
	return unit, nil
}

func execSQL(stmt string) Operation {
	return func(ctx context.Context, tx *gorm.DB) error {
		return tx.WithContext(ctx).Exec(stmt).Error
	}
}

// IsSQLFile はファイルがSQLのマイグレーションかどうかを返す。
func IsSQLFile(fileName string) bool {
	return strings.EqualFold(filepath.Ext(fileName), ".sql")
}

// LoadSQLUnit はpathのSQLファイルを読み込んでユニットを生成する。
func LoadSQLUnit(path string) (Unit, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Unit{}, fmt.Errorf("%w: %s", domain.ErrMigrationFileNotFound, path)
		}
		return Unit{}, fmt.Errorf("failed to read migration file %s: %w", filepath.Base(path), err)
	}
	return SQLUnit(filepath.Base(path), string(content))
}
