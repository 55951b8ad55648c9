// Package domain はマイグレーション実行のドメインモデルとルールを定義する。
package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var folderNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// MigrationStatus はマイグレーションファイルの適用状態を表す。
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
	// MigrationStatusIgnored は未適用だがウォーターマーク以下のため自動実行されないファイル。
	MigrationStatusIgnored MigrationStatus = "ignored"
)

// MigrationFile はマイグレーションフォルダ内の1ファイルを表す。
type MigrationFile struct {
	FileName string // 例: 1738657155856-create-users.sql
	Sequence int64  // ファイル名先頭の数値
	Path     string // 絶対パス
}

// MigrationRecord はmigration_historyテーブルの1行を表す。
type MigrationRecord struct {
	FileName     string
	DirectoryKey string
	Sequence     int64
	AppliedAt    time.Time
}

// MigrationState はステータス表示用のファイル単位の状態。
type MigrationState struct {
	FileName  string
	Sequence  int64
	Status    MigrationStatus
	AppliedAt *time.Time // 未適用の場合はnil
}

// StatusReport はフォルダ単位のマイグレーション状況。
type StatusReport struct {
	FolderName   string
	DirectoryKey string
	Watermark    int64
	HasWatermark bool
	Migrations   []MigrationState
}

// ArchiveConfig は適用済みマイグレーションのアーカイブ設定。
type ArchiveConfig struct {
	Enabled   bool
	Backend   string // "s3" または "gcs"
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	Endpoint  string
	KeyPrefix string
}

// MigrationConfig はランナーが参照する設定。生成後は変更しない。
type MigrationConfig struct {
	FolderName   string
	DirKeyPrefix string
	RunOnStartup bool
	Archive      ArchiveConfig
	Timeout      time.Duration
}

// DirectoryKey は指定フォルダの履歴スコープキーを返す。
func (c MigrationConfig) DirectoryKey(folderName string) string {
	return DirectoryKey(c.DirKeyPrefix, folderName)
}

// DirectoryKey はprefixとフォルダ名から履歴スコープキーを組み立てる。
func DirectoryKey(prefix, folderName string) string {
	return prefix + "_" + folderName
}

// ParseSequence はファイル名の最初の"-"より前を数値として解釈する。
// ファイル名のフォーマット: {sequence}-{description}.{ext}
func ParseSequence(fileName string) (int64, error) {
	head, _, found := strings.Cut(fileName, "-")
	if !found || head == "" {
		return 0, fmt.Errorf("%w: %s (expected format: {sequence}-{description}.{ext})", ErrInvalidMigrationFile, fileName)
	}
	for _, r := range head {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %s (non-numeric sequence %q)", ErrInvalidMigrationFile, fileName, head)
		}
	}
	seq, err := strconv.ParseInt(head, 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("%w: %s (invalid sequence %q)", ErrInvalidMigrationFile, fileName, head)
	}
	return seq, nil
}

// ValidateFolderName はフォルダ名がソースルート直下の1階層を指すことを確認する。
func ValidateFolderName(name string) error {
	if len(name) > 128 || name == "." || name == ".." || !folderNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidFolderName, name)
	}
	return nil
}
