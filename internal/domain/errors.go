package domain

import "errors"

var (
	// ErrDirectoryNotFound はマイグレーションフォルダが存在しない場合のエラー。
	ErrDirectoryNotFound = errors.New("migration directory not found")

	// ErrDuplicateSequence は同じシーケンスのファイルが複数ある場合のエラー。
	ErrDuplicateSequence = errors.New("duplicate migration sequence")

	// ErrInvalidMigrationFile はマイグレーションファイル名のフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrUnitResolution はマイグレーションユニットを解決できない場合のエラー。
	ErrUnitResolution = errors.New("migration unit resolution failed")

	// ErrUnitNotFound はシーケンスに対応するユニットが登録されていない場合のエラー。
	ErrUnitNotFound = errors.New("migration unit not found")

	// ErrMissingOperation はユニットにup/downが定義されていない場合のエラー。
	ErrMissingOperation = errors.New("migration unit operation missing")

	// ErrDuplicateUnit は同じシーケンスのユニットを二重登録した場合のエラー。
	ErrDuplicateUnit = errors.New("migration unit already registered")

	// ErrExecution はup/downの実行に失敗した場合のエラー。
	ErrExecution = errors.New("migration execution failed")

	// ErrMigrationTimeout はup/downがタイムアウトした場合のエラー。
	ErrMigrationTimeout = errors.New("migration execution timeout")

	// ErrHistoryWrite は履歴の記録・削除に失敗した場合のエラー。
	ErrHistoryWrite = errors.New("migration history write failed")

	// ErrArchive はアーカイブへのアップロードに失敗した場合のエラー。
	ErrArchive = errors.New("migration archive failed")

	// ErrInvalidFolderName はマイグレーションフォルダ名が不正な場合のエラー。
	ErrInvalidFolderName = errors.New("invalid migration folder name")

	// ErrFileNameRequired はマイグレーションファイル名が指定されていない場合のエラー。
	ErrFileNameRequired = errors.New("migration file name is required")

	// ErrUnsupportedDialect は履歴テーブルを作成できないDBの場合のエラー。
	ErrUnsupportedDialect = errors.New("unsupported database dialect")
)
