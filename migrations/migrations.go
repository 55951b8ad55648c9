// Package migrations はこのサービスに同梱するマイグレーションユニットを定義する。
// Goで書くユニットはRegisterでこのフォルダに明示的に登録し、SQLファイルは実行時にファイルから読み込む。
package migrations

import (
	"fmt"

	"migration-service/internal/registry"
)

// Folder はこのパッケージのユニットが属するマイグレーションフォルダ名。
const Folder = "migrations"

// units はGoで実装したユニットの一覧。シーケンスはファイル名の先頭と一致させる。
var units = []registry.Unit{
	createAppSettings,
	seedAppSettings,
}

// Register はGoで実装したユニットをFolderに登録する。
func Register(r *registry.Registry) error {
	for _, u := range units {
		if err := r.Register(Folder, u); err != nil {
			return fmt.Errorf("registering %s: %w", u.Name, err)
		}
	}
	return nil
}
