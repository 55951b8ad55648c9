// Package registry はフォルダとシーケンス番号からマイグレーションユニットを解決するレジストリを提供する。
// Goのユニットは起動時にホスト側で登録し、SQLファイルは実行時に対象フォルダのファイルから読み込む。
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"migration-service/internal/domain"

	"gorm.io/gorm"
)

// Operation はトランザクション内で実行されるup/down処理。
type Operation func(ctx context.Context, tx *gorm.DB) error

// Unit はマイグレーションファイル1つに対応する実行単位。
type Unit struct {
	Sequence int64
	Name     string
	Up       Operation
	Down     Operation
}

// UnitName はシーケンスからユニット名を導出する。
func UnitName(sequence int64) string {
	return fmt.Sprintf("Migration%d", sequence)
}

// Registry はフォルダごとのシーケンスとユニットの対応表。
// 別フォルダの同じシーケンスは別のユニットとして扱う。
type Registry struct {
	mu    sync.RWMutex
	units map[string]map[int64]Unit
}

// New は空のRegistryを生成する。
func New() *Registry {
	return &Registry{units: make(map[string]map[int64]Unit)}
}

// Register はfolderにユニットを登録する。同じフォルダ内での同一シーケンスの二重登録はエラー。
func (r *Registry) Register(folder string, u Unit) error {
	if err := domain.ValidateFolderName(folder); err != nil {
		return err
	}
	if u.Sequence <= 0 {
		return fmt.Errorf("invalid unit sequence %d", u.Sequence)
	}
	if u.Name == "" {
		u.Name = UnitName(u.Sequence)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	folderUnits, ok := r.units[folder]
	if !ok {
		folderUnits = make(map[int64]Unit)
		r.units[folder] = folderUnits
	}
	if existing, ok := folderUnits[u.Sequence]; ok {
		return fmt.Errorf("%w: %s/%s (already registered as %s)", domain.ErrDuplicateUnit, folder, u.Name, existing.Name)
	}
	folderUnits[u.Sequence] = u
	return nil
}

// MustRegister はRegisterに失敗した場合panicする。パッケージ初期化用。
func (r *Registry) MustRegister(folder string, u Unit) {
	if err := r.Register(folder, u); err != nil {
		panic(err)
	}
}

// Lookup はfolderに登録されたシーケンスのユニットを返す。
func (r *Registry) Lookup(folder string, sequence int64) (Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.units[folder][sequence]
	if !ok {
		return Unit{}, fmt.Errorf("%w: %s/%s", domain.ErrUnitNotFound, folder, UnitName(sequence))
	}
	return u, nil
}

// Sequences はfolderの登録済みシーケンスを昇順で返す。
func (r *Registry) Sequences(folder string) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seqs := make([]int64, 0, len(r.units[folder]))
	for seq := range r.units[folder] {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}
