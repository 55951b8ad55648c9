// Package usecase はマイグレーションの実行と状態参照のユースケースを実装する。
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"migration-service/internal/domain"
	"migration-service/internal/registry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const tracerName = "migration-service/usecase"

// MigrationHistory はマイグレーション履歴を管理するリポジトリのインターフェース。
type MigrationHistory interface {
	EnsureSchema(ctx context.Context) error
	LatestSequence(ctx context.Context, dirKey string) (int64, bool)
	FindByDirKey(ctx context.Context, dirKey string) ([]domain.MigrationRecord, error)
	Record(ctx context.Context, dirKey, fileName string, sequence int64) error
	Delete(ctx context.Context, dirKey, fileName string) error
}

// MigrationCatalog はマイグレーションファイル一覧のインターフェース。
type MigrationCatalog interface {
	ListPending(dir string, since int64) ([]domain.MigrationFile, error)
	ListAll(dir string) ([]domain.MigrationFile, error)
}

// UnitResolver はフォルダとシーケンスからGoで登録されたユニットを解決する。
type UnitResolver interface {
	Lookup(folder string, sequence int64) (registry.Unit, error)
}

// Archiver は適用済みマイグレーションのソースをアップロードする。
type Archiver interface {
	Upload(ctx context.Context, fileName, absPath string) error
}

// MetricsRecorder はアイテム単位の実行結果を記録する。
type MetricsRecorder interface {
	ObserveItem(dirKey string, direction domain.Direction, outcome string, d time.Duration)
}

// SourceResolver はフォルダ名からマイグレーションソースの絶対パスを返す。
type SourceResolver func(folderName string) (string, error)

// DirSourceResolver はroot配下のフォルダを返すSourceResolverを生成する。
func DirSourceResolver(root string) SourceResolver {
	return func(folderName string) (string, error) {
		return filepath.Abs(filepath.Join(root, folderName))
	}
}

// Option はMigrationServiceの任意設定。
type Option func(*MigrationService)

// WithArchiver はアーカイブ先を設定する。cfg.Archive.Enabledがfalseの場合は使われない。
func WithArchiver(a Archiver) Option {
	return func(s *MigrationService) { s.archiver = a }
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m MetricsRecorder) Option {
	return func(s *MigrationService) { s.metrics = m }
}

// WithSourceResolver はソースディレクトリの解決方法を設定する。
func WithSourceResolver(r SourceResolver) Option {
	return func(s *MigrationService) { s.resolve = r }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(s *MigrationService) { s.logger = l }
}

type noopMetrics struct{}

func (noopMetrics) ObserveItem(string, domain.Direction, string, time.Duration) {}

// MigrationService はマイグレーション実行のビジネスロジックを提供する。
// 同一インスタンスからのバッチとrevertは直列に実行する。
type MigrationService struct {
	history  MigrationHistory
	catalog  MigrationCatalog
	units    UnitResolver
	db       *gorm.DB
	cfg      domain.MigrationConfig
	resolve  SourceResolver
	archiver Archiver
	metrics  MetricsRecorder
	logger   *slog.Logger
	tracer   trace.Tracer

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewMigrationService は新しいMigrationServiceを生成する。
func NewMigrationService(history MigrationHistory, catalog MigrationCatalog, units UnitResolver, db *gorm.DB, cfg domain.MigrationConfig, opts ...Option) *MigrationService {
	s := &MigrationService{
		history: history,
		catalog: catalog,
		units:   units,
		db:      db,
		cfg:     cfg,
		resolve: DirSourceResolver("."),
		metrics: noopMetrics{},
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Archive.Enabled && s.archiver == nil {
		s.logger.Warn("archive is enabled but no archiver is configured, uploads are disabled")
	}
	return s
}

// RunAllPending は設定フォルダの未適用マイグレーションをシーケンス順に実行する。
// 個別の失敗はItemsとログに残り、Statusは常にSUCCESSとなる。
func (s *MigrationService) RunAllPending(ctx context.Context) domain.BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	folder := s.cfg.FolderName
	batch := s.newBatch(folder)
	log := s.logger.With("run_id", batch.RunID, "dir_key", batch.DirectoryKey)

	ctx, span := s.tracer.Start(ctx, "migration.run_all_pending", trace.WithAttributes(
		attribute.String("migration.run_id", batch.RunID),
		attribute.String("migration.dir_key", batch.DirectoryKey),
	))
	defer span.End()

	dir, err := s.resolve(folder)
	if err != nil {
		log.ErrorContext(ctx, "failed to resolve migration folder",
			"operation", "run_all_pending",
			"folder", folder,
			"error", err,
		)
		batch.Description = fmt.Sprintf("migration folder %s skipped: %v", folder, err)
		return s.finish(ctx, log, batch)
	}

	since, _ := s.history.LatestSequence(ctx, batch.DirectoryKey)
	files, err := s.catalog.ListPending(dir, since)
	if err != nil {
		log.ErrorContext(ctx, "failed to list migration files, skipping folder",
			"operation", "run_all_pending",
			"folder", folder,
			"path", dir,
			"error", err,
		)
		batch.Description = fmt.Sprintf("migration folder %s skipped: %v", folder, err)
		return s.finish(ctx, log, batch)
	}

	if len(files) == 0 {
		log.InfoContext(ctx, "no migration to run",
			"operation", "run_all_pending",
			"watermark", since,
		)
		batch.Description = "no pending migrations"
		return s.finish(ctx, log, batch)
	}

	batch.Items = s.applyFiles(ctx, log, folder, batch.DirectoryKey, files)
	succeeded, _ := batch.Counts()
	batch.Description = fmt.Sprintf("%d of %d pending migration(s) applied", succeeded, len(files))
	return s.finish(ctx, log, batch)
}

// RunSpecific は指定ファイルを実行する。ウォーターマークは確認しないため適用済みでも再実行される。
func (s *MigrationService) RunSpecific(ctx context.Context, fileName, folderName string) (domain.BatchResult, error) {
	if strings.TrimSpace(fileName) == "" {
		return domain.BatchResult{Status: domain.StatusFail, Description: domain.ErrFileNameRequired.Error()}, domain.ErrFileNameRequired
	}
	folder, err := s.folderOrDefault(folderName)
	if err != nil {
		return domain.BatchResult{Status: domain.StatusFail, Description: err.Error()}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.newBatch(folder)
	log := s.logger.With("run_id", batch.RunID, "dir_key", batch.DirectoryKey)

	ctx, span := s.tracer.Start(ctx, "migration.run_specific", trace.WithAttributes(
		attribute.String("migration.run_id", batch.RunID),
		attribute.String("migration.file", fileName),
	))
	defer span.End()

	file, err := s.specificFile(folder, fileName)
	if err != nil {
		batch.Items = []domain.ItemResult{s.failedLookup(ctx, log, batch.DirectoryKey, fileName, domain.DirectionUp, err)}
	} else {
		batch.Items = s.applyFiles(ctx, log, folder, batch.DirectoryKey, []domain.MigrationFile{file})
	}

	if batch.AllSucceeded() {
		batch.Description = fmt.Sprintf("Migration %s executed successfully", fileName)
	} else {
		batch.Description = fmt.Sprintf("Migration %s did not complete, check logs for more details", fileName)
	}
	return s.finish(ctx, log, batch), nil
}

// RevertSpecific は指定ファイルのdownを実行し、成功した場合に履歴を削除する。
func (s *MigrationService) RevertSpecific(ctx context.Context, fileName, folderName string) (domain.BatchResult, error) {
	if strings.TrimSpace(fileName) == "" {
		return domain.BatchResult{Status: domain.StatusFail, Description: domain.ErrFileNameRequired.Error()}, domain.ErrFileNameRequired
	}
	folder, err := s.folderOrDefault(folderName)
	if err != nil {
		return domain.BatchResult{Status: domain.StatusFail, Description: err.Error()}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.newBatch(folder)
	log := s.logger.With("run_id", batch.RunID, "dir_key", batch.DirectoryKey)

	ctx, span := s.tracer.Start(ctx, "migration.revert_specific", trace.WithAttributes(
		attribute.String("migration.run_id", batch.RunID),
		attribute.String("migration.file", fileName),
	))
	defer span.End()

	file, err := s.specificFile(folder, fileName)
	if err != nil {
		batch.Items = []domain.ItemResult{s.failedLookup(ctx, log, batch.DirectoryKey, fileName, domain.DirectionDown, err)}
	} else {
		batch.Items = []domain.ItemResult{s.revertOne(ctx, log, folder, batch.DirectoryKey, file)}
	}

	if batch.AllSucceeded() {
		batch.Description = fmt.Sprintf("Migration %s reverted successfully", fileName)
	} else {
		batch.Description = fmt.Sprintf("Migration %s was not reverted, check logs for more details", fileName)
	}
	return s.finish(ctx, log, batch), nil
}

// RevertAsync はrevertをバックグラウンドで実行し、受付結果だけを即座に返す。
func (s *MigrationService) RevertAsync(ctx context.Context, fileName, folderName string) (domain.BatchResult, error) {
	if strings.TrimSpace(fileName) == "" {
		return domain.BatchResult{Status: domain.StatusFail, Description: domain.ErrFileNameRequired.Error()}, domain.ErrFileNameRequired
	}
	folder, err := s.folderOrDefault(folderName)
	if err != nil {
		return domain.BatchResult{Status: domain.StatusFail, Description: err.Error()}, err
	}

	bgCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result, _ := s.RevertSpecific(bgCtx, fileName, folder)
		s.logger.InfoContext(bgCtx, "revert migration done",
			"operation", "revert_async",
			"file", fileName,
			"run_id", result.RunID,
			"succeeded", result.AllSucceeded(),
		)
	}()

	return domain.BatchResult{
		FolderName:   folder,
		DirectoryKey: s.cfg.DirectoryKey(folder),
		Status:       domain.StatusSuccess,
		Description:  "Request received. check logs for more details.",
		StartedAt:    time.Now().UTC(),
	}, nil
}

// RunOnStartup は起動時実行が有効な場合に未適用マイグレーションをバックグラウンドで実行する。
func (s *MigrationService) RunOnStartup(ctx context.Context) {
	if !s.cfg.RunOnStartup {
		s.logger.InfoContext(ctx, "migration run on startup is disabled")
		return
	}

	s.logger.WarnContext(ctx, "running pending migrations", "folder", s.cfg.FolderName)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result := s.RunAllPending(ctx)
		succeeded, failed := result.Counts()
		s.logger.WarnContext(ctx, "pending migrations done",
			"run_id", result.RunID,
			"succeeded", succeeded,
			"failed", failed,
		)
	}()
}

// Wait はバックグラウンド実行中のマイグレーションの完了を待つ。
func (s *MigrationService) Wait() {
	s.wg.Wait()
}

// GetMigrationStatus はフォルダ内の各ファイルの適用状況を返す。
func (s *MigrationService) GetMigrationStatus(ctx context.Context, folderName string) (*domain.StatusReport, error) {
	folder, err := s.folderOrDefault(folderName)
	if err != nil {
		return nil, err
	}
	dirKey := s.cfg.DirectoryKey(folder)

	dir, err := s.resolve(folder)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migration folder: %w", err)
	}

	files, err := s.catalog.ListAll(dir)
	if err != nil {
		return nil, err
	}

	// 一度も実行していないDBでも状態を返せるよう履歴テーブルを先に用意する
	if err := s.history.EnsureSchema(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to ensure migration history table",
			"operation", "get_migration_status",
			"error", err,
		)
	}

	records, err := s.history.FindByDirKey(ctx, dirKey)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to fetch migration history",
			"operation", "get_migration_status",
			"dir_key", dirKey,
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch migration history: %w", err)
	}

	report := &domain.StatusReport{FolderName: folder, DirectoryKey: dirKey}
	applied := make(map[string]domain.MigrationRecord, len(records))
	for _, rec := range records {
		applied[rec.FileName] = rec
		if !report.HasWatermark || rec.Sequence > report.Watermark {
			report.Watermark = rec.Sequence
			report.HasWatermark = true
		}
	}

	for _, f := range files {
		state := domain.MigrationState{
			FileName: f.FileName,
			Sequence: f.Sequence,
			Status:   domain.MigrationStatusPending,
		}
		if rec, ok := applied[f.FileName]; ok {
			appliedAt := rec.AppliedAt
			state.Status = domain.MigrationStatusApplied
			state.AppliedAt = &appliedAt
		} else if report.HasWatermark && f.Sequence <= report.Watermark {
			state.Status = domain.MigrationStatusIgnored
		}
		report.Migrations = append(report.Migrations, state)
	}

	return report, nil
}

// applyFiles はファイルを順番に適用する。1件の失敗は後続に影響しない。
func (s *MigrationService) applyFiles(ctx context.Context, log *slog.Logger, folder, dirKey string, files []domain.MigrationFile) []domain.ItemResult {
	// テーブルが作れない場合も続行し、各アイテムのrecord失敗として表面化させる
	if err := s.history.EnsureSchema(ctx); err != nil {
		log.WarnContext(ctx, "failed to ensure migration history table",
			"operation", "ensure_schema",
			"error", err,
		)
	}

	items := make([]domain.ItemResult, 0, len(files))
	for _, f := range files {
		items = append(items, s.applyOne(ctx, log, folder, dirKey, f))
	}
	return items
}

// applyOne は1ファイルのup、履歴記録、アーカイブを行う。
func (s *MigrationService) applyOne(ctx context.Context, log *slog.Logger, folder, dirKey string, f domain.MigrationFile) (item domain.ItemResult) {
	start := time.Now()
	item = domain.ItemResult{FileName: f.FileName, Sequence: f.Sequence, Direction: domain.DirectionUp}
	log = log.With("file", f.FileName, "sequence", f.Sequence)

	ctx, span := s.tracer.Start(ctx, "migration.apply", trace.WithAttributes(
		attribute.String("migration.file", f.FileName),
		attribute.Int64("migration.sequence", f.Sequence),
	))
	defer func() {
		item.Duration = time.Since(start)
		s.endItem(span, dirKey, item)
	}()

	unit, err := s.resolveUnit(folder, f, domain.DirectionUp)
	if err != nil {
		log.WarnContext(ctx, "skipping migration, unit could not be resolved",
			"operation", "apply_migration",
			"error", err,
		)
		item.Outcome = domain.OutcomeSkipped
		item.Err = err
		return item
	}

	log.InfoContext(ctx, "running migration", "operation", "apply_migration", "unit", unit.Name)
	if err := s.execute(ctx, unit.Up); err != nil {
		log.ErrorContext(ctx, "failed to run migration",
			"operation", "apply_migration",
			"unit", unit.Name,
			"error", err,
		)
		item.Outcome = domain.OutcomeFailed
		item.Err = fmt.Errorf("%w: %s: %w", domain.ErrExecution, unit.Name, err)
		return item
	}
	item.Outcome = domain.OutcomeApplied
	log.InfoContext(ctx, "successfully ran migration", "operation", "apply_migration", "unit", unit.Name)

	if err := s.history.Record(ctx, dirKey, f.FileName, f.Sequence); err != nil {
		// スキーマ変更は適用済みのまま履歴だけが欠ける。次回のトリガーで再実行される。
		log.WarnContext(ctx, "migration ran but history could not be updated",
			"operation", "record_migration",
			"error", err,
		)
		item.Err = fmt.Errorf("%w: %w", domain.ErrHistoryWrite, err)
		return item
	}
	item.HistoryUpdated = true

	if !s.cfg.Archive.Enabled || s.archiver == nil {
		return item
	}
	if err := s.archiver.Upload(ctx, f.FileName, f.Path); err != nil {
		log.WarnContext(ctx, "unable to upload migration file to archive",
			"operation", "archive_migration",
			"error", err,
		)
		item.Err = fmt.Errorf("%w: %w", domain.ErrArchive, err)
		return item
	}
	item.Archived = true
	log.InfoContext(ctx, "migration file archived", "operation", "archive_migration")
	return item
}

// revertOne は1ファイルのdownと履歴削除を行う。失敗した時点で止める。
func (s *MigrationService) revertOne(ctx context.Context, log *slog.Logger, folder, dirKey string, f domain.MigrationFile) (item domain.ItemResult) {
	start := time.Now()
	item = domain.ItemResult{FileName: f.FileName, Sequence: f.Sequence, Direction: domain.DirectionDown}
	log = log.With("file", f.FileName, "sequence", f.Sequence)

	ctx, span := s.tracer.Start(ctx, "migration.revert", trace.WithAttributes(
		attribute.String("migration.file", f.FileName),
		attribute.Int64("migration.sequence", f.Sequence),
	))
	defer func() {
		item.Duration = time.Since(start)
		s.endItem(span, dirKey, item)
	}()

	unit, err := s.resolveUnit(folder, f, domain.DirectionDown)
	if err != nil {
		log.WarnContext(ctx, "cannot revert migration, unit could not be resolved",
			"operation", "revert_migration",
			"error", err,
		)
		item.Outcome = domain.OutcomeSkipped
		item.Err = err
		return item
	}

	log.InfoContext(ctx, "reverting migration", "operation", "revert_migration", "unit", unit.Name)
	if err := s.execute(ctx, unit.Down); err != nil {
		log.ErrorContext(ctx, "failed to revert migration",
			"operation", "revert_migration",
			"unit", unit.Name,
			"error", err,
		)
		item.Outcome = domain.OutcomeFailed
		item.Err = fmt.Errorf("%w: %s: %w", domain.ErrExecution, unit.Name, err)
		return item
	}
	item.Outcome = domain.OutcomeReverted
	log.InfoContext(ctx, "successfully reverted migration", "operation", "revert_migration", "unit", unit.Name)

	if err := s.history.Delete(ctx, dirKey, f.FileName); err != nil {
		log.ErrorContext(ctx, "unable to delete record from migration history",
			"operation", "delete_migration",
			"error", err,
		)
		item.Err = fmt.Errorf("%w: %w", domain.ErrHistoryWrite, err)
		return item
	}
	item.HistoryUpdated = true
	log.InfoContext(ctx, "migration history record deleted", "operation", "delete_migration")
	return item
}

// resolveUnit はユニットを取得し、指定方向の操作が定義されているか確認する。
// SQLファイルは要求されたフォルダのファイルから、それ以外はフォルダに登録されたユニットから解決する。
func (s *MigrationService) resolveUnit(folder string, f domain.MigrationFile, direction domain.Direction) (registry.Unit, error) {
	var (
		unit registry.Unit
		err  error
	)
	if registry.IsSQLFile(f.FileName) {
		unit, err = registry.LoadSQLUnit(f.Path)
	} else {
		unit, err = s.units.Lookup(folder, f.Sequence)
	}
	if err != nil {
		return registry.Unit{}, fmt.Errorf("%w: %w", domain.ErrUnitResolution, err)
	}

	op := unit.Up
	if direction == domain.DirectionDown {
		op = unit.Down
	}
	if op == nil {
		return registry.Unit{}, fmt.Errorf("%w: %w: %s has no %s operation", domain.ErrUnitResolution, domain.ErrMissingOperation, unit.Name, direction)
	}
	return unit, nil
}

// execute は操作をタイムアウト付きのトランザクション内で実行する。
func (s *MigrationService) execute(ctx context.Context, op registry.Operation) (err error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) (opErr error) {
		defer func() {
			if r := recover(); r != nil {
				opErr = fmt.Errorf("migration panicked: %v", r)
			}
		}()
		return op(ctx, tx)
	})
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", domain.ErrMigrationTimeout, s.cfg.Timeout, err)
	}
	return err
}

// specificFile はファイル名を検証し、ソースディレクトリ上のファイルを返す。
func (s *MigrationService) specificFile(folder, fileName string) (domain.MigrationFile, error) {
	if filepath.Base(fileName) != fileName {
		return domain.MigrationFile{}, fmt.Errorf("%w: %s", domain.ErrInvalidMigrationFile, fileName)
	}

	dir, err := s.resolve(folder)
	if err != nil {
		return domain.MigrationFile{}, fmt.Errorf("failed to resolve migration folder: %w", err)
	}

	path := filepath.Join(dir, fileName)
	if _, err := os.Stat(path); err != nil {
		return domain.MigrationFile{}, fmt.Errorf("%w: %s", domain.ErrMigrationFileNotFound, path)
	}

	seq, err := domain.ParseSequence(fileName)
	if err != nil {
		return domain.MigrationFile{}, fmt.Errorf("%w: %w", domain.ErrUnitResolution, err)
	}

	return domain.MigrationFile{FileName: fileName, Sequence: seq, Path: path}, nil
}

// failedLookup はファイルを特定できなかった場合のアイテム結果を作る。
func (s *MigrationService) failedLookup(ctx context.Context, log *slog.Logger, dirKey, fileName string, direction domain.Direction, err error) domain.ItemResult {
	log.ErrorContext(ctx, "migration file could not be located",
		"operation", string(direction),
		"file", fileName,
		"error", err,
	)
	item := domain.ItemResult{
		FileName:  fileName,
		Direction: direction,
		Outcome:   domain.OutcomeSkipped,
		Err:       err,
	}
	s.metrics.ObserveItem(dirKey, direction, string(item.Outcome), 0)
	return item
}

func (s *MigrationService) endItem(span trace.Span, dirKey string, item domain.ItemResult) {
	outcome := string(item.Outcome)
	if item.Outcome != domain.OutcomeSkipped && item.Outcome != domain.OutcomeFailed && !item.HistoryUpdated {
		outcome = "history_failed"
	}
	s.metrics.ObserveItem(dirKey, item.Direction, outcome, item.Duration)

	span.SetAttributes(attribute.String("migration.outcome", outcome))
	if item.Err != nil {
		span.RecordError(item.Err)
	}
	if !item.Succeeded() {
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}

// folderOrDefault は空の場合に設定フォルダを補い、フォルダ名を検証する。
func (s *MigrationService) folderOrDefault(folderName string) (string, error) {
	folder := strings.TrimSpace(folderName)
	if folder == "" {
		folder = s.cfg.FolderName
	}
	if err := domain.ValidateFolderName(folder); err != nil {
		return "", err
	}
	return folder, nil
}

func (s *MigrationService) newBatch(folder string) domain.BatchResult {
	return domain.BatchResult{
		RunID:        uuid.NewString(),
		FolderName:   folder,
		DirectoryKey: s.cfg.DirectoryKey(folder),
		Status:       domain.StatusSuccess,
		StartedAt:    time.Now().UTC(),
	}
}

func (s *MigrationService) finish(ctx context.Context, log *slog.Logger, batch domain.BatchResult) domain.BatchResult {
	batch.FinishedAt = time.Now().UTC()
	succeeded, failed := batch.Counts()
	log.InfoContext(ctx, "migration batch finished",
		"folder", batch.FolderName,
		"succeeded", succeeded,
		"failed", failed,
		"duration", batch.FinishedAt.Sub(batch.StartedAt).String(),
	)
	return batch
}
