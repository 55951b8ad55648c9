// Package handler はHTTPハンドラを提供する。
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"migration-service/internal/domain"
	"migration-service/internal/middleware"
	"migration-service/pkg/httputil"
)

// MigrationRunner はハンドラから呼び出すマイグレーション操作。
type MigrationRunner interface {
	RunAllPending(ctx context.Context) domain.BatchResult
	RunSpecific(ctx context.Context, fileName, folderName string) (domain.BatchResult, error)
	RevertSpecific(ctx context.Context, fileName, folderName string) (domain.BatchResult, error)
	RevertAsync(ctx context.Context, fileName, folderName string) (domain.BatchResult, error)
	GetMigrationStatus(ctx context.Context, folderName string) (*domain.StatusReport, error)
}

// RequestObserver はAPIリクエストの結果を記録する。
type RequestObserver interface {
	ObserveRequest(operation string, status domain.Status)
}

// MigrationHandler はマイグレーションAPIのHTTPハンドラを提供する。
type MigrationHandler struct {
	runner   MigrationRunner
	observer RequestObserver
}

// NewMigrationHandler は新しいMigrationHandlerを生成する。observerはnilでもよい。
func NewMigrationHandler(runner MigrationRunner, observer RequestObserver) *MigrationHandler {
	return &MigrationHandler{runner: runner, observer: observer}
}

// MigrationRequest はrun-specific/revertのリクエストボディ。
type MigrationRequest struct {
	MigrationFileName   string `json:"migration_file_name"`
	MigrationFolderName string `json:"migration_folder_name"`
	Async               bool   `json:"async,omitempty"`
}

// MigrationResponse はマイグレーション操作のレスポンス形式。
type MigrationResponse struct {
	Msg         string         `json:"msg"`
	Description string         `json:"description"`
	Data        *BatchResponse `json:"data,omitempty"`
}

// BatchResponse はバッチ結果のレスポンス形式。
type BatchResponse struct {
	RunID        string         `json:"run_id,omitempty"`
	FolderName   string         `json:"folder_name"`
	DirectoryKey string         `json:"dir_key"`
	Items        []ItemResponse `json:"items"`
	StartedAt    string         `json:"started_at"`
	FinishedAt   string         `json:"finished_at,omitempty"`
}

// ItemResponse はアイテム結果のレスポンス形式。
type ItemResponse struct {
	FileName       string `json:"file_name"`
	Sequence       int64  `json:"sequence"`
	Direction      string `json:"direction"`
	Outcome        string `json:"outcome"`
	HistoryUpdated bool   `json:"history_updated"`
	Archived       bool   `json:"archived"`
	Error          string `json:"error,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
}

// StatusResponse はステータスのレスポンス形式。
type StatusResponse struct {
	FolderName   string          `json:"folder_name"`
	DirectoryKey string          `json:"dir_key"`
	Watermark    *int64          `json:"watermark"`
	Migrations   []StateResponse `json:"migrations"`
}

// StateResponse はファイル単位の状態のレスポンス形式。
type StateResponse struct {
	FileName  string `json:"file_name"`
	Sequence  int64  `json:"sequence"`
	Status    string `json:"status"`
	AppliedAt string `json:"applied_at,omitempty"`
}

// RunMigrations は未適用のマイグレーションを全て実行する。
func (h *MigrationHandler) RunMigrations(w http.ResponseWriter, r *http.Request) {
	result := h.runner.RunAllPending(r.Context())

	h.audit(r.Context(), "RUN_MIGRATIONS", result, "")
	httputil.JSON(w, http.StatusOK, toMigrationResponse(result))
}

// RunSpecificMigration は指定したマイグレーションを実行する。
func (h *MigrationHandler) RunSpecificMigration(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r, "RUN_SPECIFIC_MIGRATION")
	if !ok {
		return
	}

	result, err := h.runner.RunSpecific(r.Context(), req.MigrationFileName, req.MigrationFolderName)
	if err != nil {
		h.fail(w, r, "RUN_SPECIFIC_MIGRATION", req, err)
		return
	}

	h.audit(r.Context(), "RUN_SPECIFIC_MIGRATION", result, req.MigrationFileName)
	httputil.JSON(w, http.StatusOK, toMigrationResponse(result))
}

// RevertMigration は指定したマイグレーションを取り消す。asyncの場合は受付のみ行う。
func (h *MigrationHandler) RevertMigration(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r, "REVERT_MIGRATION")
	if !ok {
		return
	}

	if req.Async {
		result, err := h.runner.RevertAsync(r.Context(), req.MigrationFileName, req.MigrationFolderName)
		if err != nil {
			h.fail(w, r, "REVERT_MIGRATION", req, err)
			return
		}
		h.audit(r.Context(), "REVERT_MIGRATION_ASYNC", result, req.MigrationFileName)
		httputil.JSON(w, http.StatusAccepted, MigrationResponse{
			Msg:         string(result.Status),
			Description: result.Description,
		})
		return
	}

	result, err := h.runner.RevertSpecific(r.Context(), req.MigrationFileName, req.MigrationFolderName)
	if err != nil {
		h.fail(w, r, "REVERT_MIGRATION", req, err)
		return
	}

	h.audit(r.Context(), "REVERT_MIGRATION", result, req.MigrationFileName)
	httputil.JSON(w, http.StatusOK, toMigrationResponse(result))
}

// GetStatus はフォルダ内のマイグレーションの適用状況を返す。
func (h *MigrationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	if folder != "" && domain.ValidateFolderName(folder) != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_FOLDER_NAME", "invalid migration folder name")
		return
	}

	report, err := h.runner.GetMigrationStatus(r.Context(), folder)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidFolderName) {
			httputil.Error(w, http.StatusBadRequest, "INVALID_FOLDER_NAME", "invalid migration folder name")
			return
		}
		if errors.Is(err, domain.ErrDirectoryNotFound) {
			httputil.Error(w, http.StatusNotFound, "FOLDER_NOT_FOUND", "migration folder not found")
			return
		}
		if errors.Is(err, domain.ErrDuplicateSequence) {
			httputil.Error(w, http.StatusConflict, "DUPLICATE_SEQUENCE", err.Error())
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	resp := StatusResponse{
		FolderName:   report.FolderName,
		DirectoryKey: report.DirectoryKey,
		Migrations:   make([]StateResponse, len(report.Migrations)),
	}
	if report.HasWatermark {
		wm := report.Watermark
		resp.Watermark = &wm
	}
	for i, m := range report.Migrations {
		resp.Migrations[i] = StateResponse{
			FileName: m.FileName,
			Sequence: m.Sequence,
			Status:   string(m.Status),
		}
		if m.AppliedAt != nil {
			resp.Migrations[i].AppliedAt = m.AppliedAt.Format(time.RFC3339)
		}
	}
	httputil.JSON(w, http.StatusOK, resp)
}

func (h *MigrationHandler) decodeRequest(w http.ResponseWriter, r *http.Request, operation string) (MigrationRequest, bool) {
	var req MigrationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.observe(operation, domain.StatusFail)
		httputil.JSON(w, http.StatusBadRequest, MigrationResponse{
			Msg:         string(domain.StatusFail),
			Description: "invalid request body",
		})
		return req, false
	}
	if req.MigrationFolderName != "" && domain.ValidateFolderName(req.MigrationFolderName) != nil {
		h.observe(operation, domain.StatusFail)
		httputil.JSON(w, http.StatusBadRequest, MigrationResponse{
			Msg:         string(domain.StatusFail),
			Description: "invalid migration folder name",
		})
		return req, false
	}
	return req, true
}

func (h *MigrationHandler) fail(w http.ResponseWriter, r *http.Request, operation string, req MigrationRequest, err error) {
	middleware.WriteAuditLog(r.Context(), middleware.AuditLog{
		Operation:  operation,
		FolderName: req.MigrationFolderName,
		FileName:   req.MigrationFileName,
		Result:     string(domain.StatusFail),
	})
	h.observe(operation, domain.StatusFail)

	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrFileNameRequired) || errors.Is(err, domain.ErrInvalidFolderName) {
		status = http.StatusBadRequest
	}
	httputil.JSON(w, status, MigrationResponse{
		Msg:         string(domain.StatusFail),
		Description: err.Error(),
	})
}

func (h *MigrationHandler) audit(ctx context.Context, operation string, result domain.BatchResult, fileName string) {
	middleware.WriteAuditLog(ctx, middleware.AuditLog{
		Operation:  operation,
		FolderName: result.FolderName,
		FileName:   fileName,
		RunID:      result.RunID,
		Result:     string(result.Status),
	})
	h.observe(operation, result.Status)
}

func (h *MigrationHandler) observe(operation string, status domain.Status) {
	if h.observer != nil {
		h.observer.ObserveRequest(operation, status)
	}
}

func toMigrationResponse(result domain.BatchResult) MigrationResponse {
	data := &BatchResponse{
		RunID:        result.RunID,
		FolderName:   result.FolderName,
		DirectoryKey: result.DirectoryKey,
		Items:        make([]ItemResponse, len(result.Items)),
		StartedAt:    result.StartedAt.Format(time.RFC3339),
	}
	if !result.FinishedAt.IsZero() {
		data.FinishedAt = result.FinishedAt.Format(time.RFC3339)
	}
	for i, item := range result.Items {
		data.Items[i] = ItemResponse{
			FileName:       item.FileName,
			Sequence:       item.Sequence,
			Direction:      string(item.Direction),
			Outcome:        string(item.Outcome),
			HistoryUpdated: item.HistoryUpdated,
			Archived:       item.Archived,
			DurationMs:     item.Duration.Milliseconds(),
		}
		if item.Err != nil {
			data.Items[i].Error = item.Err.Error()
		}
	}

	return MigrationResponse{
		Msg:         string(result.Status),
		Description: result.Description,
		Data:        data,
	}
}
