package domain

import "time"

// Status はリクエスト単位の結果ステータス。
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFail    Status = "FAIL"
)

// Direction はマイグレーションの実行方向。
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// ItemOutcome は1ファイル分の実行結果。
type ItemOutcome string

const (
	OutcomeApplied  ItemOutcome = "applied"
	OutcomeReverted ItemOutcome = "reverted"
	OutcomeSkipped  ItemOutcome = "skipped" // ユニット解決失敗
	OutcomeFailed   ItemOutcome = "failed"  // up/downの実行失敗
)

// ItemResult はバッチ内の1ファイルの結果。
type ItemResult struct {
	FileName       string
	Sequence       int64
	Direction      Direction
	Outcome        ItemOutcome
	HistoryUpdated bool // up後のrecord、down後のdeleteが成功したか
	Archived       bool
	Err            error
	Duration       time.Duration
}

// Succeeded はスキーマ変更と履歴更新の両方が成功したかを返す。
// アーカイブ失敗は成否に含めない。
func (r ItemResult) Succeeded() bool {
	return (r.Outcome == OutcomeApplied || r.Outcome == OutcomeReverted) && r.HistoryUpdated
}

// BatchResult はRunAllPending/RunSpecific/Revert*の結果。
// Statusは開始できた時点でSUCCESSとなり、個別の失敗はItemsで確認する。
type BatchResult struct {
	RunID        string
	FolderName   string
	DirectoryKey string
	Status       Status
	Description  string
	Items        []ItemResult
	StartedAt    time.Time
	FinishedAt   time.Time
}

// AllSucceeded は全アイテムが成功したかを返す。厳格な呼び出し元向け。
func (b BatchResult) AllSucceeded() bool {
	for _, item := range b.Items {
		if !item.Succeeded() {
			return false
		}
	}
	return true
}

// Counts は成功数と失敗数を返す。
func (b BatchResult) Counts() (succeeded, failed int) {
	for _, item := range b.Items {
		if item.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}
