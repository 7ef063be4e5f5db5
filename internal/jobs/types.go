// Package jobs は変換ジョブのレコード管理と非同期実行を提供します。
// ジョブの状態はRedisに保存され、ワーカーはasynq経由でジョブを処理します。
package jobs

import (
	"time"

	"github.com/yourusername/cad-forge/internal/convert"
)

// Status はジョブの状態です。queued → running → done/failed と遷移します。
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// ErrorInfo は失敗したジョブのエラー内容です。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブ1件分のレコードです。Redisには1件丸ごとJSONで保存され、
// 更新は常にレコード全体の置き換えで行われます。
type Record struct {
	JobID        string               `json:"jobId"`
	InputFile    string               `json:"inputFile"`
	InputFormat  convert.InputFormat  `json:"inputFormat"`
	OutputFormat convert.OutputFormat `json:"outputFormat"`
	Status       Status               `json:"status"`
	StageLog     []convert.StageEntry `json:"stageLog,omitempty"`

	OutputFilename string     `json:"outputFilename,omitempty"`
	OutputSize     int64      `json:"outputSize,omitempty"`
	Error          *ErrorInfo `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ExpiresAt   time.Time  `json:"expiresAt,omitzero"`
}

// Downloadable はジョブの成果物がダウンロード可能かを返します。
func (r *Record) Downloadable() bool {
	return r.Status == StatusDone
}

// NewRecord はマニフェストからqueued状態のレコードを作ります。
func NewRecord(manifest *convert.JobManifest) *Record {
	now := time.Now().UTC()
	return &Record{
		JobID:        manifest.JobID,
		InputFile:    manifest.OriginalName,
		InputFormat:  manifest.InputFormat,
		OutputFormat: manifest.Settings.OutputFormat,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
