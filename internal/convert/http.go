package convert

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// JobScheduler は非同期変換のキュー投入を抽象化します。
type JobScheduler interface {
	Enqueue(ctx context.Context, manifest *JobManifest) error
}

// JobTracker はジョブレコードの記録を抽象化します。
// 同期・非同期どちらの経路でもジョブは同じように記録されます。
type JobTracker interface {
	TrackQueued(ctx context.Context, manifest *JobManifest) error
	TrackRunning(ctx context.Context, jobID string)
	TrackStage(ctx context.Context, jobID string, entry StageEntry)
	TrackDone(ctx context.Context, jobID string, result *Result)
	TrackFailed(ctx context.Context, jobID string, err error)
}

// Handler は変換APIのHTTPハンドラ群です。
type Handler struct {
	svc         *Service
	scheduler   JobScheduler
	tracker     JobTracker
	syncTimeout time.Duration
	logger      *log.Logger
}

// NewHandler は Handler を初期化します。scheduler が nil の場合、
// 非同期エンドポイントは 503 を返します。
func NewHandler(svc *Service, scheduler JobScheduler, tracker JobTracker, syncTimeout time.Duration, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		svc:         svc,
		scheduler:   scheduler,
		tracker:     tracker,
		syncTimeout: syncTimeout,
		logger:      logger,
	}
}

// Convert は同期変換を処理します。変換が完了するまで待ち、
// 成果物をそのままレスポンスボディとして返します。
func (h *Handler) Convert(c *gin.Context) {
	manifest, ok := h.prepare(c)
	if !ok {
		return
	}
	jobID := manifest.JobID

	if h.tracker != nil {
		h.tracker.TrackRunning(c.Request.Context(), jobID)
	}

	ctx := c.Request.Context()
	if h.syncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.syncTimeout)
		defer cancel()
	}

	reporter := func(entry StageEntry) {
		if h.tracker != nil {
			h.tracker.TrackStage(context.Background(), jobID, entry)
		}
	}
	result, err := h.svc.RunJob(ctx, jobID, reporter)
	if err != nil {
		if h.tracker != nil {
			h.tracker.TrackFailed(context.Background(), jobID, err)
		}
		respondWithError(c, err)
		return
	}
	if h.tracker != nil {
		h.tracker.TrackDone(context.Background(), jobID, result)
	}

	h.streamResult(c, result)
}

// ConvertAsync はジョブをキューに積み、202とジョブIDを返します。
func (h *Handler) ConvertAsync(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{
				"code":    CodeInternal,
				"message": "非同期変換は現在利用できません。",
			},
		})
		return
	}

	manifest, ok := h.prepare(c)
	if !ok {
		return
	}

	if err := h.scheduler.Enqueue(c.Request.Context(), manifest); err != nil {
		h.logger.Printf("[job %s] enqueue failed: %v", manifest.JobID, err)
		if h.tracker != nil {
			h.tracker.TrackFailed(c.Request.Context(), manifest.JobID,
				newError(CodeInternal, "ジョブをキューに投入できませんでした。", err))
		}
		_ = h.svc.DiscardJob(manifest.JobID)
		respondWithError(c, newError(CodeInternal, "ジョブをキューに投入できませんでした。", err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": manifest.JobID,
		"status": "queued",
	})
}

// Formats は対応フォーマットと現在の能力セットを返します。
func (h *Handler) Formats(c *gin.Context) {
	caps := h.svc.Probe().Capabilities()
	capabilities := make(map[string]bool, len(caps))
	for cap, ok := range caps {
		capabilities[string(cap)] = ok
	}
	c.JSON(http.StatusOK, gin.H{
		"input_formats":  ConvertibleInputFormats,
		"output_formats": OutputFormats,
		"capabilities":   capabilities,
	})
}

// prepare はアップロードと設定を受け付けてジョブを作成します。
// 失敗時はエラー応答まで済ませ、ok=false を返します。
func (h *Handler) prepare(c *gin.Context) (*JobManifest, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondWithError(c, newError(CodeInvalidInput,
			"multipart/form-data の file フィールドが必要です。", err))
		return nil, false
	}
	rawSettings := []byte(c.PostForm("settings_json"))

	manifest, err := h.svc.PrepareConvertJob(fileHeader, rawSettings)
	if err != nil {
		respondWithError(c, err)
		return nil, false
	}

	if h.tracker != nil {
		if err := h.tracker.TrackQueued(c.Request.Context(), manifest); err != nil {
			h.logger.Printf("[job %s] failed to record job: %v", manifest.JobID, err)
			_ = h.svc.DiscardJob(manifest.JobID)
			respondWithError(c, newError(CodeInternal, "ジョブを記録できませんでした。", err))
			return nil, false
		}
	}
	return manifest, true
}

// streamResult は成果物をダウンロード応答として流します。
func (h *Handler) streamResult(c *gin.Context, result *Result) {
	_, file, err := h.svc.OpenResultFile(result.JobID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	defer file.Close()

	c.Header("Content-Disposition", `attachment; filename="`+result.OutputFilename+`"`)
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", result.JobID)
	c.DataFromReader(http.StatusOK, result.OutputSize, result.ContentType(), file, nil)
}

// respondWithError はドメインエラーをHTTPステータスに対応付けて返します。
func respondWithError(c *gin.Context, err error) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    CodeValidation,
				"message": "設定の値が不正です。",
				"fields":  validationErr.Fields,
			},
		})
		return
	}

	code := CodeInternal
	message := "内部エラーが発生しました。"
	var convErr *Error
	if errors.As(err, &convErr) {
		code = convErr.Code
		message = convErr.Message
	}

	status := http.StatusInternalServerError
	switch code {
	case CodeInvalidInput, CodeFormatUnrecognized, CodeSettingsJSON, CodeValidation:
		status = http.StatusBadRequest
	case CodeLimitExceeded:
		status = http.StatusRequestEntityTooLarge
	case CodeToolUnavailable, CodeStageFailed:
		status = http.StatusUnprocessableEntity
	case CodeTimeout:
		status = http.StatusGatewayTimeout
	}

	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
