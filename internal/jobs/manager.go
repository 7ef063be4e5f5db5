package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/cad-forge/internal/config"
	"github.com/yourusername/cad-forge/internal/convert"
)

// TaskTypeConvert は変換ジョブのasynqタスク種別です。
const TaskTypeConvert = "convert:run"

const queueName = "convert"

type convertPayload struct {
	JobID string `json:"jobId"`
}

// Manager はジョブの投入・実行・記録をまとめて担います。
// convert.JobScheduler と convert.JobTracker の両方を実装し、
// 同期・非同期どちらの経路からも同じレコードが残るようにします。
type Manager struct {
	svc    *convert.Service
	store  *Store
	client *asynq.Client
	server *asynq.Server
	logger *log.Logger

	convertTimeout time.Duration
}

// NewManager は asynq のクライアントとワーカーサーバーを初期化します。
// ワーカーの並列数は設定の WorkerCount に従い、これが外部ツールの
// 同時プロセス数の上限になります。ジョブの自動リトライは行いません。
func NewManager(cfg *config.Config, svc *convert.Service, store *Store, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Default()
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid queue redis url: %w", err)
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.WorkerCount,
		Queues:      map[string]int{queueName: 1},
	})

	return &Manager{
		svc:            svc,
		store:          store,
		client:         asynq.NewClient(opt),
		server:         server,
		logger:         logger,
		convertTimeout: time.Duration(cfg.ToolTimeoutSeconds) * time.Second * 2,
	}, nil
}

// StartWorkers はワーカーサーバーを起動します。
func (m *Manager) StartWorkers() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeConvert, m.handleConvertTask)
	return m.server.Start(mux)
}

// Shutdown はワーカーを止め、接続を閉じます。
func (m *Manager) Shutdown() {
	m.server.Shutdown()
	if err := m.client.Close(); err != nil {
		m.logger.Printf("failed to close asynq client: %v", err)
	}
}

// Store はジョブレコードストアを返します。
func (m *Manager) Store() *Store {
	return m.store
}

// Enqueue はジョブをキューに投入します。リトライ回数は0です。
// 失敗したジョブの再実行は、クライアントが新しいジョブとして
// 再アップロードすることで行います。
func (m *Manager) Enqueue(ctx context.Context, manifest *convert.JobManifest) error {
	payload, err := json.Marshal(convertPayload{JobID: manifest.JobID})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}
	task := asynq.NewTask(TaskTypeConvert, payload)
	_, err = m.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.MaxRetry(0),
		asynq.Timeout(m.convertTimeout+time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// handleConvertTask はワーカー側のジョブ実行本体です。
// 変換の失敗はレコードに記録して正常終了扱いにします（再試行させない）。
func (m *Manager) handleConvertTask(ctx context.Context, task *asynq.Task) error {
	var payload convertPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid task payload: %w", err)
	}
	jobID := payload.JobID

	if err := m.store.MarkRunning(ctx, jobID); err != nil {
		m.logger.Printf("[job %s] failed to mark running: %v", jobID, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, m.convertTimeout)
	defer cancel()

	reporter := func(entry convert.StageEntry) {
		if err := m.store.AppendStage(context.Background(), jobID, entry); err != nil {
			m.logger.Printf("[job %s] failed to record stage: %v", jobID, err)
		}
	}
	result, err := m.svc.RunJob(runCtx, jobID, reporter)
	if err != nil {
		info := errorInfoFrom(err)
		m.logger.Printf("[job %s] failed: %s (%s)", jobID, info.Message, info.Code)
		if err := m.store.MarkFailed(context.Background(), jobID, info.Code, info.Message); err != nil {
			m.logger.Printf("[job %s] failed to mark failed: %v", jobID, err)
		}
		return nil
	}

	if err := m.store.MarkDone(context.Background(), jobID, result.OutputFilename, result.OutputSize); err != nil {
		m.logger.Printf("[job %s] failed to mark done: %v", jobID, err)
	}
	return nil
}

// ----- convert.JobTracker 実装 -----

func (m *Manager) TrackQueued(ctx context.Context, manifest *convert.JobManifest) error {
	return m.store.Put(ctx, NewRecord(manifest))
}

func (m *Manager) TrackRunning(ctx context.Context, jobID string) {
	if err := m.store.MarkRunning(ctx, jobID); err != nil {
		m.logger.Printf("[job %s] failed to mark running: %v", jobID, err)
	}
}

func (m *Manager) TrackStage(ctx context.Context, jobID string, entry convert.StageEntry) {
	if err := m.store.AppendStage(ctx, jobID, entry); err != nil {
		m.logger.Printf("[job %s] failed to record stage: %v", jobID, err)
	}
}

func (m *Manager) TrackDone(ctx context.Context, jobID string, result *convert.Result) {
	if err := m.store.MarkDone(ctx, jobID, result.OutputFilename, result.OutputSize); err != nil {
		m.logger.Printf("[job %s] failed to mark done: %v", jobID, err)
	}
}

func (m *Manager) TrackFailed(ctx context.Context, jobID string, err error) {
	info := errorInfoFrom(err)
	if err := m.store.MarkFailed(ctx, jobID, info.Code, info.Message); err != nil {
		m.logger.Printf("[job %s] failed to mark failed: %v", jobID, err)
	}
}

// errorInfoFrom はエラーをレコード用のコードとメッセージに分類します。
func errorInfoFrom(err error) ErrorInfo {
	var validationErr *convert.ValidationError
	if errors.As(err, &validationErr) {
		return ErrorInfo{Code: convert.CodeValidation, Message: validationErr.Error()}
	}
	var convErr *convert.Error
	if errors.As(err, &convErr) {
		return ErrorInfo{Code: convErr.Code, Message: convErr.Message}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorInfo{Code: convert.CodeTimeout, Message: "変換処理が制限時間内に完了しませんでした。"}
	}
	return ErrorInfo{Code: convert.CodeInternal, Message: "内部エラーが発生しました。"}
}
