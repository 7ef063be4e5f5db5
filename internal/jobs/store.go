package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/cad-forge/internal/convert"
)

const (
	jobKeyPrefix      = "job:"
	jobIndexKey       = "jobs:index"
	completedCountKey = "jobs:completed"
)

// ErrJobNotFound はレコードが存在しないかTTLで失効済みであることを示します。
var ErrJobNotFound = errors.New("job not found")

// Store はジョブレコードのRedisストアです。
// queued/running のレコードは保持期限を持たず、失効することはありません。
// done/failed に到達した時点で保持期間のTTLが付き、期間を過ぎると
// 自動的に消えます。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore はRedis接続URLからストアを初期化します。
func NewStore(redisURL string, ttl time.Duration) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &Store{rdb: redis.NewClient(opt), ttl: ttl}, nil
}

// NewStoreWithClient はテスト用に既存のクライアントからストアを作ります。
func NewStoreWithClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: client, ttl: ttl}
}

// Ping は接続確認を行います。起動時のヘルスチェックに使います。
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close はRedis接続を閉じます。
func (s *Store) Close() error {
	return s.rdb.Close()
}

func jobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

// Put はレコードを新規保存し、一覧用インデックスに登録します。
// 新規レコードはqueuedなのでTTLを付けません。
func (s *Store) Put(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(rec.JobID), data, 0)
	pipe.ZAdd(ctx, jobIndexKey, redis.Z{
		Score:  float64(rec.CreatedAt.UnixMilli()),
		Member: rec.JobID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store job record: %w", err)
	}
	return nil
}

// Get はレコードを取得します。存在しない場合は ErrJobNotFound を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse job record: %w", err)
	}
	return &rec, nil
}

// update はレコードを読み出し、mutate を適用して書き戻します。
// Watchで楽観ロックし、並行更新があれば最大3回やり直します。
func (s *Store) update(ctx context.Context, jobID string, mutate func(*Record)) error {
	key := jobKey(jobID)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to parse job record: %w", err)
		}

		mutate(&rec)
		rec.UpdatedAt = time.Now().UTC()

		// 保持期間は終端状態に到達してから数え始める。
		// queued/running のレコードにTTLは付かないため、待機が長引いても失効しない。
		ttl := time.Duration(0)
		if s.ttl > 0 && (rec.Status == StatusDone || rec.Status == StatusFailed) {
			ttl = s.ttl
			rec.ExpiresAt = rec.UpdatedAt.Add(s.ttl)
		}

		updated, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to marshal job record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, ttl)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < 3; i++ {
		err = s.rdb.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// MarkRunning はレコードをrunning状態に進めます。
func (s *Store) MarkRunning(ctx context.Context, jobID string) error {
	return s.update(ctx, jobID, func(rec *Record) {
		rec.Status = StatusRunning
	})
}

// AppendStage はステージの実行記録を追記します。
func (s *Store) AppendStage(ctx context.Context, jobID string, entry convert.StageEntry) error {
	return s.update(ctx, jobID, func(rec *Record) {
		rec.StageLog = append(rec.StageLog, entry)
	})
}

// MarkDone はレコードをdone状態にし、成果物情報を記録します。
func (s *Store) MarkDone(ctx context.Context, jobID string, outputFilename string, outputSize int64) error {
	err := s.update(ctx, jobID, func(rec *Record) {
		now := time.Now().UTC()
		rec.Status = StatusDone
		rec.OutputFilename = outputFilename
		rec.OutputSize = outputSize
		rec.Error = nil
		rec.CompletedAt = &now
	})
	if err != nil {
		return err
	}
	return s.rdb.Incr(ctx, completedCountKey).Err()
}

// MarkFailed はレコードをfailed状態にし、エラー内容を記録します。
func (s *Store) MarkFailed(ctx context.Context, jobID string, code, message string) error {
	return s.update(ctx, jobID, func(rec *Record) {
		now := time.Now().UTC()
		rec.Status = StatusFailed
		rec.Error = &ErrorInfo{Code: code, Message: message}
		rec.CompletedAt = &now
	})
}

// List は新しい順にジョブ一覧を返します。TTLで失効したレコードは
// インデックスから除去したうえでスキップします。
func (s *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.rdb.ZRevRange(ctx, jobIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			s.rdb.ZRem(ctx, jobIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Delete はレコードとインデックスエントリを削除します。
func (s *Store) Delete(ctx context.Context, jobID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, jobKey(jobID))
	pipe.ZRem(ctx, jobIndexKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete job record: %w", err)
	}
	return nil
}

// Counts はステータス別のジョブ数と累計完了数を返します。
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	records, err := s.List(ctx, 1000)
	if err != nil {
		return nil, err
	}
	counts := map[string]int64{
		string(StatusQueued):  0,
		string(StatusRunning): 0,
		string(StatusDone):    0,
		string(StatusFailed):  0,
	}
	for _, rec := range records {
		counts[string(rec.Status)]++
	}

	completed, err := s.rdb.Get(ctx, completedCountKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read completed counter: %w", err)
	}
	counts["completed_total"] = completed
	return counts, nil
}
