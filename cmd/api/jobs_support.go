package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/cad-forge/internal/config"
	"github.com/yourusername/cad-forge/internal/convert"
	"github.com/yourusername/cad-forge/internal/jobs"
)

// jobRuntime は非同期ジョブ基盤（Redisストア + asynqワーカー）の束です。
type jobRuntime struct {
	manager *jobs.Manager
	store   *jobs.Store
}

func (r *jobRuntime) shutdown() {
	r.manager.Shutdown()
	if err := r.store.Close(); err != nil {
		log.Printf("failed to close job store: %v", err)
	}
}

// setupJobs はジョブストアとワーカーを起動します。Redisに接続できない
// 場合は nil を返し、サーバーは同期変換のみで動作します。
func setupJobs(cfg *config.Config, svc *convert.Service, logger *log.Logger) *jobRuntime {
	ttl := time.Duration(cfg.JobExpireMinutes) * time.Minute
	store, err := jobs.NewStore(cfg.QueueRedisURL, ttl)
	if err != nil {
		logger.Printf("job store disabled: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		logger.Printf("job store disabled (redis unreachable): %v", err)
		_ = store.Close()
		return nil
	}

	manager, err := jobs.NewManager(cfg, svc, store, logger)
	if err != nil {
		logger.Printf("job workers disabled: %v", err)
		_ = store.Close()
		return nil
	}
	if err := manager.StartWorkers(); err != nil {
		logger.Printf("failed to start job workers: %v", err)
		_ = store.Close()
		return nil
	}

	logger.Printf("job workers started (concurrency: %d)", cfg.WorkerCount)
	return &jobRuntime{manager: manager, store: store}
}

// statusHandler はサービス全体の状態を返します。
func statusHandler(svc *convert.Service, runtime *jobRuntime, startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		caps := svc.Probe().Capabilities()
		capabilities := make(map[string]bool, len(caps))
		for cap, ok := range caps {
			capabilities[string(cap)] = ok
		}

		resp := gin.H{
			"service":      "cad-forge-api",
			"version":      serviceVersion,
			"uptime":       time.Since(startedAt).Round(time.Second).String(),
			"capabilities": capabilities,
			"queue":        runtime != nil,
		}
		if runtime != nil {
			if counts, err := runtime.store.Counts(c.Request.Context()); err == nil {
				resp["jobs"] = counts
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// jobListHandler はジョブ一覧を新しい順に返します。
func jobListHandler(store *jobs.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
				limit = parsed
			}
		}

		records, err := store.List(c.Request.Context(), limit)
		if err != nil {
			jobError(c, http.StatusInternalServerError, convert.CodeInternal,
				"ジョブ一覧を取得できませんでした。")
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": records, "count": len(records)})
	}
}

// jobStatusHandler はジョブ1件の状態を返します。
func jobStatusHandler(store *jobs.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := loadJob(c, store)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// jobDownloadHandler は完了済みジョブの成果物を返します。
// 未完了のジョブは409、失効・不明なジョブは404になります。
func jobDownloadHandler(store *jobs.Store, svc *convert.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := loadJob(c, store)
		if !ok {
			return
		}
		if !rec.Downloadable() {
			jobError(c, http.StatusConflict, convert.CodeNotReady,
				"ジョブはまだ完了していません。")
			return
		}

		result, file, err := svc.OpenResultFile(rec.JobID)
		if err != nil {
			// レコードはあるが成果物が保持期限切れで消えている場合
			jobError(c, http.StatusNotFound, convert.CodeNotFound,
				"成果物は保持期限を過ぎて削除されています。")
			return
		}
		defer file.Close()

		c.Header("Content-Disposition", `attachment; filename="`+result.OutputFilename+`"`)
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", result.JobID)
		c.DataFromReader(http.StatusOK, result.OutputSize, result.ContentType(), file, nil)
	}
}

// jobDeleteHandler はジョブレコードと成果物を削除します。
// 実行中・待機中のジョブは削除できません。
func jobDeleteHandler(store *jobs.Store, svc *convert.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := loadJob(c, store)
		if !ok {
			return
		}
		if rec.Status == jobs.StatusQueued || rec.Status == jobs.StatusRunning {
			jobError(c, http.StatusConflict, convert.CodeNotReady,
				"実行中のジョブは削除できません。")
			return
		}

		if err := store.Delete(c.Request.Context(), rec.JobID); err != nil {
			jobError(c, http.StatusInternalServerError, convert.CodeInternal,
				"ジョブを削除できませんでした。")
			return
		}
		if err := svc.DiscardJob(rec.JobID); err != nil {
			log.Printf("[job %s] failed to remove workspace: %v", rec.JobID, err)
		}
		c.JSON(http.StatusOK, gin.H{"job_id": rec.JobID, "deleted": true})
	}
}

func loadJob(c *gin.Context, store *jobs.Store) (*jobs.Record, bool) {
	jobID := c.Param("id")
	rec, err := store.Get(c.Request.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		jobError(c, http.StatusNotFound, convert.CodeNotFound,
			"指定されたジョブは存在しないか、保持期限を過ぎています。")
		return nil, false
	}
	if err != nil {
		jobError(c, http.StatusInternalServerError, convert.CodeInternal,
			"ジョブ情報を取得できませんでした。")
		return nil, false
	}
	return rec, true
}

func jobError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{"code": code, "message": message},
	})
}
