// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/cad-forge/internal/config"
	"github.com/yourusername/cad-forge/internal/convert"
	"github.com/yourusername/cad-forge/internal/tools"
)

const serviceVersion = "0.1.0"

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// ジョブ作業ディレクトリの準備
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		log.Fatalf("Failed to create work dir %s: %v", cfg.WorkDir, err)
	}

	// 外部ツールの検出。欠けていても起動は続け、該当する変換だけが
	// TOOL_UNAVAILABLE になります。
	probe := tools.NewProbe(tools.DefaultDescriptors(cfg.ToolOverrides()))
	logCapabilities(probe)

	logger := log.Default()
	svc := convert.NewService(cfg, probe, nil, logger)

	// ジョブストアとワーカーの起動。Redisが無い場合は同期変換のみで動作します。
	runtime := setupJobs(cfg, svc, logger)
	if runtime != nil {
		defer runtime.shutdown()
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
	}
	corsConfig.ExposeHeaders = []string{"X-Job-Id", "Content-Disposition"}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, svc, runtime)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// logCapabilities は起動時に外部ツールの検出結果を出力します。
func logCapabilities(probe *tools.Probe) {
	var missing []string
	for cap, ok := range probe.Capabilities() {
		if path, found := probe.Path(cap); ok && found {
			log.Printf("tool %s: %s", cap, path)
		} else {
			missing = append(missing, string(cap))
		}
	}
	if len(missing) > 0 {
		log.Printf("tools not found (conversions requiring them will be rejected): %s",
			strings.Join(missing, ", "))
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "cad-forge-api",
		"version": serviceVersion,
	})
}

// setupRoutes はAPIグループの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, svc *convert.Service, runtime *jobRuntime) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)
	router.GET("/status", statusHandler(svc, runtime, time.Now()))

	var (
		scheduler convert.JobScheduler
		tracker   convert.JobTracker
	)
	if runtime != nil {
		scheduler = runtime.manager
		tracker = runtime.manager
	}
	handler := convert.NewHandler(svc, scheduler, tracker,
		time.Duration(cfg.SyncTimeoutSeconds)*time.Second, log.Default())

	api := router.Group("/api")
	{
		api.POST("/convert", handler.Convert)
		api.POST("/convert/async", handler.ConvertAsync)
		api.GET("/formats", handler.Formats)

		if runtime != nil {
			api.GET("/jobs", jobListHandler(runtime.store))
			api.GET("/jobs/:id", jobStatusHandler(runtime.store))
			api.GET("/jobs/:id/download", jobDownloadHandler(runtime.store, svc))
			api.DELETE("/jobs/:id", jobDeleteHandler(runtime.store, svc))
		}
	}
}
