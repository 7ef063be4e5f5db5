// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/yourusername/cad-forge/internal/tools"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル/ジョブ制限
	MaxFileSize      int64  // 単一アップロードの最大サイズ（バイト）
	WorkDir          string // ジョブ作業ディレクトリのルート
	JobExpireMinutes int    // ジョブレコードと成果物の保持期間（分）

	// ジョブ/キュー設定
	QueueRedisURL      string // Asynq用Redis接続URL
	WorkerCount        int    // 同時に実行できる変換ジョブ数（外部ツールプロセス数の上限）
	SyncTimeoutSeconds int    // 同期変換の打ち切り時間（秒）
	ToolTimeoutSeconds int    // 外部ツール1回の実行の打ち切り時間（秒）

	// 外部ツールのパス（空の場合はPATHから探索）
	OdaConverterPath string // ODA File Converter (dwg/dgn→dxf)
	InkscapePath     string // Inkscape (pdf→svg)
	FreecadPath      string // FreeCAD (step出力)
	OpenscadPath     string // OpenSCAD（能力セット報告のみ）
	PrusaSlicerPath  string // PrusaSlicer (gcode出力)
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		// ファイル/ジョブ制限
		MaxFileSize:      getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB
		WorkDir:          getEnv("WORK_DIR", filepath.Join(os.TempDir(), "cad-forge")),
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 60),

		// ジョブ/キュー設定
		QueueRedisURL:      getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 2),
		SyncTimeoutSeconds: getEnvAsInt("SYNC_TIMEOUT_SECONDS", 120),
		ToolTimeoutSeconds: getEnvAsInt("TOOL_TIMEOUT_SECONDS", 300),

		// 外部ツール設定
		OdaConverterPath: getEnv("ODA_CONVERTER_PATH", ""),
		InkscapePath:     getEnv("INKSCAPE_PATH", ""),
		FreecadPath:      getEnv("FREECAD_PATH", ""),
		OpenscadPath:     getEnv("OPENSCAD_PATH", ""),
		PrusaSlicerPath:  getEnv("PRUSASLICER_PATH", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("WORK_DIR is required")
	}
	if c.GinMode == "release" {
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
	}
	return nil
}

// ToolOverrides は環境変数で指定された外部ツールのパスを返します。
// 空のエントリは含めません。
func (c *Config) ToolOverrides() map[tools.Capability]string {
	overrides := make(map[tools.Capability]string)
	for cap, path := range map[tools.Capability]string{
		tools.CapOdaConverter: c.OdaConverterPath,
		tools.CapInkscape:     c.InkscapePath,
		tools.CapFreecad:      c.FreecadPath,
		tools.CapOpenscad:     c.OpenscadPath,
		tools.CapPrusaSlicer:  c.PrusaSlicerPath,
	} {
		if path != "" {
			overrides[cap] = path
		}
	}
	return overrides
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
