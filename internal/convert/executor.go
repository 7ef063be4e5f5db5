package convert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/yourusername/cad-forge/internal/tools"
)

// StageEntry はステージ1回分の実行記録です。ジョブのステージログに蓄積されます。
type StageEntry struct {
	Stage      string `json:"stage"`
	Tool       string `json:"tool"`
	DurationMs int64  `json:"durationMs"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// StageReporter はステージの実行記録を受け取るコールバックです。
// 成功・失敗を問わず、試行されたすべての候補について呼ばれます。
type StageReporter func(entry StageEntry)

// StageEnv はステージ実行時の環境です。すべてのステージ候補で共有されます。
type StageEnv struct {
	JobID       string
	InputFormat InputFormat
	InDir       string
	WorkDir     string
	OutDir      string
	OutputName  string
	Settings    *Settings
	Runner      tools.Runner
	ToolPath    func(tools.Capability) (string, bool)
	ToolTimeout time.Duration
	Logger      *log.Logger
}

func (env *StageEnv) logf(format string, args ...any) {
	if env.Logger != nil {
		env.Logger.Printf(format, args...)
	}
}

// ExecutePlan は計画を先頭から順に実行します。各ステージでは候補を宣言順に
// 試行し、最初に成功した候補の成果物を次のステージに渡します。
//   - 未導入のツール候補はスキップされ、試行として数えません。
//   - 候補が失敗した場合は次の候補にフォールスルーします。
//   - コンテキストの期限切れだけは即座に中断します（フォールスルーしない）。
func ExecutePlan(ctx context.Context, env *StageEnv, stages []Stage, input Artifact, report StageReporter) (Artifact, error) {
	current := input
	for _, stage := range stages {
		next, err := executeStage(ctx, env, stage, current, report)
		if err != nil {
			return Artifact{}, err
		}
		current = next
	}
	return current, nil
}

func executeStage(ctx context.Context, env *StageEnv, stage Stage, in Artifact, report StageReporter) (Artifact, error) {
	var (
		lastErr   error
		attempted []string
	)

	for _, cand := range stage.Candidates {
		if cand.Tool != "" {
			if _, ok := env.ToolPath(cand.Tool); !ok {
				continue
			}
		}

		started := time.Now()
		out, err := cand.Run(ctx, env, in)
		entry := StageEntry{
			Stage:      stage.Name,
			Tool:       cand.Name,
			DurationMs: time.Since(started).Milliseconds(),
			OK:         err == nil,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		if report != nil {
			report(entry)
		}
		attempted = append(attempted, cand.Name)

		if err == nil {
			return out, nil
		}
		env.logf("[job %s] stage %s failed with %s: %v", env.JobID, stage.Name, cand.Name, err)
		lastErr = err

		if ctx.Err() != nil {
			// キャンセル（同期経路でのクライアント切断など）はタイムアウトと区別する
			if errors.Is(ctx.Err(), context.Canceled) {
				return Artifact{}, newError(CodeInternal,
					"変換処理が中断されました。", ctx.Err())
			}
			return Artifact{}, newError(CodeTimeout,
				"変換処理が制限時間内に完了しませんでした。", ctx.Err())
		}
	}

	if len(attempted) == 0 {
		names := candidateNames(stage)
		entry := StageEntry{
			Stage: stage.Name,
			Tool:  "",
			OK:    false,
			Error: "no candidate tool available",
		}
		if report != nil {
			report(entry)
		}
		return Artifact{}, newError(CodeToolUnavailable,
			fmt.Sprintf("ステージ %s を実行できるツールがありません (必要: %s)",
				stage.Name, strings.Join(names, ", ")), nil)
	}

	var convErr *Error
	if errors.As(lastErr, &convErr) && convErr.Code == CodeTimeout {
		return Artifact{}, lastErr
	}
	return Artifact{}, newError(CodeStageFailed,
		fmt.Sprintf("ステージ %s が失敗しました (試行: %s)",
			stage.Name, strings.Join(attempted, ", ")), lastErr)
}

func candidateNames(stage Stage) []string {
	names := make([]string, 0, len(stage.Candidates))
	for _, cand := range stage.Candidates {
		names = append(names, cand.Name)
	}
	return names
}
