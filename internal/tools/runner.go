package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// CommandLog は外部コマンド1回分の実行記録です。
type CommandLog struct {
	Path     string
	Args     []string
	Output   string
	Duration time.Duration
}

// Runner は外部コマンド実行の抽象です。
// Pipeline Executor とテストはこのインターフェース越しにツールを起動します。
type Runner interface {
	Run(ctx context.Context, path string, args []string, timeout time.Duration) (CommandLog, error)
}

// ErrToolTimedOut はツール実行が打ち切り時間を超えたことを表します。
var ErrToolTimedOut = errors.New("tool execution timed out")

// ExecRunner は os/exec による実実行を行う Runner です。
type ExecRunner struct{}

// Run はコマンドを実行し、標準出力/標準エラーをまとめて記録します。
// timeout が正の場合はその時間で、親コンテキストが先に切れた場合はそこで打ち切ります。
func (ExecRunner) Run(ctx context.Context, path string, args []string, timeout time.Duration) (CommandLog, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	started := time.Now()
	runErr := cmd.Run()
	log := CommandLog{
		Path:     path,
		Args:     args,
		Output:   output.String(),
		Duration: time.Since(started),
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return log, fmt.Errorf("%w: %s", ErrToolTimedOut, path)
		}
		return log, fmt.Errorf("command %s failed: %w: %s", path, runErr, truncate(output.String(), 512))
	}
	return log, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
