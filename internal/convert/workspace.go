package convert

import (
	"fmt"
	"os"
	"path/filepath"
)

// workspace は1ジョブ分の隔離された作業ディレクトリです。
// ジョブ間で共有されることはありません。
type workspace struct {
	jobID   string
	dir     string
	inDir   string // アップロード保存先
	workDir string // 中間成果物
	outDir  string // 最終成果物
}

func newWorkspace(root, jobID string) (workspace, error) {
	ws := workspace{
		jobID: jobID,
		dir:   filepath.Join(root, jobID),
	}
	ws.inDir = filepath.Join(ws.dir, "in")
	ws.workDir = filepath.Join(ws.dir, "work")
	ws.outDir = filepath.Join(ws.dir, "out")

	for _, dir := range []string{ws.inDir, ws.workDir, ws.outDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return workspace{}, fmt.Errorf("failed to create workspace dir %s: %w", dir, err)
		}
	}
	return ws, nil
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}
