package convert

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/cad-forge/internal/config"
	"github.com/yourusername/cad-forge/internal/tools"
)

// Service は変換パイプライン全体を司ります。
// HTTPハンドラと非同期ワーカーの双方から利用されます。
type Service struct {
	cfg    *config.Config
	probe  *tools.Probe
	runner tools.Runner
	logger *log.Logger
	now    func() time.Time
}

// NewService は Service を初期化します。runner が nil の場合は
// 実プロセスを起動する ExecRunner を使用します。
func NewService(cfg *config.Config, probe *tools.Probe, runner tools.Runner, logger *log.Logger) *Service {
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		cfg:    cfg,
		probe:  probe,
		runner: runner,
		logger: logger,
		now:    time.Now,
	}
}

// Probe は能力セットの参照用に内部のプローブを返します。
func (s *Service) Probe() *tools.Probe {
	return s.probe
}

// PrepareConvertJob はアップロードを受け付けてジョブを作成します。
// 設定の解決、ファイルの保存、フォーマット判定をこの順で行い、
// いずれかが失敗した場合はジョブを作らずエラーを返します。
func (s *Service) PrepareConvertJob(fileHeader *multipart.FileHeader, rawSettings []byte) (*JobManifest, error) {
	settings, err := ResolveSettings(rawSettings)
	if err != nil {
		return nil, err
	}

	if fileHeader == nil {
		return nil, newError(CodeInvalidInput, "ファイルが指定されていません。", nil)
	}
	if s.cfg.MaxFileSize > 0 && fileHeader.Size > s.cfg.MaxFileSize {
		return nil, newError(CodeLimitExceeded,
			fmt.Sprintf("ファイルサイズが上限 (%dMB) を超えています。", s.cfg.MaxFileSize/(1024*1024)), nil)
	}

	jobID := uuid.NewString()
	ws, err := newWorkspace(s.cfg.WorkDir, jobID)
	if err != nil {
		return nil, newError(CodeInternal, "作業ディレクトリを作成できません。", err)
	}

	stored, err := s.storeMultipartFile(ws, fileHeader)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}

	head, err := readHead(stored.path, 512)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, newError(CodeInternal, "アップロードファイルを読み取れません。", err)
	}
	format, err := DetectFormat(stored.originalName, head)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}
	if format == FormatGCode {
		_ = removeDir(ws.dir)
		return nil, newError(CodeInvalidInput,
			"gcodeは出力専用フォーマットのため、変換元には指定できません。", nil)
	}

	manifest := &JobManifest{
		JobID:        jobID,
		StoredName:   stored.storedName,
		OriginalName: stored.originalName,
		Size:         stored.size,
		InputFormat:  format,
		Settings:     *settings,
		CreatedAt:    s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, newError(CodeInternal, "ジョブ情報を保存できません。", err)
	}

	s.logger.Printf("[job %s] prepared: %s (%s, %d bytes) -> %s",
		jobID, stored.originalName, format, stored.size, settings.OutputFormat)
	return manifest, nil
}

// RunJob はジョブの変換計画を組み立てて実行します。
// report には試行されたすべてのステージの記録が渡されます。
// 成功時は成果物の保持期限をスケジュールし、失敗時は作業ディレクトリを破棄します。
func (s *Service) RunJob(ctx context.Context, jobID string, report StageReporter) (*Result, error) {
	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		return nil, newError(CodeInternal, "ジョブ情報を読み込めません。", err)
	}
	settings := manifest.Settings

	stages, err := Plan(manifest.InputFormat, settings.OutputFormat, s.probe.Capabilities())
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}

	var stageLog []StageEntry
	recorder := func(entry StageEntry) {
		stageLog = append(stageLog, entry)
		if report != nil {
			report(entry)
		}
	}

	env := &StageEnv{
		JobID:       jobID,
		InputFormat: manifest.InputFormat,
		InDir:       ws.inDir,
		WorkDir:     ws.workDir,
		OutDir:      ws.outDir,
		OutputName:  outputFilenameFor(manifest.OriginalName, settings.OutputFormat),
		Settings:    &settings,
		Runner:      s.runner,
		ToolPath:    s.probe.Path,
		ToolTimeout: time.Duration(s.cfg.ToolTimeoutSeconds) * time.Second,
		Logger:      s.logger,
	}
	input := Artifact{Path: filepath.Join(ws.inDir, manifest.StoredName)}

	started := s.now()
	final, err := ExecutePlan(ctx, env, stages, input, recorder)
	if err != nil {
		s.logger.Printf("[job %s] conversion failed after %s: %v", jobID, time.Since(started), err)
		_ = removeDir(ws.dir)
		return nil, err
	}

	info, err := os.Stat(final.Path)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, newError(CodeInternal, "成果物の確認に失敗しました。", err)
	}

	s.scheduleCleanup(ws.dir)
	s.logger.Printf("[job %s] conversion done in %s: %s (%d bytes)",
		jobID, time.Since(started), filepath.Base(final.Path), info.Size())

	return &Result{
		JobID:          jobID,
		InputFormat:    manifest.InputFormat,
		OutputFormat:   settings.OutputFormat,
		OutputPath:     final.Path,
		OutputFilename: env.OutputName,
		OutputSize:     info.Size(),
		StageLog:       stageLog,
		jobDir:         ws.dir,
	}, nil
}

// OpenResultFile は完了済みジョブの成果物を開きます。
// ダウンロードハンドラから利用され、呼び出し側がクローズします。
func (s *Service) OpenResultFile(jobID string) (*Result, *os.File, error) {
	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		return nil, nil, newError(CodeInternal, "ジョブ情報を読み込めません。", err)
	}

	name := outputFilenameFor(manifest.OriginalName, manifest.Settings.OutputFormat)
	path := filepath.Join(ws.outDir, name)
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, newError(CodeInternal, "成果物ファイルを開けません。", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, newError(CodeInternal, "成果物ファイルを確認できません。", err)
	}

	result := &Result{
		JobID:          jobID,
		InputFormat:    manifest.InputFormat,
		OutputFormat:   manifest.Settings.OutputFormat,
		OutputPath:     path,
		OutputFilename: name,
		OutputSize:     info.Size(),
		jobDir:         ws.dir,
	}
	return result, file, nil
}

// DiscardJob はジョブの作業ディレクトリを即座に破棄します。
func (s *Service) DiscardJob(jobID string) error {
	return removeDir(s.workspaceFor(jobID).dir)
}

func (s *Service) workspaceFor(jobID string) workspace {
	ws := workspace{
		jobID: jobID,
		dir:   filepath.Join(s.cfg.WorkDir, jobID),
	}
	ws.inDir = filepath.Join(ws.dir, "in")
	ws.workDir = filepath.Join(ws.dir, "work")
	ws.outDir = filepath.Join(ws.dir, "out")
	return ws
}

// scheduleCleanup は保持期間経過後に作業ディレクトリを削除します。
func (s *Service) scheduleCleanup(dir string) {
	expire := time.Duration(s.cfg.JobExpireMinutes) * time.Minute
	if expire <= 0 {
		return
	}
	time.AfterFunc(expire, func() {
		if err := removeDir(dir); err != nil {
			s.logger.Printf("failed to clean up expired workspace %s: %v", dir, err)
		}
	})
}

type storedFile struct {
	path         string
	storedName   string
	originalName string
	size         int64
}

// storeMultipartFile はアップロードをジョブの入力ディレクトリに保存します。
// 保存名はパス要素を取り除いたものを使います。
func (s *Service) storeMultipartFile(ws workspace, fileHeader *multipart.FileHeader) (storedFile, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return storedFile{}, newError(CodeInvalidInput, "アップロードファイルを開けません。", err)
	}
	defer src.Close()

	originalName := filepath.Base(strings.ReplaceAll(fileHeader.Filename, "\\", "/"))
	if originalName == "" || originalName == "." || originalName == "/" {
		originalName = "upload"
	}
	storedName := sanitizeFilename(originalName)

	dstPath := filepath.Join(ws.inDir, storedName)
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return storedFile{}, newError(CodeInternal, "ファイルを保存できません。", err)
	}
	defer dst.Close()

	var written int64
	if s.cfg.MaxFileSize > 0 {
		written, err = io.Copy(dst, io.LimitReader(src, s.cfg.MaxFileSize+1))
		if err == nil && written > s.cfg.MaxFileSize {
			return storedFile{}, newError(CodeLimitExceeded,
				fmt.Sprintf("ファイルサイズが上限 (%dMB) を超えています。", s.cfg.MaxFileSize/(1024*1024)), nil)
		}
	} else {
		written, err = io.Copy(dst, src)
	}
	if err != nil {
		return storedFile{}, newError(CodeInternal, "ファイルの保存中にエラーが発生しました。", err)
	}

	return storedFile{
		path:         dstPath,
		storedName:   storedName,
		originalName: originalName,
		size:         written,
	}, nil
}

// sanitizeFilename は保存名として安全な文字だけを残します。
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "upload"
	}
	return b.String()
}

func readHead(path string, n int) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	head := make([]byte, n)
	read, err := io.ReadFull(file, head)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return head[:read], err
}
