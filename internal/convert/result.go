package convert

import (
	"sync"
)

// Result は変換処理の成果を表します。
type Result struct {
	JobID          string       `json:"jobId"`
	InputFormat    InputFormat  `json:"inputFormat"`
	OutputFormat   OutputFormat `json:"outputFormat"`
	OutputPath     string       `json:"outputPath"`
	OutputFilename string       `json:"outputFilename"`
	OutputSize     int64        `json:"outputSize"`
	StageLog       []StageEntry `json:"stageLog"`

	jobDir      string
	cleanupOnce sync.Once
	cleanupErr  error
}

// Cleanup は作業ディレクトリを削除します。
func (r *Result) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() {
		r.cleanupErr = removeDir(r.jobDir)
	})
	return r.cleanupErr
}

// ContentType は出力フォーマットに応じたMIMEタイプを返します。
func (r *Result) ContentType() string {
	return contentTypeFor(r.OutputFormat)
}

func contentTypeFor(format OutputFormat) string {
	switch format {
	case OutputSTL:
		return "model/stl"
	case OutputThreeMF:
		return "model/3mf"
	case OutputGCode:
		return "text/x-gcode"
	default:
		return "application/octet-stream"
	}
}

// outputFilenameFor は元ファイル名から成果物名を組み立てます。
func outputFilenameFor(originalName string, format OutputFormat) string {
	stem := originalName
	for i := len(stem) - 1; i >= 0; i-- {
		if stem[i] == '.' {
			stem = stem[:i]
			break
		}
		if stem[i] == '/' || stem[i] == '\\' {
			break
		}
	}
	if stem == "" {
		stem = "converted"
	}
	return stem + "." + string(format)
}
