package convert

import (
	"context"
	"fmt"
	"strings"

	"github.com/yourusername/cad-forge/internal/geometry"
	"github.com/yourusername/cad-forge/internal/tools"
)

// ステージ名。ジョブのステージログにもこの名前で記録されます。
const (
	StageNormalize   = "normalize"
	StageRasterize   = "rasterize-to-vector"
	StageExtrude     = "extrude"
	StagePostProcess = "postprocess"
	StageExport      = "export"
)

// Artifact はステージ間で受け渡される中間成果物です。
// ファイルパスか、メモリ上のプロファイル/メッシュのいずれかを保持します。
type Artifact struct {
	Path    string
	Profile *geometry.Profile
	Mesh    *geometry.Mesh
}

// StageFunc はステージ候補1つ分の処理です。
type StageFunc func(ctx context.Context, env *StageEnv, in Artifact) (Artifact, error)

// Candidate はステージを実行できるツール候補です。
// Tool が空の場合は外部ツール不要のネイティブ処理を表します。
type Candidate struct {
	Tool tools.Capability
	Name string
	Run  StageFunc
}

// Stage は変換計画の1ステップです。候補は宣言順に試行されます。
type Stage struct {
	Name       string
	Output     string // このステージが生成する成果物の種別
	Candidates []Candidate
}

// Plan は (入力フォーマット, 出力フォーマット, 能力セット) から
// 変換ステージ列を組み立てます。計画は静的なテーブルで、必要なツールが
// 1つも使えないステージがあれば TOOL_UNAVAILABLE で失敗します。
func Plan(in InputFormat, out OutputFormat, caps tools.Capabilities) ([]Stage, error) {
	var stages []Stage

	switch in {
	case FormatDWG, FormatDGN:
		stages = append(stages, Stage{
			Name:   StageNormalize,
			Output: "dxf",
			Candidates: []Candidate{
				{Tool: tools.CapOdaConverter, Name: "oda_converter", Run: runOdaNormalize},
			},
		})
	case FormatPDF:
		stages = append(stages, Stage{
			Name:   StageRasterize,
			Output: "svg",
			Candidates: []Candidate{
				{Tool: tools.CapInkscape, Name: "inkscape", Run: runInkscapeRasterize},
			},
		})
	case FormatDXF, FormatSVG, FormatDAT:
		stages = append(stages, Stage{
			Name:   StageNormalize,
			Output: "profile",
			Candidates: []Candidate{
				{Name: "native", Run: runNativeNormalize},
			},
		})
	default:
		return nil, newError(CodeInvalidInput,
			fmt.Sprintf("このフォーマットは変換元として利用できません: %s", in), nil)
	}

	stages = append(stages,
		Stage{
			Name:   StageExtrude,
			Output: "mesh",
			Candidates: []Candidate{
				{Name: "native", Run: runExtrude},
			},
		},
		Stage{
			Name:   StagePostProcess,
			Output: "mesh",
			Candidates: []Candidate{
				{Name: "native", Run: runPostProcess},
			},
		},
	)

	export := Stage{Name: StageExport, Output: string(out)}
	switch out {
	case OutputSTL, OutputOBJ, OutputThreeMF:
		export.Candidates = []Candidate{
			{Name: "native", Run: runExportMesh},
		}
	case OutputGCode:
		export.Candidates = []Candidate{
			{Tool: tools.CapPrusaSlicer, Name: "prusaslicer", Run: runExportGcodePrusa},
			{Name: "builtin-slicer", Run: runExportGcodeBuiltin},
		}
	case OutputSTEP:
		export.Candidates = []Candidate{
			{Tool: tools.CapFreecad, Name: "freecad", Run: runExportStepFreecad},
		}
	default:
		return nil, newError(CodeValidation,
			fmt.Sprintf("対応していない出力フォーマットです: %s", out), nil)
	}
	stages = append(stages, export)

	if err := checkAvailability(stages, caps); err != nil {
		return nil, err
	}
	return stages, nil
}

// checkAvailability は各ステージに利用可能な候補が1つ以上あるか検証します。
func checkAvailability(stages []Stage, caps tools.Capabilities) error {
	for _, stage := range stages {
		usable := false
		var missing []string
		for _, cand := range stage.Candidates {
			if cand.Tool == "" || caps.Has(cand.Tool) {
				usable = true
				break
			}
			missing = append(missing, cand.Name)
		}
		if !usable {
			return newError(CodeToolUnavailable,
				fmt.Sprintf("ステージ %s に必要なツールが見つかりません (必要: %s)",
					stage.Name, strings.Join(missing, ", ")), nil)
		}
	}
	return nil
}
