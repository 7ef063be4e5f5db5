package convert

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/cad-forge/internal/geometry"
	"github.com/yourusername/cad-forge/internal/tools"
)

// runOdaNormalize は ODA File Converter で dwg/dgn を dxf に正規化します。
// コンバータはディレクトリ単位で動作するため、入力ディレクトリ全体を
// 作業ディレクトリに向けて変換し、生成された dxf を拾い上げます。
func runOdaNormalize(ctx context.Context, env *StageEnv, in Artifact) (Artifact, error) {
	toolPath, ok := env.ToolPath(tools.CapOdaConverter)
	if !ok {
		return Artifact{}, fmt.Errorf("oda converter is not available")
	}

	inputName := filepath.Base(in.Path)
	args := []string{
		filepath.Dir(in.Path), env.WorkDir,
		"ACAD2018", "DXF", "0", "1",
		inputName,
	}
	if _, err := env.Runner.Run(ctx, toolPath, args, env.ToolTimeout); err != nil {
		return Artifact{}, fmt.Errorf("oda converter failed: %w", err)
	}

	stem := strings.TrimSuffix(inputName, filepath.Ext(inputName))
	dxfPath := filepath.Join(env.WorkDir, stem+".dxf")
	if _, err := os.Stat(dxfPath); err != nil {
		return Artifact{}, fmt.Errorf("oda converter produced no dxf output: %w", err)
	}
	return Artifact{Path: dxfPath}, nil
}

// runInkscapeRasterize は PDF をベクタ保持のまま SVG に変換します。
// Inkscape 起動前に pdfcpu で PDF の構造を検証し、壊れた入力を早期に弾きます。
func runInkscapeRasterize(ctx context.Context, env *StageEnv, in Artifact) (Artifact, error) {
	if err := api.ValidateFile(in.Path, nil); err != nil {
		return Artifact{}, newError(CodeInvalidInput,
			"PDFファイルが破損しているか、解析できません。", err)
	}

	toolPath, ok := env.ToolPath(tools.CapInkscape)
	if !ok {
		return Artifact{}, fmt.Errorf("inkscape is not available")
	}

	stem := strings.TrimSuffix(filepath.Base(in.Path), filepath.Ext(in.Path))
	svgPath := filepath.Join(env.WorkDir, stem+".svg")
	args := []string{
		in.Path,
		"--export-type=svg",
		"--export-filename=" + svgPath,
	}
	if _, err := env.Runner.Run(ctx, toolPath, args, env.ToolTimeout); err != nil {
		return Artifact{}, fmt.Errorf("inkscape failed: %w", err)
	}
	if _, err := os.Stat(svgPath); err != nil {
		return Artifact{}, fmt.Errorf("inkscape produced no svg output: %w", err)
	}
	return Artifact{Path: svgPath}, nil
}

// runNativeNormalize は dxf/svg/dat を直接パースし、押し出し用の
// 2Dプロファイルを組み立てます。外部ツールは使いません。
func runNativeNormalize(_ context.Context, env *StageEnv, in Artifact) (Artifact, error) {
	profile, err := loadProfile(in.Path, env.InputFormat)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Path: in.Path, Profile: profile}, nil
}

// runExtrude は 2Dプロファイルを高さ方向に押し出して閉じたメッシュを作ります。
// 前段が外部ツールだった場合は生成ファイルをここでパースします。
func runExtrude(_ context.Context, env *StageEnv, in Artifact) (Artifact, error) {
	profile := in.Profile
	if profile == nil {
		format := formatForPath(in.Path)
		p, err := loadProfile(in.Path, format)
		if err != nil {
			return Artifact{}, err
		}
		profile = p
	}

	mesh, err := geometry.ExtrudeProfile(profile, env.Settings.ExtrusionHeight)
	if err != nil {
		return Artifact{}, fmt.Errorf("extrusion failed: %w", err)
	}
	return Artifact{Mesh: mesh}, nil
}

// runPostProcess はメッシュを 修復 → センタリング → スケール → 簡略化 の
// 固定順で後処理します。修復の失敗はログに残して続行します。
func runPostProcess(_ context.Context, env *StageEnv, in Artifact) (Artifact, error) {
	mesh := in.Mesh
	if mesh == nil {
		return Artifact{}, fmt.Errorf("postprocess stage received no mesh")
	}
	s := env.Settings

	if s.RepairMesh {
		removed := mesh.Repair()
		if removed > 0 {
			env.logf("[job %s] mesh repair removed %d degenerate triangles", env.JobID, removed)
		}
	}

	if s.CenterModel {
		c := mesh.Centroid()
		mesh.Translate(geometry.Vec3{-c[0], -c[1], -c[2]})
	}

	if s.ScaleFactor != 1.0 {
		mesh.Scale(s.ScaleFactor)
	}

	if s.SimplifyMesh && s.SimplifyRatio > 0 && s.SimplifyRatio < 1 {
		mesh = mesh.Simplify(s.SimplifyRatio)
	}

	return Artifact{Mesh: mesh}, nil
}

// runExportMesh は stl/obj/3mf をネイティブに書き出します。
func runExportMesh(_ context.Context, env *StageEnv, in Artifact) (Artifact, error) {
	if in.Mesh == nil {
		return Artifact{}, fmt.Errorf("export stage received no mesh")
	}
	outPath := filepath.Join(env.OutDir, env.OutputName)
	file, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	switch env.Settings.OutputFormat {
	case OutputSTL:
		err = geometry.WriteSTL(file, in.Mesh)
	case OutputOBJ:
		err = geometry.WriteOBJ(file, in.Mesh)
	case OutputThreeMF:
		err = geometry.Write3MF(file, in.Mesh)
	default:
		err = fmt.Errorf("unsupported native export format: %s", env.Settings.OutputFormat)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to write %s: %w", env.Settings.OutputFormat, err)
	}
	return Artifact{Path: outPath}, nil
}

// runExportStepFreecad は FreeCAD のヘッドレス実行で STEP を書き出します。
// メッシュを一時STLとして渡し、生成したスクリプトでインポート/エクスポートします。
func runExportStepFreecad(ctx context.Context, env *StageEnv, in Artifact) (Artifact, error) {
	if in.Mesh == nil {
		return Artifact{}, fmt.Errorf("export stage received no mesh")
	}
	toolPath, ok := env.ToolPath(tools.CapFreecad)
	if !ok {
		return Artifact{}, fmt.Errorf("freecad is not available")
	}

	stlPath := filepath.Join(env.WorkDir, "model.stl")
	if err := writeMeshFile(stlPath, in.Mesh, geometry.WriteSTL); err != nil {
		return Artifact{}, err
	}

	outPath := filepath.Join(env.OutDir, env.OutputName)
	script := freecadExportScript(stlPath, outPath)
	scriptPath := filepath.Join(env.WorkDir, "export_step.py")
	if err := os.WriteFile(scriptPath, []byte(script), 0o640); err != nil {
		return Artifact{}, fmt.Errorf("failed to write freecad script: %w", err)
	}

	if _, err := env.Runner.Run(ctx, toolPath, []string{"-c", scriptPath}, env.ToolTimeout); err != nil {
		return Artifact{}, fmt.Errorf("freecad failed: %w", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return Artifact{}, fmt.Errorf("freecad produced no step output: %w", err)
	}
	return Artifact{Path: outPath}, nil
}

// runExportGcodePrusa は PrusaSlicer のCLIでスライスします。
// 出力が生成されなかった場合はエラーを返し、組み込みスライサーに委ねます。
func runExportGcodePrusa(ctx context.Context, env *StageEnv, in Artifact) (Artifact, error) {
	if in.Mesh == nil {
		return Artifact{}, fmt.Errorf("export stage received no mesh")
	}
	toolPath, ok := env.ToolPath(tools.CapPrusaSlicer)
	if !ok {
		return Artifact{}, fmt.Errorf("prusaslicer is not available")
	}

	stlPath := filepath.Join(env.WorkDir, "model.stl")
	if err := writeMeshFile(stlPath, in.Mesh, geometry.WriteSTL); err != nil {
		return Artifact{}, err
	}

	s := env.Settings
	outPath := filepath.Join(env.OutDir, env.OutputName)
	args := []string{
		"--export-gcode",
		"--output", outPath,
		"--layer-height", formatFloat(s.LayerHeight),
		"--nozzle-diameter", formatFloat(s.NozzleDiameter),
		fmt.Sprintf("--fill-density=%d%%", s.InfillPercentage),
		"--perimeter-speed", formatFloat(s.PrintSpeed),
		"--infill-speed", formatFloat(s.PrintSpeed),
		fmt.Sprintf("--bed-shape=0x0,%gx0,%gx%g,0x%g",
			s.BedSizeX, s.BedSizeX, s.BedSizeY, s.BedSizeY),
	}
	if s.SupportEnabled {
		args = append(args, "--support-material")
	}
	args = append(args, stlPath)

	if _, err := env.Runner.Run(ctx, toolPath, args, env.ToolTimeout); err != nil {
		return Artifact{}, fmt.Errorf("prusaslicer failed: %w", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return Artifact{}, fmt.Errorf("prusaslicer produced no gcode output: %w", err)
	}
	return Artifact{Path: outPath}, nil
}

// runExportGcodeBuiltin は外部スライサー無しで動く簡易スライサーです。
// レイヤーごとの断面輪郭をなぞるだけの保守的なツールパスを生成します。
func runExportGcodeBuiltin(_ context.Context, env *StageEnv, in Artifact) (Artifact, error) {
	if in.Mesh == nil {
		return Artifact{}, fmt.Errorf("export stage received no mesh")
	}
	outPath := filepath.Join(env.OutDir, env.OutputName)
	file, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	s := env.Settings
	opt := geometry.SlicerOptions{
		LayerHeight: s.LayerHeight,
		PrintSpeed:  s.PrintSpeed,
		BedSizeX:    s.BedSizeX,
		BedSizeY:    s.BedSizeY,
	}
	if err := geometry.WriteGCode(file, in.Mesh, opt); err != nil {
		return Artifact{}, fmt.Errorf("builtin slicer failed: %w", err)
	}
	return Artifact{Path: outPath}, nil
}

// loadProfile はベクタファイルをパースして押し出し用プロファイルを返します。
func loadProfile(path string, format InputFormat) (*geometry.Profile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector file: %w", err)
	}
	defer file.Close()

	var paths []geometry.Path
	switch format {
	case FormatDXF:
		paths, err = geometry.ReadDXF(file)
	case FormatSVG:
		paths, err = geometry.ReadSVG(file)
	case FormatDAT:
		paths, err = geometry.ReadDAT(file)
	default:
		return nil, fmt.Errorf("unsupported vector format: %s", format)
	}
	if err != nil {
		return nil, newError(CodeInvalidInput,
			fmt.Sprintf("%sファイルを解析できません。", strings.ToUpper(string(format))), err)
	}

	profile, err := geometry.PathsToProfile(paths)
	if err != nil {
		return nil, newError(CodeInvalidInput,
			"ファイルから押し出し可能な輪郭を抽出できません。", err)
	}
	return profile, nil
}

// formatForPath は中間ファイルの拡張子からパーサを選びます。
func formatForPath(path string) InputFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		return FormatSVG
	case ".dat":
		return FormatDAT
	default:
		return FormatDXF
	}
}

func writeMeshFile(path string, mesh *geometry.Mesh, write func(w io.Writer, m *geometry.Mesh) error) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create intermediate file: %w", err)
	}
	defer file.Close()
	if err := write(file, mesh); err != nil {
		return fmt.Errorf("failed to write intermediate mesh: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

// freecadExportScript は STL を STEP に変換するFreeCADスクリプトを生成します。
func freecadExportScript(stlPath, stepPath string) string {
	return fmt.Sprintf(`import FreeCAD
import Mesh
import Part

doc = FreeCAD.newDocument("convert")
Mesh.insert(%q, doc.Name)
mesh_obj = doc.Objects[0]
shape = Part.Shape()
shape.makeShapeFromMesh(mesh_obj.Mesh.Topology, 0.05)
solid = Part.makeSolid(shape)
feature = doc.addObject("Part::Feature", "solid")
feature.Shape = solid
Part.export([feature], %q)
`, stlPath, stepPath)
}
