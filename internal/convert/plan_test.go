package convert

import (
	"errors"
	"testing"

	"github.com/yourusername/cad-forge/internal/tools"
)

func allCapabilities() tools.Capabilities {
	return tools.Capabilities{
		tools.CapOdaConverter: true,
		tools.CapInkscape:     true,
		tools.CapFreecad:      true,
		tools.CapOpenscad:     true,
		tools.CapPrusaSlicer:  true,
	}
}

func TestPlanCoversAllPairs(t *testing.T) {
	// 全ツールが揃っていれば全ペアが計画できること
	caps := allCapabilities()
	for _, in := range ConvertibleInputFormats {
		for _, out := range OutputFormats {
			stages, err := Plan(in, out, caps)
			if err != nil {
				t.Fatalf("Plan(%s, %s) returned error: %v", in, out, err)
			}
			if len(stages) != 4 {
				t.Fatalf("Plan(%s, %s) stage count = %d, want 4", in, out, len(stages))
			}
			last := stages[len(stages)-1]
			if last.Name != StageExport {
				t.Fatalf("Plan(%s, %s) last stage = %s, want export", in, out, last.Name)
			}
			if last.Output != string(out) {
				t.Fatalf("Plan(%s, %s) export output = %s, want %s", in, out, last.Output, out)
			}
		}
	}
}

func TestPlanStageOrder(t *testing.T) {
	stages, err := Plan(FormatPDF, OutputSTL, allCapabilities())
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	want := []string{StageRasterize, StageExtrude, StagePostProcess, StageExport}
	for i, name := range want {
		if stages[i].Name != name {
			t.Fatalf("stages[%d] = %s, want %s", i, stages[i].Name, name)
		}
	}
}

func TestPlanDWGWithoutOdaConverter(t *testing.T) {
	_, err := Plan(FormatDWG, OutputSTL, tools.Capabilities{})
	var convErr *Error
	if !errors.As(err, &convErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if convErr.Code != CodeToolUnavailable {
		t.Fatalf("code = %s, want %s", convErr.Code, CodeToolUnavailable)
	}
}

func TestPlanGcodeWithoutSlicerUsesBuiltin(t *testing.T) {
	// PrusaSlicerが無くても組み込みスライサーで計画できること
	stages, err := Plan(FormatDXF, OutputGCode, tools.Capabilities{})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	export := stages[len(stages)-1]
	if len(export.Candidates) != 2 {
		t.Fatalf("export candidate count = %d, want 2", len(export.Candidates))
	}
	if export.Candidates[0].Name != "prusaslicer" || export.Candidates[1].Name != "builtin-slicer" {
		t.Fatalf("unexpected candidate order: %s, %s",
			export.Candidates[0].Name, export.Candidates[1].Name)
	}
}

func TestPlanStepWithoutFreecad(t *testing.T) {
	_, err := Plan(FormatDXF, OutputSTEP, tools.Capabilities{})
	var convErr *Error
	if !errors.As(err, &convErr) || convErr.Code != CodeToolUnavailable {
		t.Fatalf("expected TOOL_UNAVAILABLE, got %v", err)
	}
}

func TestPlanRejectsGcodeInput(t *testing.T) {
	_, err := Plan(FormatGCode, OutputSTL, allCapabilities())
	var convErr *Error
	if !errors.As(err, &convErr) || convErr.Code != CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}
