package convert

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/yourusername/cad-forge/internal/tools"
)

func testEnv(available map[tools.Capability]string) *StageEnv {
	return &StageEnv{
		JobID: "test-job",
		ToolPath: func(c tools.Capability) (string, bool) {
			path, ok := available[c]
			return path, ok
		},
		ToolTimeout: time.Second,
	}
}

func okStage(name string) StageFunc {
	return func(context.Context, *StageEnv, Artifact) (Artifact, error) {
		return Artifact{Path: name}, nil
	}
}

func failStage(msg string) StageFunc {
	return func(context.Context, *StageEnv, Artifact) (Artifact, error) {
		return Artifact{}, fmt.Errorf("%s", msg)
	}
}

func TestExecutePlanFallsThroughToNextCandidate(t *testing.T) {
	env := testEnv(map[tools.Capability]string{tools.CapPrusaSlicer: "/usr/bin/prusa-slicer"})
	stages := []Stage{{
		Name: StageExport,
		Candidates: []Candidate{
			{Tool: tools.CapPrusaSlicer, Name: "prusaslicer", Run: failStage("slicer crashed")},
			{Name: "builtin-slicer", Run: okStage("out.gcode")},
		},
	}}

	var entries []StageEntry
	out, err := ExecutePlan(context.Background(), env, stages, Artifact{},
		func(e StageEntry) { entries = append(entries, e) })
	if err != nil {
		t.Fatalf("ExecutePlan returned error: %v", err)
	}
	if out.Path != "out.gcode" {
		t.Fatalf("output = %s, want out.gcode", out.Path)
	}

	// 失敗した候補も成功した候補も両方記録される
	if len(entries) != 2 {
		t.Fatalf("entry count = %d, want 2: %+v", len(entries), entries)
	}
	if entries[0].OK || entries[0].Tool != "prusaslicer" {
		t.Fatalf("first entry = %+v, want failed prusaslicer", entries[0])
	}
	if !entries[1].OK || entries[1].Tool != "builtin-slicer" {
		t.Fatalf("second entry = %+v, want succeeded builtin-slicer", entries[1])
	}
}

func TestExecutePlanSkipsAbsentTool(t *testing.T) {
	env := testEnv(nil) // ツールは一切無い
	called := false
	stages := []Stage{{
		Name: StageExport,
		Candidates: []Candidate{
			{Tool: tools.CapPrusaSlicer, Name: "prusaslicer",
				Run: func(context.Context, *StageEnv, Artifact) (Artifact, error) {
					called = true
					return Artifact{}, nil
				}},
			{Name: "builtin-slicer", Run: okStage("out.gcode")},
		},
	}}

	var entries []StageEntry
	if _, err := ExecutePlan(context.Background(), env, stages, Artifact{},
		func(e StageEntry) { entries = append(entries, e) }); err != nil {
		t.Fatalf("ExecutePlan returned error: %v", err)
	}
	if called {
		t.Fatal("absent tool candidate must not run")
	}
	// スキップは試行ではないので記録されない
	if len(entries) != 1 {
		t.Fatalf("entry count = %d, want 1: %+v", len(entries), entries)
	}
}

func TestExecutePlanNoCandidateAvailable(t *testing.T) {
	env := testEnv(nil)
	stages := []Stage{{
		Name: StageNormalize,
		Candidates: []Candidate{
			{Tool: tools.CapOdaConverter, Name: "oda_converter", Run: okStage("x")},
		},
	}}

	var entries []StageEntry
	_, err := ExecutePlan(context.Background(), env, stages, Artifact{},
		func(e StageEntry) { entries = append(entries, e) })

	var convErr *Error
	if !errors.As(err, &convErr) || convErr.Code != CodeToolUnavailable {
		t.Fatalf("expected TOOL_UNAVAILABLE, got %v", err)
	}
	if len(entries) != 1 || entries[0].OK {
		t.Fatalf("expected one failed entry for the unrunnable stage: %+v", entries)
	}
}

func TestExecutePlanAllCandidatesFail(t *testing.T) {
	env := testEnv(nil)
	stages := []Stage{{
		Name: StageExport,
		Candidates: []Candidate{
			{Name: "native", Run: failStage("boom")},
		},
	}}

	_, err := ExecutePlan(context.Background(), env, stages, Artifact{}, nil)
	var convErr *Error
	if !errors.As(err, &convErr) || convErr.Code != CodeStageFailed {
		t.Fatalf("expected STAGE_FAILED, got %v", err)
	}
	if !errors.Is(err, errors.Unwrap(convErr)) {
		t.Fatal("stage failure must wrap the last candidate error")
	}
}

func TestExecutePlanAbortsOnContextTimeout(t *testing.T) {
	env := testEnv(nil)
	secondRan := false
	stages := []Stage{{
		Name: StageExport,
		Candidates: []Candidate{
			{Name: "slow", Run: func(ctx context.Context, _ *StageEnv, _ Artifact) (Artifact, error) {
				<-ctx.Done()
				return Artifact{}, ctx.Err()
			}},
			{Name: "fallback", Run: func(context.Context, *StageEnv, Artifact) (Artifact, error) {
				secondRan = true
				return Artifact{}, nil
			}},
		},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := ExecutePlan(ctx, env, stages, Artifact{}, nil)
	var convErr *Error
	if !errors.As(err, &convErr) || convErr.Code != CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if secondRan {
		t.Fatal("timeout must not fall through to the next candidate")
	}
}

func TestExecutePlanDistinguishesCancellation(t *testing.T) {
	env := testEnv(nil)
	ctx, cancel := context.WithCancel(context.Background())
	secondRan := false
	stages := []Stage{{
		Name: StageExport,
		Candidates: []Candidate{
			{Name: "slow", Run: func(ctx context.Context, _ *StageEnv, _ Artifact) (Artifact, error) {
				cancel() // 実行中にクライアントが切断したのと同じ状況
				return Artifact{}, ctx.Err()
			}},
			{Name: "fallback", Run: func(context.Context, *StageEnv, Artifact) (Artifact, error) {
				secondRan = true
				return Artifact{}, nil
			}},
		},
	}}

	_, err := ExecutePlan(ctx, env, stages, Artifact{}, nil)
	var convErr *Error
	if !errors.As(err, &convErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if convErr.Code == CodeTimeout {
		t.Fatal("cancellation must not be reported as a timeout")
	}
	if convErr.Code != CodeInternal {
		t.Fatalf("code = %s, want INTERNAL_ERROR", convErr.Code)
	}
	if secondRan {
		t.Fatal("cancellation must not fall through to the next candidate")
	}
}

func TestExecutePlanChainsArtifacts(t *testing.T) {
	env := testEnv(nil)
	stages := []Stage{
		{Name: "a", Candidates: []Candidate{{Name: "native",
			Run: func(_ context.Context, _ *StageEnv, in Artifact) (Artifact, error) {
				return Artifact{Path: in.Path + "-a"}, nil
			}}}},
		{Name: "b", Candidates: []Candidate{{Name: "native",
			Run: func(_ context.Context, _ *StageEnv, in Artifact) (Artifact, error) {
				return Artifact{Path: in.Path + "-b"}, nil
			}}}},
	}

	out, err := ExecutePlan(context.Background(), env, stages, Artifact{Path: "in"}, nil)
	if err != nil {
		t.Fatalf("ExecutePlan returned error: %v", err)
	}
	if out.Path != "in-a-b" {
		t.Fatalf("output = %s, want in-a-b", out.Path)
	}
}
