package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/cad-forge/internal/convert"
)

func testStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStoreWithClient(client, time.Hour)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func testManifest(jobID string) *convert.JobManifest {
	settings := convert.DefaultSettings()
	return &convert.JobManifest{
		JobID:        jobID,
		StoredName:   "square.dxf",
		OriginalName: "square.dxf",
		Size:         128,
		InputFormat:  convert.FormatDXF,
		Settings:     settings,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	rec := NewRecord(testManifest("job-1"))
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != StatusQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
	if got.InputFormat != convert.FormatDXF || got.OutputFormat != convert.OutputSTL {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := store.MarkRunning(ctx, "job-1"); err != nil {
		t.Fatalf("MarkRunning returned error: %v", err)
	}
	entry := convert.StageEntry{Stage: "normalize", Tool: "native", OK: true}
	if err := store.AppendStage(ctx, "job-1", entry); err != nil {
		t.Fatalf("AppendStage returned error: %v", err)
	}
	if err := store.MarkDone(ctx, "job-1", "square.stl", 684); err != nil {
		t.Fatalf("MarkDone returned error: %v", err)
	}

	got, err = store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != StatusDone {
		t.Fatalf("status = %s, want done", got.Status)
	}
	if got.OutputFilename != "square.stl" || got.OutputSize != 684 {
		t.Fatalf("unexpected output info: %+v", got)
	}
	if len(got.StageLog) != 1 || got.StageLog[0].Stage != "normalize" {
		t.Fatalf("unexpected stage log: %+v", got.StageLog)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt is nil for a done job")
	}
}

func TestStoreMarkFailed(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, NewRecord(testManifest("job-2"))); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := store.MarkFailed(ctx, "job-2", convert.CodeStageFailed, "stage failed"); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}

	got, err := store.Get(ctx, "job-2")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == nil || got.Error.Code != convert.CodeStageFailed {
		t.Fatalf("unexpected error info: %+v", got.Error)
	}
	if got.Downloadable() {
		t.Fatal("failed job must not be downloadable")
	}
}

func TestStoreGetMissing(t *testing.T) {
	store, _ := testStore(t)
	if _, err := store.Get(context.Background(), "no-such-job"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStoreUpdateMissing(t *testing.T) {
	store, _ := testStore(t)
	if err := store.MarkRunning(context.Background(), "no-such-job"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"job-a", "job-b", "job-c"} {
		rec := NewRecord(testManifest(id))
		rec.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.Put(ctx, rec); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
	}

	records, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("record count = %d, want 3", len(records))
	}
	if records[0].JobID != "job-c" || records[2].JobID != "job-a" {
		t.Fatalf("unexpected order: %s, %s, %s",
			records[0].JobID, records[1].JobID, records[2].JobID)
	}

	limited, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited record count = %d, want 2", len(limited))
	}
}

func TestStoreDelete(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, NewRecord(testManifest("job-del"))); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := store.Delete(ctx, "job-del"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := store.Get(ctx, "job-del"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound after delete, got %v", err)
	}

	records, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("record count = %d, want 0", len(records))
	}
}

func TestStoreExpiredRecordDisappears(t *testing.T) {
	store, mr := testStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, NewRecord(testManifest("job-ttl"))); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := store.MarkDone(ctx, "job-ttl", "out.stl", 1); err != nil {
		t.Fatalf("MarkDone returned error: %v", err)
	}

	done, err := store.Get(ctx, "job-ttl")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if done.ExpiresAt.IsZero() {
		t.Fatal("done record has no expiry")
	}

	mr.FastForward(2 * time.Hour)

	if _, err := store.Get(ctx, "job-ttl"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound after ttl, got %v", err)
	}
	// 失効したレコードは一覧からも消える
	records, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("record count = %d, want 0", len(records))
	}
}

func TestStoreQueuedJobOutlivesRetentionWindow(t *testing.T) {
	store, mr := testStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, NewRecord(testManifest("job-wait"))); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	// 保持期間を大きく超えてキューで待ったジョブも失効しない
	mr.FastForward(2 * time.Hour)

	rec, err := store.Get(ctx, "job-wait")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if rec.Status != StatusQueued {
		t.Fatalf("status = %s, want queued", rec.Status)
	}
	if !rec.ExpiresAt.IsZero() {
		t.Fatalf("queued record must not carry an expiry: %v", rec.ExpiresAt)
	}

	// ワーカーが遅れて拾っても通常どおり完走できる
	if err := store.MarkRunning(ctx, "job-wait"); err != nil {
		t.Fatalf("MarkRunning returned error: %v", err)
	}
	mr.FastForward(2 * time.Hour)
	if err := store.MarkDone(ctx, "job-wait", "out.stl", 1); err != nil {
		t.Fatalf("MarkDone returned error: %v", err)
	}

	// 終端状態に達してからは保持期間で失効する
	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, "job-wait"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound after retention, got %v", err)
	}
}

func TestStoreCounts(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"c-1", "c-2", "c-3"} {
		if err := store.Put(ctx, NewRecord(testManifest(id))); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
	}
	if err := store.MarkDone(ctx, "c-1", "out.stl", 1); err != nil {
		t.Fatalf("MarkDone returned error: %v", err)
	}
	if err := store.MarkFailed(ctx, "c-2", convert.CodeTimeout, "timeout"); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts returned error: %v", err)
	}
	if counts[string(StatusQueued)] != 1 || counts[string(StatusDone)] != 1 || counts[string(StatusFailed)] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if counts["completed_total"] != 1 {
		t.Fatalf("completed_total = %d, want 1", counts["completed_total"])
	}
}

func TestErrorInfoFromClassifiesErrors(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{&convert.Error{Code: convert.CodeToolUnavailable, Message: "x"}, convert.CodeToolUnavailable},
		{&convert.ValidationError{Fields: []convert.FieldError{{Field: "f"}}}, convert.CodeValidation},
		{context.DeadlineExceeded, convert.CodeTimeout},
		{errors.New("boom"), convert.CodeInternal},
	}
	for _, tc := range cases {
		if info := errorInfoFrom(tc.err); info.Code != tc.code {
			t.Fatalf("errorInfoFrom(%v) = %s, want %s", tc.err, info.Code, tc.code)
		}
	}
}
