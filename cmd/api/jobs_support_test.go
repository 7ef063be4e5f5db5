package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/cad-forge/internal/config"
	"github.com/yourusername/cad-forge/internal/convert"
	"github.com/yourusername/cad-forge/internal/jobs"
	"github.com/yourusername/cad-forge/internal/tools"
)

func testJobRouter(t *testing.T) (*gin.Engine, *jobs.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := jobs.NewStoreWithClient(client, time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{
		MaxFileSize:        1024,
		WorkDir:            t.TempDir(),
		SyncTimeoutSeconds: 5,
		ToolTimeoutSeconds: 5,
	}
	probe := tools.NewProbeForTests(
		tools.DefaultDescriptors(nil),
		func(string) (string, error) { return "", errors.New("not found") },
		os.Stat,
	)
	svc := convert.NewService(cfg, probe, nil, nil)

	router := gin.New()
	router.GET("/api/jobs/:id", jobStatusHandler(store))
	router.GET("/api/jobs/:id/download", jobDownloadHandler(store, svc))
	router.DELETE("/api/jobs/:id", jobDeleteHandler(store, svc))
	return router, store
}

func queuedRecord(t *testing.T, store *jobs.Store, jobID string) {
	t.Helper()
	settings := convert.DefaultSettings()
	manifest := &convert.JobManifest{
		JobID:        jobID,
		StoredName:   "square.dxf",
		OriginalName: "square.dxf",
		Size:         128,
		InputFormat:  convert.FormatDXF,
		Settings:     settings,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.Put(context.Background(), jobs.NewRecord(manifest)); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
}

func jobErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}
	return resp.Error.Code
}

func TestJobStatusHandlerUnknownJob(t *testing.T) {
	router, _ := testJobRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/no-such-job", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := jobErrorCode(t, rec.Body.Bytes()); code != convert.CodeNotFound {
		t.Fatalf("error code = %s, want NOT_FOUND", code)
	}
}

func TestJobDownloadHandlerNotReady(t *testing.T) {
	router, store := testJobRouter(t)
	queuedRecord(t, store, "job-pending")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-pending/download", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := jobErrorCode(t, rec.Body.Bytes()); code != convert.CodeNotReady {
		t.Fatalf("error code = %s, want NOT_READY", code)
	}
}

func TestJobDownloadHandlerMissingArtifact(t *testing.T) {
	router, store := testJobRouter(t)
	queuedRecord(t, store, "job-done")
	if err := store.MarkDone(context.Background(), "job-done", "square.stl", 684); err != nil {
		t.Fatalf("MarkDone returned error: %v", err)
	}

	// レコードはdoneだが成果物ファイルは既に消えている
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-done/download", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := jobErrorCode(t, rec.Body.Bytes()); code != convert.CodeNotFound {
		t.Fatalf("error code = %s, want NOT_FOUND", code)
	}
}

func TestJobDeleteHandlerRejectsInFlightJob(t *testing.T) {
	router, store := testJobRouter(t)
	queuedRecord(t, store, "job-running")
	if err := store.MarkRunning(context.Background(), "job-running"); err != nil {
		t.Fatalf("MarkRunning returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/jobs/job-running", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := jobErrorCode(t, rec.Body.Bytes()); code != convert.CodeNotReady {
		t.Fatalf("error code = %s, want NOT_READY", code)
	}
}
