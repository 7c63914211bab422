package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/fdown/api/internal/cache"
	"github.com/fdown/api/internal/extractor"
	"github.com/fdown/api/internal/model"
	"github.com/fdown/api/internal/registry"
	"github.com/fdown/api/internal/scheduler"
	"github.com/fdown/api/internal/service"
	"github.com/fdown/api/internal/store"
	"github.com/fdown/api/internal/tracker"
)

// testApp wires the API the same way main.go does, with a fake extractor and
// no rate limiting.
type testApp struct {
	app *fiber.App
	svc *service.DownloadService
}

func setupApp(t *testing.T, fake extractor.Extractor, schedCfg scheduler.Config) *testApp {
	t.Helper()

	reg := registry.New(registry.Config{
		Retention:    time.Hour,
		SuccessReuse: 15 * time.Minute,
		FailedGrace:  5 * time.Minute,
	})
	tr := tracker.New(reg)
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	ca := cache.New(st, 0, time.Minute)

	if schedCfg.Workers == 0 {
		schedCfg.Workers = 2
	}
	if schedCfg.QueueDepth == 0 {
		schedCfg.QueueDepth = 8
	}
	if schedCfg.JobTimeout == 0 {
		schedCfg.JobTimeout = 10 * time.Second
	}
	if schedCfg.CacheTTL == 0 {
		schedCfg.CacheTTL = 15 * time.Minute
	}
	sched := scheduler.New(schedCfg, reg, tr, fake, ca, st)
	sched.Start()
	t.Cleanup(sched.Stop)

	svc := service.NewDownloadService(reg, sched, tr, ca, st, fake, time.Minute)
	h := NewDownloadHandler(svc, validator.New())

	app := fiber.New()
	app.Get("/health", Health("test"))
	api := app.Group("/api/v1")
	video := api.Group("/video")
	video.Post("/download", h.Submit)
	video.Post("/info", h.Info)
	video.Get("/status/:jobId", h.Status)
	video.Get("/result/:jobId", h.Result)
	video.Post("/cancel/:jobId", h.Cancel)

	return &testApp{app: app, svc: svc}
}

func (ta *testApp) request(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reqBody)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ta.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

func assertStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body: %s)", resp.StatusCode, want, body)
	}
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("parse body %q: %v", data, err)
	}
	return result
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("no error object in body: %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}

func (ta *testApp) waitState(t *testing.T, jobID string, want model.JobState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		status, err := ta.svc.Status(jobID)
		if err == nil && status.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
}

func downloadBody(url string) string {
	return `{"url": "` + url + `", "format": "mp4", "quality": "720p"}`
}

func TestSubmit_Accepted(t *testing.T) {
	ta := setupApp(t, &extractor.Fake{}, scheduler.Config{})

	resp := ta.request(t, http.MethodPost, "/api/v1/video/download",
		downloadBody("https://www.facebook.com/watch/?v=123"))
	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	if result["jobId"] == nil || result["jobId"] == "" {
		t.Error("expected 'jobId' in response")
	}
	if result["status"] != "queued" {
		t.Errorf("expected status 'queued', got %v", result["status"])
	}
}

func TestSubmit_DuplicateReturnsSameJob(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	fake := &extractor.Fake{
		ExtractFunc: func(ctx context.Context, spec model.JobSpec, destDir string, progress extractor.ProgressFunc) (*extractor.Result, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, context.Canceled
		},
	}
	ta := setupApp(t, fake, scheduler.Config{})

	body := downloadBody("https://www.facebook.com/watch/?v=video123")

	first := parseJSON(t, ta.request(t, http.MethodPost, "/api/v1/video/download", body))
	second := parseJSON(t, ta.request(t, http.MethodPost, "/api/v1/video/download", body))

	if first["jobId"] != second["jobId"] {
		t.Errorf("duplicate submission created a new job: %v vs %v", first["jobId"], second["jobId"])
	}
	if second["status"] != "existing" {
		t.Errorf("expected status 'existing', got %v", second["status"])
	}
}

func TestSubmit_EmptyURL(t *testing.T) {
	ta := setupApp(t, &extractor.Fake{}, scheduler.Config{})

	resp := ta.request(t, http.MethodPost, "/api/v1/video/download", `{"url": ""}`)
	assertStatus(t, resp, http.StatusBadRequest)
	if code := errorCode(t, resp); code != "INVALID_URL" {
		t.Errorf("error code = %s, want INVALID_URL", code)
	}
}

func TestSubmit_UnsupportedHost(t *testing.T) {
	ta := setupApp(t, &extractor.Fake{}, scheduler.Config{})

	resp := ta.request(t, http.MethodPost, "/api/v1/video/download",
		downloadBody("https://vimeo.com/12345"))
	assertStatus(t, resp, http.StatusBadRequest)
	if code := errorCode(t, resp); code != "INVALID_URL" {
		t.Errorf("error code = %s, want INVALID_URL", code)
	}
}

func TestSubmit_BadFormat(t *testing.T) {
	ta := setupApp(t, &extractor.Fake{}, scheduler.Config{})

	resp := ta.request(t, http.MethodPost, "/api/v1/video/download",
		`{"url": "https://www.facebook.com/watch/?v=1", "format": "flv"}`)
	assertStatus(t, resp, http.StatusBadRequest)
	if code := errorCode(t, resp); code != "UNSUPPORTED_FORMAT" {
		t.Errorf("error code = %s, want UNSUPPORTED_FORMAT", code)
	}
}

func TestSubmit_Backpressure(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	fake := &extractor.Fake{
		ExtractFunc: func(ctx context.Context, spec model.JobSpec, destDir string, progress extractor.ProgressFunc) (*extractor.Result, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, context.Canceled
		},
	}
	ta := setupApp(t, fake, scheduler.Config{Workers: 1, QueueDepth: 1})

	busy := parseJSON(t, ta.request(t, http.MethodPost, "/api/v1/video/download",
		downloadBody("https://www.facebook.com/watch/?v=busy")))
	ta.waitState(t, busy["jobId"].(string), model.JobStateRunning)

	ta.request(t, http.MethodPost, "/api/v1/video/download",
		downloadBody("https://www.facebook.com/watch/?v=queued"))

	resp := ta.request(t, http.MethodPost, "/api/v1/video/download",
		downloadBody("https://www.facebook.com/watch/?v=excess"))
	assertStatus(t, resp, http.StatusServiceUnavailable)
	if code := errorCode(t, resp); code != "BACKPRESSURE" {
		t.Errorf("error code = %s, want BACKPRESSURE", code)
	}
}

func TestStatus_NotFound(t *testing.T) {
	ta := setupApp(t, &extractor.Fake{}, scheduler.Config{})

	resp := ta.request(t, http.MethodGet, "/api/v1/video/status/unknown", "")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestStatus_ReportsProgressAndTerminal(t *testing.T) {
	fake := &extractor.Fake{Steps: []int{30, 60, 90}}
	ta := setupApp(t, fake, scheduler.Config{})

	submitted := parseJSON(t, ta.request(t, http.MethodPost, "/api/v1/video/download",
		downloadBody("https://www.facebook.com/watch/?v=1")))
	jobID := submitted["jobId"].(string)
	ta.waitState(t, jobID, model.JobStateSucceeded)

	resp := ta.request(t, http.MethodGet, "/api/v1/video/status/"+jobID, "")
	assertStatus(t, resp, http.StatusOK)
	status := parseJSON(t, resp)
	if status["state"] != "succeeded" {
		t.Errorf("state = %v", status["state"])
	}
	if status["progress"].(float64) != 100 {
		t.Errorf("progress = %v, want 100", status["progress"])
	}
}

func TestResult_StreamsBytes(t *testing.T) {
	fake := &extractor.Fake{Payload: []byte("cached video bytes")}
	ta := setupApp(t, fake, scheduler.Config{})

	submitted := parseJSON(t, ta.request(t, http.MethodPost, "/api/v1/video/download",
		downloadBody("https://www.facebook.com/watch/?v=1")))
	jobID := submitted["jobId"].(string)
	ta.waitState(t, jobID, model.JobStateSucceeded)

	resp := ta.request(t, http.MethodGet, "/api/v1/video/result/"+jobID, "")
	assertStatus(t, resp, http.StatusOK)

	if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %s", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %s", cd)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "cached video bytes" {
		t.Errorf("body = %q", data)
	}
}

func TestResult_NotReady(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	fake := &extractor.Fake{
		ExtractFunc: func(ctx context.Context, spec model.JobSpec, destDir string, progress extractor.ProgressFunc) (*extractor.Result, error) {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, context.Canceled
		},
	}
	ta := setupApp(t, fake, scheduler.Config{})

	submitted := parseJSON(t, ta.request(t, http.MethodPost, "/api/v1/video/download",
		downloadBody("https://www.facebook.com/watch/?v=1")))
	<-started

	resp := ta.request(t, http.MethodGet, "/api/v1/video/result/"+submitted["jobId"].(string), "")
	assertStatus(t, resp, http.StatusConflict)
	if code := errorCode(t, resp); code != "NOT_READY" {
		t.Errorf("error code = %s, want NOT_READY", code)
	}
}

func TestResult_Expired(t *testing.T) {
	ta := setupApp(t, &extractor.Fake{}, scheduler.Config{CacheTTL: time.Millisecond})

	submitted := parseJSON(t, ta.request(t, http.MethodPost, "/api/v1/video/download",
		downloadBody("https://www.facebook.com/watch/?v=1")))
	jobID := submitted["jobId"].(string)
	ta.waitState(t, jobID, model.JobStateSucceeded)
	time.Sleep(20 * time.Millisecond)

	resp := ta.request(t, http.MethodGet, "/api/v1/video/result/"+jobID, "")
	assertStatus(t, resp, http.StatusGone)
	if code := errorCode(t, resp); code != "EXPIRED" {
		t.Errorf("error code = %s, want EXPIRED", code)
	}
}

func TestCancel_RunningJob(t *testing.T) {
	started := make(chan struct{})
	fake := &extractor.Fake{
		ExtractFunc: func(ctx context.Context, spec model.JobSpec, destDir string, progress extractor.ProgressFunc) (*extractor.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	ta := setupApp(t, fake, scheduler.Config{})

	submitted := parseJSON(t, ta.request(t, http.MethodPost, "/api/v1/video/download",
		downloadBody("https://www.facebook.com/watch/?v=1")))
	jobID := submitted["jobId"].(string)
	<-started

	resp := ta.request(t, http.MethodPost, "/api/v1/video/cancel/"+jobID, "")
	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	if result["cancelled"] != true {
		t.Errorf("cancelled = %v", result["cancelled"])
	}
	ta.waitState(t, jobID, model.JobStateCancelled)
}

func TestInfo(t *testing.T) {
	ta := setupApp(t, &extractor.Fake{}, scheduler.Config{})

	resp := ta.request(t, http.MethodPost, "/api/v1/video/info",
		`{"url": "https://www.facebook.com/watch/?v=1"}`)
	assertStatus(t, resp, http.StatusOK)
	info := parseJSON(t, resp)
	if info["title"] == "" || info["formats"] == nil {
		t.Errorf("info = %v", info)
	}
}

func TestHealth(t *testing.T) {
	ta := setupApp(t, &extractor.Fake{}, scheduler.Config{})

	resp := ta.request(t, http.MethodGet, "/health", "")
	assertStatus(t, resp, http.StatusOK)
	body := parseJSON(t, resp)
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
}
