package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gistd/gistd/internal/cache"
	"github.com/gistd/gistd/internal/job"
)

type fakeCache struct {
	entries map[string]string
	err     error
}

func (c *fakeCache) Lookup(ctx context.Context, fp string) (string, bool, error) {
	if c.err != nil {
		return "", false, c.err
	}
	v, ok := c.entries[fp]
	return v, ok, nil
}

func (c *fakeCache) Store(ctx context.Context, fp, summary string, ttl time.Duration) error {
	if c.entries == nil {
		c.entries = make(map[string]string)
	}
	c.entries[fp] = summary
	return nil
}

type fakeExtractor struct {
	text string
	err  error
}

func (e *fakeExtractor) Extract(url string) (string, error) {
	return e.text, e.err
}

func newTestServer(t *testing.T, c cache.Cache, e *fakeExtractor) (*httptest.Server, job.Store) {
	t.Helper()
	store, err := job.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, c, e, zerolog.Nop(), 50000)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, http.HandlerFunc(h.Submit))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env
}

func postSubmit(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/submit", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/submit: %v", err)
	}
	return resp
}

func TestSubmit_TextQueued(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t, &fakeCache{}, &fakeExtractor{})

	resp := postSubmit(t, srv, `{"text":"an article worth summarizing"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if !env.Success {
		t.Error("success = false, want true")
	}
	data := env.Data.(map[string]any)
	if data["status"] != "queued" {
		t.Errorf("status = %v, want queued", data["status"])
	}

	j, err := store.Get(context.Background(), data["job_id"].(string))
	if err != nil || j == nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if j.Status != job.StatusQueued {
		t.Errorf("persisted status = %q, want queued", j.Status)
	}
	if j.Content != "an article worth summarizing" {
		t.Errorf("persisted content = %q", j.Content)
	}
}

func TestSubmit_CacheHitCompletesImmediately(t *testing.T) {
	t.Parallel()
	text := "previously summarized article"
	c := &fakeCache{entries: map[string]string{
		cache.Fingerprint(text): "the cached summary",
	}}
	srv, store := newTestServer(t, c, &fakeExtractor{})

	resp := postSubmit(t, srv, `{"text":"`+text+`"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	data := env.Data.(map[string]any)
	if data["status"] != "completed" {
		t.Errorf("status = %v, want completed", data["status"])
	}

	j, _ := store.Get(context.Background(), data["job_id"].(string))
	if j.Status != job.StatusCompleted || !j.Cached {
		t.Errorf("persisted job = status %q cached %v, want completed cached", j.Status, j.Cached)
	}
	if j.Summary != "the cached summary" {
		t.Errorf("summary = %q, want cached value", j.Summary)
	}
	if j.ProcessingTimeMS != 0 {
		t.Errorf("processing_time_ms = %d, want 0 for a cache hit", j.ProcessingTimeMS)
	}
}

func TestSubmit_CacheErrorFallsBackToQueue(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, &fakeCache{err: errors.New("redis down")}, &fakeExtractor{})

	resp := postSubmit(t, srv, `{"text":"some article"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if env.Data.(map[string]any)["status"] != "queued" {
		t.Error("cache failure should degrade to a queued job")
	}
}

func TestSubmit_URLExtracted(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t, &fakeCache{}, &fakeExtractor{text: "extracted article body"})

	resp := postSubmit(t, srv, `{"url":"https://example.com/post"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	id := env.Data.(map[string]any)["job_id"].(string)

	j, _ := store.Get(context.Background(), id)
	if j.URL != "https://example.com/post" {
		t.Errorf("url = %q", j.URL)
	}
	if j.Content != "extracted article body" {
		t.Errorf("content = %q, want extracted text", j.Content)
	}
}

func TestSubmit_ExtractionFailureRejected(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, &fakeCache{}, &fakeExtractor{err: errors.New("invalid URL or failed to fetch content")})

	resp := postSubmit(t, srv, `{"url":"https://unreachable.example"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if env.Success {
		t.Error("success = true, want false")
	}
}

func TestSubmit_ValidationFailures(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, &fakeCache{}, &fakeExtractor{})

	tests := []struct {
		name string
		body string
	}{
		{"neither url nor text", `{}`},
		{"both url and text", `{"url":"https://example.com","text":"x"}`},
		{"whitespace only text", `{"text":"   \n\t  "}`},
		{"invalid json", `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postSubmit(t, srv, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			env := decodeEnvelope(t, resp)
			if env.Success {
				t.Error("success = true, want false")
			}
		})
	}
}

func TestSubmit_OverLongTextRejected(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, &fakeCache{}, &fakeExtractor{})

	resp := postSubmit(t, srv, `{"text":"`+strings.Repeat("a", 50001)+`"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if !strings.Contains(env.Message, "50000") {
		t.Errorf("message = %q, should name the limit", env.Message)
	}
}

func TestStatus_NotFound(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, &fakeCache{}, &fakeExtractor{})

	resp, err := http.Get(srv.URL + "/api/status/no-such-id")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	decodeEnvelope(t, resp)
}

func TestStatus_CompletedIncludesTimings(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t, &fakeCache{}, &fakeExtractor{})

	now := time.Now().UTC()
	store.Create(context.Background(), &job.Job{
		ID: "done-1", Status: job.StatusCompleted, Summary: "s",
		ProcessingTimeMS: 420, CreatedAt: now, UpdatedAt: now,
	})

	resp, err := http.Get(srv.URL + "/api/status/done-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := decodeEnvelope(t, resp).Data.(map[string]any)
	if data["status"] != "completed" {
		t.Errorf("status = %v", data["status"])
	}
	if data["processing_time_ms"] != float64(420) {
		t.Errorf("processing_time_ms = %v, want 420", data["processing_time_ms"])
	}
}

func TestStatus_FailedIs422(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t, &fakeCache{}, &fakeExtractor{})

	now := time.Now().UTC()
	store.Create(context.Background(), &job.Job{ID: "bad-1", Status: job.StatusQueued, CreatedAt: now, UpdatedAt: now})
	store.Fail(context.Background(), "bad-1", "Rate limit exceeded: too many requests to summarization backend")

	resp, err := http.Get(srv.URL + "/api/status/bad-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	data := decodeEnvelope(t, resp).Data.(map[string]any)
	if msg, _ := data["error_message"].(string); !strings.Contains(msg, "Rate limit exceeded") {
		t.Errorf("error_message = %v", data["error_message"])
	}
}

func TestResult_PendingIs202(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t, &fakeCache{}, &fakeExtractor{})

	now := time.Now().UTC()
	store.Create(context.Background(), &job.Job{ID: "wip-1", Status: job.StatusQueued, CreatedAt: now, UpdatedAt: now})
	store.MarkProcessing(context.Background(), "wip-1")

	resp, err := http.Get(srv.URL + "/api/result/wip-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if env.Message != "Job is not yet completed" {
		t.Errorf("message = %q", env.Message)
	}
}

func TestResult_Completed(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t, &fakeCache{}, &fakeExtractor{})

	now := time.Now().UTC()
	store.Create(context.Background(), &job.Job{
		ID: "done-2", URL: "https://example.com", Status: job.StatusCompleted,
		Summary: "final summary", ProcessingTimeMS: 100, CreatedAt: now, UpdatedAt: now,
	})

	resp, err := http.Get(srv.URL + "/api/result/done-2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := decodeEnvelope(t, resp).Data.(map[string]any)
	if data["summary"] != "final summary" {
		t.Errorf("summary = %v", data["summary"])
	}
	if data["original_url"] != "https://example.com" {
		t.Errorf("original_url = %v", data["original_url"])
	}
}

func TestResult_NotFoundAndFailed(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t, &fakeCache{}, &fakeExtractor{})

	resp, err := http.Get(srv.URL + "/api/result/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing job: status = %d, want 404", resp.StatusCode)
	}
	decodeEnvelope(t, resp)

	now := time.Now().UTC()
	store.Create(context.Background(), &job.Job{ID: "bad-2", Status: job.StatusQueued, CreatedAt: now, UpdatedAt: now})
	store.Fail(context.Background(), "bad-2", "Invalid summarization API key")

	resp, err = http.Get(srv.URL + "/api/result/bad-2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("failed job: status = %d, want 422", resp.StatusCode)
	}
	decodeEnvelope(t, resp)
}

func TestListJobs(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t, &fakeCache{}, &fakeExtractor{})

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		store.Create(context.Background(), &job.Job{
			ID: "list-" + string(rune('a'+i)), Status: job.StatusQueued,
			CreatedAt: ts, UpdatedAt: ts,
		})
	}

	resp, err := http.Get(srv.URL + "/api/jobs?limit=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := decodeEnvelope(t, resp).Data.(map[string]any)
	if data["total"] != float64(3) {
		t.Errorf("total = %v, want 3", data["total"])
	}
	if jobs := data["jobs"].([]any); len(jobs) != 2 {
		t.Errorf("returned %d jobs, want 2", len(jobs))
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, &fakeCache{}, &fakeExtractor{})

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if !decodeEnvelope(t, resp).Success {
		t.Error("success = false")
	}
}
