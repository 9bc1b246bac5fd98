package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/edualign/internal/api"
	"github.com/MrWong99/edualign/internal/discourse"
	"github.com/MrWong99/edualign/internal/observe"
	"github.com/MrWong99/edualign/internal/oracle"
	"github.com/MrWong99/edualign/internal/oracle/mock"
	"github.com/MrWong99/edualign/internal/pipeline"
	"github.com/MrWong99/edualign/internal/store"
	"github.com/MrWong99/edualign/internal/transcript"
	"github.com/MrWong99/edualign/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// runnerFunc adapts a function to [api.Runner].
type runnerFunc func(ctx context.Context, segments []types.Segment) (*pipeline.Result, error)

func (f runnerFunc) Run(ctx context.Context, segments []types.Segment) (*pipeline.Result, error) {
	return f(ctx, segments)
}

func failingRunner(err error) api.Runner {
	return runnerFunc(func(context.Context, []types.Segment) (*pipeline.Result, error) {
		return nil, err
	})
}

func newServer(t *testing.T, r api.Runner, opts ...api.Option) (*httptest.Server, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	mux := http.NewServeMux()
	api.New(r, st, opts...).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, st
}

type jobResponse struct {
	ID       string                   `json:"id"`
	Status   string                   `json:"status"`
	Segments []types.RealignedSegment `json:"segments"`
	Units    []discourse.Unit         `json:"units"`
	Error    string                   `json:"error"`
}

func postJob(t *testing.T, srv *httptest.Server, body string) (*http.Response, jobResponse) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/jobs: %v", err)
	}
	defer resp.Body.Close()
	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, job
}

const twoWords = `{"segments":[
	{"type":"word","text":"Hello","start_ms":0,"end_ms":400},
	{"type":"spacing","text":" ","start_ms":400,"end_ms":1400},
	{"type":"word","text":"world.","start_ms":1400,"end_ms":1900}
]}`

// ── POST /v1/jobs ────────────────────────────────────────────────────────────

func TestCreateJob_Success(t *testing.T) {
	t.Parallel()
	srv, st := newServer(t, pipeline.New(mock.New()))

	resp, job := postJob(t, srv, twoWords)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d (error %q)", resp.StatusCode, http.StatusCreated, job.Error)
	}
	if loc := resp.Header.Get("Location"); loc != "/v1/jobs/"+job.ID {
		t.Errorf("Location = %q", loc)
	}
	if job.Status != "succeeded" {
		t.Errorf("job status = %q, want succeeded", job.Status)
	}
	// Identity oracle: one unit covering both words, spacing passed through.
	if len(job.Units) != 1 || job.Units[0].Content != "Helloworld." {
		t.Errorf("units = %+v", job.Units)
	}
	if len(job.Segments) != 2 {
		t.Fatalf("segments = %+v, want merged word + spacing", job.Segments)
	}
	if job.Segments[0].Text != "Helloworld." || job.Segments[0].StartMs != 0 || job.Segments[0].EndMs != 1900 {
		t.Errorf("merged segment = %+v", job.Segments[0])
	}
	if job.Segments[1].Type != types.SegmentSpacing || job.Segments[1].Unit != transcript.Unassigned {
		t.Errorf("spacing segment = %+v", job.Segments[1])
	}

	stored, err := st.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("stored job: %v", err)
	}
	if stored.Status != store.StatusSucceeded || len(stored.Segments) != 2 {
		t.Errorf("stored job = %+v", stored)
	}
}

func TestCreateJob_WordsPayload(t *testing.T) {
	t.Parallel()
	var got []types.Segment
	r := runnerFunc(func(_ context.Context, segs []types.Segment) (*pipeline.Result, error) {
		got = segs
		return &pipeline.Result{}, nil
	})
	srv, _ := newServer(t, r)

	resp, _ := postJob(t, srv, `{"words":[{"text":"Hi","start":0.1,"end":0.4,"type":"word"}]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if len(got) != 1 || got[0].StartMs != 100 || got[0].EndMs != 400 {
		t.Errorf("runner received %+v", got)
	}
}

// rateLimitedPastDeadline returns the error a one-per-minute oracle gives
// once its token is spent and the caller has a short deadline.
func rateLimitedPastDeadline() error {
	o := oracle.WithRateLimit(mock.New(), 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = o.SplitUnits(ctx, "x", oracle.EffortNormal)
	_, err := o.SplitUnits(ctx, "x", oracle.EffortNormal)
	return err
}

func TestCreateJob_ErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"empty input", fmt.Errorf("pipeline: %w", discourse.ErrEmptyInput), http.StatusBadRequest},
		{"invalid segment", &transcript.InvalidSegmentError{Index: 2, Reason: "end before start"}, http.StatusBadRequest},
		{"drift", &discourse.DriftError{Stage: discourse.StageUnit, Attempts: 3}, http.StatusUnprocessableEntity},
		{"boundary", fmt.Errorf("x: %w", &discourse.BoundaryNotFoundError{Unit: 1, Token: "foo"}), http.StatusUnprocessableEntity},
		{"mismatch", &transcript.MismatchError{Segment: 4, Unit: 1}, http.StatusUnprocessableEntity},
		{"auth", &oracle.InvocationError{Op: oracle.OpSplitUnits, Err: errors.New("401")}, http.StatusBadGateway},
		{"timeout", fmt.Errorf("oracle: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"rate limit past deadline", rateLimitedPastDeadline(), http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := api.StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}

			srv, st := newServer(t, failingRunner(tt.err))
			resp, job := postJob(t, srv, twoWords)
			if resp.StatusCode != tt.want {
				t.Errorf("HTTP status = %d, want %d", resp.StatusCode, tt.want)
			}
			if job.Status != "failed" || job.Error == "" {
				t.Errorf("job = %+v, want failed with error", job)
			}
			if job.Segments != nil || job.Units != nil {
				t.Errorf("failed job carries output: %+v", job)
			}
			stored, err := st.Get(context.Background(), job.ID)
			if err != nil {
				t.Fatalf("failed job was not stored: %v", err)
			}
			if stored.Status != store.StatusFailed {
				t.Errorf("stored status = %q, want failed", stored.Status)
			}
		})
	}
}

func TestCreateJob_BadBody(t *testing.T) {
	t.Parallel()
	called := false
	r := runnerFunc(func(context.Context, []types.Segment) (*pipeline.Result, error) {
		called = true
		return &pipeline.Result{}, nil
	})
	srv, _ := newServer(t, r)

	for _, body := range []string{`not json`, `{"foo":1}`, ``} {
		resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want %d", body, resp.StatusCode, http.StatusBadRequest)
		}
	}
	if called {
		t.Error("runner should not be called for a malformed body")
	}
}

func TestCreateJob_BodyTooLarge(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, failingRunner(errors.New("unreachable")), api.WithMaxBodyBytes(16))

	resp, err := http.Post(srv.URL+"/v1/jobs", "application/json", strings.NewReader(twoWords))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusRequestEntityTooLarge)
	}
}

func TestCreateJob_ActiveJobsGauge(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	var during int64 = -1
	r := runnerFunc(func(ctx context.Context, _ []types.Segment) (*pipeline.Result, error) {
		during = activeJobs(t, reader)
		return &pipeline.Result{}, nil
	})
	srv, _ := newServer(t, r, api.WithMetrics(m))
	postJob(t, srv, twoWords)

	if during != 1 {
		t.Errorf("active jobs during run = %d, want 1", during)
	}
	if after := activeJobs(t, reader); after != 0 {
		t.Errorf("active jobs after run = %d, want 0", after)
	}
}

func activeJobs(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "edualign.active_jobs" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				return 0
			}
			return sum.DataPoints[0].Value
		}
	}
	return 0
}

// ── GET /v1/jobs/{id} and /v1/jobs ───────────────────────────────────────────

func TestGetJob(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, pipeline.New(mock.New()))
	_, created := postJob(t, srv, twoWords)

	resp, err := http.Get(srv.URL + "/v1/jobs/" + created.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ID != created.ID || job.Status != "succeeded" || len(job.Segments) != 2 {
		t.Errorf("job = %+v", job)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, pipeline.New(mock.New()))

	for _, id := range []string{"not-a-uuid", store.NewJob().ID} {
		resp, err := http.Get(srv.URL + "/v1/jobs/" + id)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: status = %d, want %d", id, resp.StatusCode, http.StatusNotFound)
		}
	}
}

func TestListJobs(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, pipeline.New(mock.New()))
	for range 3 {
		postJob(t, srv, twoWords)
	}

	resp, err := http.Get(srv.URL + "/v1/jobs?limit=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Jobs []struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Segments int    `json:"segments"`
		} `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(body.Jobs))
	}
	if body.Jobs[0].Segments != 2 || body.Jobs[0].Status != "succeeded" {
		t.Errorf("summary = %+v", body.Jobs[0])
	}

	bad, err := http.Get(srv.URL + "/v1/jobs?limit=zero")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}
