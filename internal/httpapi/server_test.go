package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"orderbot/internal/dispatch"
	"orderbot/internal/order"
	logx "orderbot/pkg/logx"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	jobs    []order.Job
	result  dispatch.Admission
	running bool
}

func (f *fakeDispatcher) Submit(j order.Job) dispatch.Admission {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, j)
	return f.result
}

func (f *fakeDispatcher) Stats() dispatch.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return dispatch.Stats{Running: f.running, Sent: uint64(len(f.jobs))}
}

func (f *fakeDispatcher) submitted() []order.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]order.Job(nil), f.jobs...)
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAdmission(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Admission string `json:"admission"`
		JobID     string `json:"job_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	if resp.JobID == "" {
		t.Fatalf("missing job_id in %q", rec.Body.String())
	}
	return resp.Admission
}

func TestEventIntake(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		result    dispatch.Admission
		body      string
		wantCode  int
		wantAdm   string
		wantCount int
	}{
		{
			name:      "created accepted",
			result:    dispatch.Accepted,
			body:      `{"kind":"order_created","order_id":42,"snapshot":{"username":"alice","total":{"amount":"35.00","currency":"€"}}}`,
			wantCode:  http.StatusAccepted,
			wantAdm:   "accepted",
			wantCount: 1,
		},
		{
			name:      "overflow is not a caller failure",
			result:    dispatch.Rejected,
			body:      `{"kind":"order_status_changed","order_id":7,"snapshot":{"old_status":"NEW","new_status":"PROCESSING"}}`,
			wantCode:  http.StatusAccepted,
			wantAdm:   "rejected",
			wantCount: 1,
		},
		{name: "malformed json", body: `{"kind":`, wantCode: http.StatusBadRequest},
		{name: "unknown kind", body: `{"kind":"order_exploded","order_id":1}`, wantCode: http.StatusBadRequest},
		{name: "status change without statuses", body: `{"kind":"order_status_changed","order_id":1}`, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fd := &fakeDispatcher{result: tt.result, running: true}
			h := New(Config{}, fd, logx.Nop()).Handler()
			rec := do(t, h, http.MethodPost, "/api/v1/events", tt.body, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantAdm != "" {
				if got := decodeAdmission(t, rec); got != tt.wantAdm {
					t.Fatalf("admission = %q, want %q", got, tt.wantAdm)
				}
			}
			if got := len(fd.submitted()); got != tt.wantCount {
				t.Fatalf("submitted = %d, want %d", got, tt.wantCount)
			}
		})
	}
}

func TestEventIntakeCopiesSnapshot(t *testing.T) {
	t.Parallel()
	fd := &fakeDispatcher{result: dispatch.Accepted, running: true}
	h := New(Config{}, fd, logx.Nop()).Handler()
	body := `{"kind":"order_created","order_id":5,"image_ref":" media/a.jpg ","snapshot":{"username":"bob","items":[{"name":"Tulips","quantity":3}]}}`
	if rec := do(t, h, http.MethodPost, "/api/v1/events", body, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d", rec.Code)
	}
	j := fd.submitted()[0]
	if j.ID == "" || j.CreatedAt.IsZero() {
		t.Fatalf("job not stamped: %+v", j)
	}
	if j.ImageRef != "media/a.jpg" || j.Snapshot.Items[0].Name != "Tulips" {
		t.Fatalf("job = %+v", j)
	}
}

func TestTestOrder(t *testing.T) {
	t.Parallel()
	fd := &fakeDispatcher{result: dispatch.Accepted, running: true}
	h := New(Config{}, fd, logx.Nop()).Handler()

	body := `{"bouquet_name":"Roses in a basket","price":"35.00","delivery_date":"30.12.2025","image_path":"media/products/test_bouquet.jpg"}`
	rec := do(t, h, http.MethodPost, "/api/v1/test-order", body, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d (%s)", rec.Code, rec.Body.String())
	}
	if got := decodeAdmission(t, rec); got != "accepted" {
		t.Fatalf("admission = %q", got)
	}
	j := fd.submitted()[0]
	if j.Kind != order.KindTestOrder || j.Snapshot.Total.String() != "35.00 €" || j.Snapshot.DeliveryDate != "30.12.2025" {
		t.Fatalf("job = %+v", j)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/test-order", `{"bouquet_name":"Lilies","price":12.5}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("numeric price: code = %d (%s)", rec.Code, rec.Body.String())
	}
	if got := fd.submitted()[1].Snapshot.Total.Minor; got != 1250 {
		t.Fatalf("minor = %d", got)
	}

	for _, bad := range []string{
		`{"price":"10"}`,
		`{"bouquet_name":"x","price":"ten"}`,
		`{"bouquet_name":"x","price":"-1"}`,
		`not json`,
	} {
		if rec := do(t, h, http.MethodPost, "/api/v1/test-order", bad, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: code = %d", bad, rec.Code)
		}
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	fd := &fakeDispatcher{result: dispatch.Accepted, running: true}
	h := New(Config{Token: "s3cret"}, fd, logx.Nop()).Handler()
	body := `{"bouquet_name":"x","price":"1"}`

	if rec := do(t, h, http.MethodPost, "/api/v1/test-order", body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: code = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/test-order", body, map[string]string{"Authorization": "Bearer nope"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: code = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/test-order", body, map[string]string{"Authorization": "Bearer s3cret"}); rec.Code != http.StatusAccepted {
		t.Fatalf("bearer: code = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/stats?token=s3cret", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("query token: code = %d", rec.Code)
	}
	if n := len(fd.submitted()); n != 1 {
		t.Fatalf("submitted = %d, want 1", n)
	}
}

func TestHealthStatsAndMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderbot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	fd := &fakeDispatcher{running: false}
	h := New(Config{}, fd, logx.Nop(), WithGatherer(reg)).Handler()

	if rec := do(t, h, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz stopped: code = %d", rec.Code)
	}
	fd.mu.Lock()
	fd.running = true
	fd.mu.Unlock()
	if rec := do(t, h, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz running: code = %d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/stats", "", nil)
	var st dispatch.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil || !st.Running {
		t.Fatalf("stats = %+v, %v", st, err)
	}

	rec = do(t, h, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "orderbot_test_total 1") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}

	if rec := do(t, h, http.MethodGet, "/debug/pprof/", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled: code = %d", rec.Code)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	fd := &fakeDispatcher{running: true}
	s := New(Config{Addr: "127.0.0.1:0"}, fd, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("listener still reported after Stop")
	}
}

func TestStartRefusesPublicAddrWithoutToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "0.0.0.0:0"}, &fakeDispatcher{}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		_ = s.Stop(context.Background())
		t.Fatal("expected refusal")
	}
}
