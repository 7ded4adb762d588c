package health

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	rtsup "modlog/internal/runtime/supervisor"
	"modlog/internal/task/scheduler"

	"github.com/prometheus/client_golang/prometheus"
)

type flag struct{ v atomic.Bool }

func (f *flag) Online() bool { return f.v.Load() }

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestRootReflectsGatewayStatus(t *testing.T) {
	t.Parallel()
	st := &flag{}
	h := New(Config{}, Options{Status: st, Gatherer: prometheus.NewRegistry()}).Handler()

	if code, body := get(t, h, "/"); code != http.StatusServiceUnavailable || body != "initializing" {
		t.Fatalf("before ready: %d %q", code, body)
	}
	st.v.Store(true)
	if code, body := get(t, h, "/"); code != http.StatusOK || body != "online" {
		t.Fatalf("after ready: %d %q", code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "modlog_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	h := New(Config{}, Options{Gatherer: reg}).Handler()
	code, body := get(t, h, "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "modlog_test_total 3") {
		t.Fatalf("metrics: %d\n%s", code, body)
	}
}

func TestStatusIncludesSupervisors(t *testing.T) {
	t.Parallel()
	h := New(Config{}, Options{
		Gatherer: prometheus.NewRegistry(),
		Supervisors: func() map[string]rtsup.Snapshot {
			return map[string]rtsup.Snapshot{"notifier": {Active: 2, Goroutines: []rtsup.GoroutineStats{{Name: "worker", Active: 2}}}}
		},
	}).Handler()

	code, body := get(t, h, "/status")
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	var got statusBody
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, body)
	}
	if got.Online || got.Supervisors["notifier"].Active != 2 {
		t.Fatalf("status = %+v", got)
	}
}

type fakeJobs struct {
	ran []string
}

func (f *fakeJobs) Jobs() []scheduler.JobInfo {
	return []scheduler.JobInfo{{Name: "state.flush", Spec: "@every 10m", Runs: uint64(len(f.ran))}}
}

func (f *fakeJobs) RunNow(name string) error {
	switch name {
	case "state.flush":
		f.ran = append(f.ran, name)
		return nil
	case "idle":
		return scheduler.ErrNotStarted
	}
	return fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, name)
}

func TestJobsRoutes(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobs{}
	h := New(Config{}, Options{Gatherer: prometheus.NewRegistry(), Jobs: jobs}).Handler()

	post := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		return rec.Code
	}
	tests := []struct {
		path string
		want int
	}{
		{path: "/jobs/state.flush/run", want: http.StatusAccepted},
		{path: "/jobs/nope/run", want: http.StatusNotFound},
		{path: "/jobs/idle/run", want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if got := post(tt.path); got != tt.want {
			t.Errorf("POST %s = %d, want %d", tt.path, got, tt.want)
		}
	}
	if len(jobs.ran) != 1 {
		t.Fatalf("ran = %v", jobs.ran)
	}

	_, body := get(t, h, "/status")
	var got statusBody
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, body)
	}
	if len(got.Jobs) != 1 || got.Jobs[0].Name != "state.flush" || got.Jobs[0].Runs != 1 {
		t.Fatalf("jobs = %+v", got.Jobs)
	}
}

func TestJobsRouteAbsentWithoutScheduler(t *testing.T) {
	t.Parallel()
	h := New(Config{}, Options{Gatherer: prometheus.NewRegistry()}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/state.flush/run", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestNotifyReadyOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	s := New(Config{}, Options{})
	s.NotifyReady()
	s.NotifyReady()
}
