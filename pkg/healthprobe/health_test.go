package healthprobe

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestNew(t *testing.T) {
	hc := New()

	if hc == nil {
		t.Fatal("New() returned nil")
	}

	if time.Since(hc.startTime) > 1*time.Second {
		t.Errorf("Start time is too old: %v", hc.startTime)
	}

	if hc.ready.Load() {
		t.Error("HealthChecker should not be ready by default")
	}
}

func TestSetReady(t *testing.T) {
	tests := []struct {
		name     string
		setReady bool
		expected bool
	}{
		{name: "set_ready_true", setReady: true, expected: true},
		{name: "set_ready_false", setReady: false, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := New()
			hc.SetReady(tt.setReady)

			if hc.ready.Load() != tt.expected {
				t.Errorf("SetReady(%v): ready = %v, want %v", tt.setReady, hc.ready.Load(), tt.expected)
			}
		})
	}
}

func serve(t *testing.T, handler http.HandlerFunc, path string) (int, HealthResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	handler(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s, want application/json", ct)
	}

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealth_AlwaysReturnsOK(t *testing.T) {
	hc := New()
	hc.AddCheck("engine", func() error { return errors.New("halted") })

	for _, ready := range []bool{false, true} {
		hc.SetReady(ready)

		status, body := serve(t, hc.Health(), "/health")
		if status != http.StatusOK {
			t.Errorf("Health status = %d, want %d (ready=%v)", status, http.StatusOK, ready)
		}
		if body.Status != "healthy" {
			t.Errorf("Status = %s, want healthy", body.Status)
		}
		if body.Uptime == "" {
			t.Error("Uptime is empty")
		}
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name        string
		setReady    bool
		checks      map[string]Check
		wantStatus  int
		wantBody    string
		wantFailing map[string]string
	}{
		{
			name:       "not_ready_initially",
			setReady:   false,
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "not_ready",
		},
		{
			name:       "ready_without_checks",
			setReady:   true,
			wantStatus: http.StatusOK,
			wantBody:   "ready",
		},
		{
			name:     "ready_with_passing_checks",
			setReady: true,
			checks: map[string]Check{
				"engine": func() error { return nil },
				"ledger": func() error { return nil },
			},
			wantStatus: http.StatusOK,
			wantBody:   "ready",
		},
		{
			name:     "failing_check_reported",
			setReady: true,
			checks: map[string]Check{
				"engine": func() error { return errors.New("engine halted: ledger write failed") },
				"ledger": func() error { return nil },
			},
			wantStatus:  http.StatusServiceUnavailable,
			wantBody:    "not_ready",
			wantFailing: map[string]string{"engine": "engine halted: ledger write failed"},
		},
		{
			name:     "checks_ignored_before_ready",
			setReady: false,
			checks: map[string]Check{
				"engine": func() error { return errors.New("halted") },
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := New()
			hc.SetReady(tt.setReady)
			for name, check := range tt.checks {
				hc.AddCheck(name, check)
			}

			status, body := serve(t, hc.Ready(), "/ready")
			if status != tt.wantStatus {
				t.Errorf("Ready status = %d, want %d", status, tt.wantStatus)
			}
			if body.Status != tt.wantBody {
				t.Errorf("Status = %s, want %s", body.Status, tt.wantBody)
			}
			if len(body.Failing) != len(tt.wantFailing) {
				t.Fatalf("Failing = %v, want %v", body.Failing, tt.wantFailing)
			}
			for name, msg := range tt.wantFailing {
				if body.Failing[name] != msg {
					t.Errorf("Failing[%s] = %q, want %q", name, body.Failing[name], msg)
				}
			}
		})
	}
}

func TestReady_CheckRecovers(t *testing.T) {
	hc := New()
	hc.SetReady(true)

	var halted bool
	hc.AddCheck("engine", func() error {
		if halted {
			return errors.New("halted")
		}
		return nil
	})

	if status, _ := serve(t, hc.Ready(), "/ready"); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}

	halted = true
	if status, _ := serve(t, hc.Ready(), "/ready"); status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", status)
	}

	hc.AddCheck("engine", func() error { return nil })
	if status, _ := serve(t, hc.Ready(), "/ready"); status != http.StatusOK {
		t.Fatalf("replaced check: status = %d, want 200", status)
	}
}

func TestHealth_UptimeIncreases(t *testing.T) {
	hc := New()

	_, first := serve(t, hc.Health(), "/health")
	time.Sleep(10 * time.Millisecond)
	_, second := serve(t, hc.Health(), "/health")

	d1, err := time.ParseDuration(first.Uptime)
	if err != nil {
		t.Fatalf("parse uptime %q: %v", first.Uptime, err)
	}
	d2, err := time.ParseDuration(second.Uptime)
	if err != nil {
		t.Fatalf("parse uptime %q: %v", second.Uptime, err)
	}
	if d2 <= d1 {
		t.Errorf("uptime did not increase: %v then %v", d1, d2)
	}
}

func TestHealthChecker_ConcurrentAccess(t *testing.T) {
	hc := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			hc.SetReady(i%2 == 0)
		}(i)
		go func() {
			defer wg.Done()
			hc.AddCheck("engine", func() error { return nil })
		}()
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			hc.Ready()(httptest.NewRecorder(), req)
		}()
	}
	wg.Wait()
}
