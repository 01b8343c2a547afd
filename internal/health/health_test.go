package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okCheck(context.Context) error { return nil }

func failCheck(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func getJSON(t *testing.T, h http.HandlerFunc, path string) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", path, nil))

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s body: %v", path, err)
	}
	return rec.Code, body
}

func TestHealthz_AliveWithVersion(t *testing.T) {
	h := New().WithVersion("1.4.2")

	code, body := getJSON(t, h.Healthz, "/healthz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "ok" {
		t.Errorf("status field = %q, want %q", body.Status, "ok")
	}
	if body.Version != "1.4.2" {
		t.Errorf("version = %q, want %q", body.Version, "1.4.2")
	}
}

func TestHealthz_ContentType(t *testing.T) {
	h := New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz(t *testing.T) {
	cases := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "database and telephony pass",
			checkers: []Checker{
				{Name: "database", Check: okCheck},
				{Name: "telephony", Check: okCheck},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"database": "ok", "telephony": "ok"},
		},
		{
			name: "database unreachable",
			checkers: []Checker{
				{Name: "database", Check: failCheck("dial tcp 127.0.0.1:5432: connection refused")},
				{Name: "telephony", Check: okCheck},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{
				"database":  "fail: dial tcp 127.0.0.1:5432: connection refused",
				"telephony": "ok",
			},
		},
		{
			name: "everything down",
			checkers: []Checker{
				{Name: "database", Check: failCheck("pool closed")},
				{Name: "telephony", Check: failCheck("credentials rejected")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{
				"database":  "fail: pool closed",
				"telephony": "fail: credentials rejected",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(tc.checkers...)
			code, body := getJSON(t, h.Readyz, "/readyz")

			if code != tc.wantCode {
				t.Errorf("status = %d, want %d", code, tc.wantCode)
			}
			if body.Status != tc.wantStatus {
				t.Errorf("status field = %q, want %q", body.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestPingChecker_AdaptsPoolPing(t *testing.T) {
	pingErr := errors.New("server closed the connection unexpectedly")
	c := PingChecker("database", func(context.Context) error { return pingErr })

	if c.Name != "database" {
		t.Errorf("name = %q", c.Name)
	}
	if err := c.Check(context.Background()); !errors.Is(err, pingErr) {
		t.Errorf("check error = %v, want the ping error", err)
	}
}

func TestRegister_MountsRoutes(t *testing.T) {
	h := New(Checker{Name: "database", Check: okCheck})
	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(Checker{Name: "database", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
