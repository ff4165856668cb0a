package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"voxarena.gg/internal/server"
	"voxarena.gg/internal/sim/tuning"
	"voxarena.gg/internal/sim/voxel"
)

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.New(server.Config{ID: "run-test", Map: voxel.Arena("test", 32), Tuning: tuning.Defaults()})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return srv
}

func TestBuildMux_HealthzBeforeRun(t *testing.T) {
	srv := newTestServer(t)
	mux := buildMux(srv, log.New(io.Discard, "", 0), false)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz before run: code=%d", rr.Code)
	}
	if got := rr.Body.String(); got != "listening" {
		t.Fatalf("healthz body=%q", got)
	}
}

func TestBuildMux_Metrics(t *testing.T) {
	srv := newTestServer(t)
	srv.StepOnce(nil, nil, nil)
	srv.StepOnce(nil, nil, nil)
	mux := buildMux(srv, log.New(io.Discard, "", 0), false)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != 200 {
		t.Fatalf("metrics code=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`voxarena_tick{run="run-test"} 2`,
		`voxarena_players{run="run-test"} 0`,
		`voxarena_queue_depth{run="run-test",queue="inbox"} 0`,
		`voxarena_snapshots_total{run="run-test",kind="full"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestBuildMux_AdminStateLoopbackOnly(t *testing.T) {
	srv := newTestServer(t)
	mux := buildMux(srv, log.New(io.Discard, "", 0), false)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("remote admin: code=%d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Fatalf("loopback admin: code=%d", rr.Code)
	}
	var resp struct {
		RunID string `json:"run_id"`
		Map   string `json:"map"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RunID != "run-test" || resp.Map != "test" {
		t.Fatalf("state=%+v", resp)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"::1":          true,
		"10.1.2.3:80":  false,
		"garbage":      false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("VA_TEST_FLAG", "true")
	if !envBool("VA_TEST_FLAG", false) {
		t.Fatalf("expected true")
	}
	t.Setenv("VA_TEST_FLAG", "nope")
	if !envBool("VA_TEST_FLAG", true) {
		t.Fatalf("unparseable value should fall back to default")
	}
	t.Setenv("VA_TEST_FLAG", "")
	if envBool("VA_TEST_FLAG", false) {
		t.Fatalf("empty value should fall back to default")
	}
}
