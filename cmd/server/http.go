package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"

	"voxarena.gg/internal/server"
	"voxarena.gg/internal/transport/ws"
)

func buildMux(srv *server.Server, logger *log.Logger, enablePprof bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if srv.State() != server.StateRunning {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_, _ = rw.Write([]byte(srv.State().String()))
			return
		}
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, srv.ID(), srv.Metrics())
	})
	// Loopback-only state dump; it never touches the tick goroutine.
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			RunID   string         `json:"run_id"`
			Map     string         `json:"map"`
			Metrics server.Metrics `json:"metrics"`
		}{
			RunID:   srv.ID(),
			Map:     srv.MapName(),
			Metrics: srv.Metrics(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (VA_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(srv, logger).Handler())
	return mux
}

// writeMetrics renders m in the Prometheus text format.
func writeMetrics(rw http.ResponseWriter, run string, m server.Metrics) {
	fmt.Fprintf(rw, "# HELP voxarena_tick Current server tick.\n")
	fmt.Fprintf(rw, "# TYPE voxarena_tick gauge\n")
	fmt.Fprintf(rw, "voxarena_tick{run=%q} %d\n", run, m.Tick)

	fmt.Fprintf(rw, "# HELP voxarena_state Server state (1 for the current one).\n")
	fmt.Fprintf(rw, "# TYPE voxarena_state gauge\n")
	fmt.Fprintf(rw, "voxarena_state{run=%q,state=%q} 1\n", run, m.State)

	fmt.Fprintf(rw, "# HELP voxarena_players Players in the world.\n")
	fmt.Fprintf(rw, "# TYPE voxarena_players gauge\n")
	fmt.Fprintf(rw, "voxarena_players{run=%q} %d\n", run, m.Players)

	fmt.Fprintf(rw, "# HELP voxarena_sessions Open sessions.\n")
	fmt.Fprintf(rw, "# TYPE voxarena_sessions gauge\n")
	fmt.Fprintf(rw, "voxarena_sessions{run=%q} %d\n", run, m.Sessions)

	fmt.Fprintf(rw, "# HELP voxarena_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE voxarena_step_ms gauge\n")
	fmt.Fprintf(rw, "voxarena_step_ms{run=%q} %.3f\n", run, m.StepMS)

	fmt.Fprintf(rw, "# HELP voxarena_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE voxarena_queue_depth gauge\n")
	fmt.Fprintf(rw, "voxarena_queue_depth{run=%q,queue=%q} %d\n", run, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "voxarena_queue_depth{run=%q,queue=%q} %d\n", run, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "voxarena_queue_depth{run=%q,queue=%q} %d\n", run, "leave", m.QueueDepths.Leave)

	fmt.Fprintf(rw, "# HELP voxarena_snapshots_total Snapshot frames queued to sessions.\n")
	fmt.Fprintf(rw, "# TYPE voxarena_snapshots_total counter\n")
	fmt.Fprintf(rw, "voxarena_snapshots_total{run=%q,kind=%q} %d\n", run, "full", m.FullSnapshots)
	fmt.Fprintf(rw, "voxarena_snapshots_total{run=%q,kind=%q} %d\n", run, "delta", m.DeltaSnapshots)

	fmt.Fprintf(rw, "# HELP voxarena_dropped_total Frames and inputs shed under backpressure.\n")
	fmt.Fprintf(rw, "# TYPE voxarena_dropped_total counter\n")
	fmt.Fprintf(rw, "voxarena_dropped_total{run=%q,what=%q} %d\n", run, "frames", m.FramesDropped)
	fmt.Fprintf(rw, "voxarena_dropped_total{run=%q,what=%q} %d\n", run, "inputs", m.InputsDropped)

	fmt.Fprintf(rw, "# HELP voxarena_malformed_total Malformed client frames.\n")
	fmt.Fprintf(rw, "# TYPE voxarena_malformed_total counter\n")
	fmt.Fprintf(rw, "voxarena_malformed_total{run=%q} %d\n", run, m.Malformed)

	fmt.Fprintf(rw, "# HELP voxarena_timeouts_total Sessions closed for silence.\n")
	fmt.Fprintf(rw, "# TYPE voxarena_timeouts_total counter\n")
	fmt.Fprintf(rw, "voxarena_timeouts_total{run=%q} %d\n", run, m.Timeouts)

	fmt.Fprintf(rw, "# HELP voxarena_refused_total Refused join requests.\n")
	fmt.Fprintf(rw, "# TYPE voxarena_refused_total counter\n")
	fmt.Fprintf(rw, "voxarena_refused_total{run=%q} %d\n", run, m.Refused)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
