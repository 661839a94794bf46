// Package web serves a read-only JSON view of the supervisor state.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net"
	"net/http"
	"time"
)

func Handler(status *Status) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		b, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
		_, _ = w.Write([]byte("\n"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>goodracer</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>goodracer</h1>")
		_, _ = fmt.Fprintf(w, "<p>Machine-readable status: <a href=\"/api/status\">/api/status</a>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>gps_device=%s\nfix_valid=%t\nlat=%.5f lon=%.5f\npackets=%d parse_failures=%d\nlast_fix_utc=%s</pre>",
			html.EscapeString(snap.Static.GPSDevice), snap.Fix.Valid, snap.Fix.LatDeg, snap.Fix.LonDeg,
			snap.Counters.Packets, snap.Counters.ParseFailures, snap.LastFixUTC,
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

// Serve blocks until ctx is done or the listener fails.
func Serve(ctx context.Context, ln net.Listener, status *Status) error {
	if status == nil {
		status = NewStatus()
	}

	srv := &http.Server{
		Handler:           Handler(status),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
