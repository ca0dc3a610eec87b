// Package healthcheck serves a minimal liveness endpoint on its own listener
// so probes never contend with event intake.
package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// NormalizeListen turns a bare port ("8081", ":8081") into a listen address.
// An empty value stays empty, meaning the health server is disabled.
func NormalizeListen(listen string) string {
	listen = strings.TrimSpace(listen)
	if listen == "" {
		return ""
	}
	if !strings.Contains(listen, ":") {
		return ":" + listen
	}
	return listen
}

// StartServer starts the health listener and returns the running server.
// The caller owns shutdown.
func StartServer(ctx context.Context, logger *slog.Logger, listen, component string) (*http.Server, error) {
	listen = NormalizeListen(listen)
	if listen == "" {
		return nil, fmt.Errorf("health listen address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":    "ok",
			"component": component,
		})
	})
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", listen, err)
	}
	srv := &http.Server{
		// Addr reflects the bound address so callers can report it even
		// when the configured port was 0.
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Warn("health_server_error", "addr", listen, "error", serveErr.Error())
		}
	}()
	logger.Info("health_server_started", "addr", ln.Addr().String(), "component", component)
	return srv, nil
}
