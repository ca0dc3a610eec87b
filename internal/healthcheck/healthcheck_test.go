package healthcheck

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"
)

func TestNormalizeListen(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":               "",
		"  ":             "",
		"8081":           ":8081",
		":8081":          ":8081",
		"127.0.0.1:8081": "127.0.0.1:8081",
	}
	for in, want := range cases {
		if got := NormalizeListen(in); got != want {
			t.Fatalf("NormalizeListen(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStartServerServesHealthz(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := StartServer(context.Background(), logger, "127.0.0.1:0", "serve")
	if err != nil {
		t.Fatalf("StartServer() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	resp, err := http.Get("http://" + srv.Addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["status"] != "ok" || payload["component"] != "serve" {
		t.Fatalf("payload = %#v", payload)
	}
}

func TestStartServerRequiresListen(t *testing.T) {
	t.Parallel()

	if _, err := StartServer(context.Background(), nil, "  ", "serve"); err == nil {
		t.Fatalf("expected error for empty listen address")
	}
}
