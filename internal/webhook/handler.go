// Package webhook terminates the Slack Events API HTTP surface: it answers
// handshake challenges inline, drops retries and duplicates, and hands
// validated mentions to the dispatcher before acknowledging.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quailyquaily/threadvault/internal/event"
	"github.com/quailyquaily/threadvault/internal/idempotency"
)

// maxBodyBytes caps one delivery body. Slack event payloads are far smaller.
const maxBodyBytes = 1 << 20

const retryNumHeader = "X-Slack-Retry-Num"

// Intake is the journal capability the handler needs.
type Intake interface {
	MarkProcessed(ctx context.Context, key string) (bool, error)
}

// Enqueuer hands an accepted mention to the worker pool.
type Enqueuer interface {
	Enqueue(m event.Mention) error
}

type Options struct {
	Intake   Intake
	Enqueuer Enqueuer
	Logger   *slog.Logger
	Now      func() time.Time
}

type Handler struct {
	intake   Intake
	enqueuer Enqueuer
	logger   *slog.Logger
	nowFn    func() time.Time
}

func NewHandler(opts Options) (*Handler, error) {
	if opts.Intake == nil {
		return nil, fmt.Errorf("webhook intake is required")
	}
	if opts.Enqueuer == nil {
		return nil, fmt.Errorf("webhook enqueuer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Handler{intake: opts.Intake, enqueuer: opts.Enqueuer, logger: logger, nowFn: nowFn}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("webhook_read_body_error", "error", err.Error())
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}

	// Slack retries a delivery when the first acknowledgement was slow. The
	// original delivery already made it into the journal, so a retry is
	// acknowledged without validation or dispatch.
	if retry := strings.TrimSpace(r.Header.Get(retryNumHeader)); retry != "" && retry != "0" {
		h.logger.Info("webhook_retry_suppressed", "retry_num", retry)
		writeJSON(w, http.StatusOK, map[string]string{"status": "retry_ignored"})
		return
	}

	env, err := event.ParseEnvelope(body)
	if err != nil {
		h.logger.Warn("webhook_decode_error", "error", err.Error())
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_payload"})
		return
	}
	res, err := event.Validate(env, h.nowFn)
	if err != nil {
		h.logger.Warn("webhook_validate_error", "error", err.Error())
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_payload"})
		return
	}

	switch res.Kind {
	case event.KindChallenge:
		// The handshake expects the raw challenge string back, not JSON.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, res.Challenge)
	case event.KindMention:
		h.acceptMention(r.Context(), w, res.Mention)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (h *Handler) acceptMention(ctx context.Context, w http.ResponseWriter, m event.Mention) {
	logger := h.logger.With("event_id", m.EventID, "channel_id", m.ChannelID, "thread_key", m.ThreadKey)
	if strings.TrimSpace(m.EventID) != "" {
		fresh, err := h.intake.MarkProcessed(ctx, idempotency.EventKey(m.EventID))
		if err != nil {
			// Journal trouble must not drop real work; the thread-level dedup
			// downstream still prevents double records.
			logger.Warn("webhook_journal_error", "error", err.Error())
		} else if !fresh {
			logger.Info("webhook_duplicate_delivery")
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}
	if err := h.enqueuer.Enqueue(m); err != nil {
		logger.Warn("webhook_enqueue_error", "error", err.Error())
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue_full"})
		return
	}
	logger.Info("webhook_mention_queued", "user_id", m.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
