// Package pipeline runs the archive sequence for one validated mention:
// announce, fetch the thread, check for a prior record, enrich names,
// summarize, persist, confirm. Any failed stage is reported back into the
// originating thread before the run ends.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quailyquaily/threadvault/internal/event"
	"github.com/quailyquaily/threadvault/internal/notion"
	"github.com/quailyquaily/threadvault/internal/slackapi"
	"github.com/quailyquaily/threadvault/internal/summarize"
)

// placeholderName stands in for any participant or channel whose lookup
// failed; enrichment is best-effort and never aborts a run.
const placeholderName = "unknown"

// ChatService is the Slack capability set the pipeline needs.
type ChatService interface {
	FetchReplies(ctx context.Context, channelID, threadTS string) ([]slackapi.Message, error)
	PostMessage(ctx context.Context, channelID, threadTS, text string) error
	LookupUser(ctx context.Context, userID string) (string, error)
	LookupChannel(ctx context.Context, channelID string) (string, error)
}

// RecordStore is the knowledge-store capability set: a best-effort existence
// check and an append-only create.
type RecordStore interface {
	ThreadExists(ctx context.Context, threadKey string) (bool, error)
	CreateRecord(ctx context.Context, rec notion.Record) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, content string) (summarize.Summary, error)
}

type Options struct {
	Chat       ChatService
	Store      RecordStore
	Summarizer Summarizer
	// WorkspaceURL is the base used to construct thread permalinks,
	// e.g. "https://acme.slack.com".
	WorkspaceURL string
	Logger       *slog.Logger
	Now          func() time.Time
}

type Pipeline struct {
	chat         ChatService
	store        RecordStore
	summarizer   Summarizer
	workspaceURL string
	logger       *slog.Logger
	nowFn        func() time.Time
}

func New(opts Options) (*Pipeline, error) {
	if opts.Chat == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if opts.Summarizer == nil {
		return nil, fmt.Errorf("summarizer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Pipeline{
		chat:         opts.Chat,
		store:        opts.Store,
		summarizer:   opts.Summarizer,
		workspaceURL: strings.TrimSpace(opts.WorkspaceURL),
		logger:       logger,
		nowFn:        nowFn,
	}, nil
}

// Run processes one mention end to end. A duplicate thread is a successful
// no-op (the "already saved" notice is posted); any other failed stage posts
// a human-readable notice into the thread and returns the underlying error.
//
// The existence check and the create are not transactional: two concurrent
// runs for the same thread key can both pass the check. The journal-backed
// event dedup upstream narrows that window, it does not close it.
func (p *Pipeline) Run(ctx context.Context, m event.Mention) error {
	if strings.TrimSpace(m.ChannelID) == "" || strings.TrimSpace(m.ThreadKey) == "" {
		return fmt.Errorf("mention channel and thread key are required")
	}
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID, "channel_id", m.ChannelID, "thread_key", m.ThreadKey)

	if err := p.chat.PostMessage(ctx, m.ChannelID, m.ThreadKey, "On it — archiving this thread."); err != nil {
		// Announce failed; replying about a reply failure would fail the
		// same way, so this is log-only.
		logger.Warn("pipeline_announce_error", "error", err.Error())
		return fmt.Errorf("announce start: %w", err)
	}

	messages, err := p.chat.FetchReplies(ctx, m.ChannelID, m.ThreadKey)
	snapshot := snapshotFromMessages(messages)
	if err != nil || len(snapshot.Messages) == 0 {
		if err == nil {
			err = fmt.Errorf("thread %s has no messages", m.ThreadKey)
		}
		logger.Warn("pipeline_fetch_thread_error", "error", err.Error())
		p.report(ctx, logger, m, "I couldn't find this thread. Nothing was archived.")
		return fmt.Errorf("fetch thread: %w", err)
	}

	// The dedup read and both enrichment lookups are independent; only the
	// dedup read can fail the run.
	var (
		exists           bool
		channelName      string
		participantNames []string
	)
	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		found, err := p.store.ThreadExists(groupCtx, m.ThreadKey)
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		exists = found
		return nil
	})
	g.Go(func() error {
		name, err := p.chat.LookupChannel(groupCtx, m.ChannelID)
		if err != nil {
			logger.Warn("pipeline_channel_lookup_degraded", "error", err.Error())
			name = placeholderName
		}
		channelName = name
		return nil
	})
	participantNames = make([]string, len(snapshot.Participants))
	for i, userID := range snapshot.Participants {
		g.Go(func() error {
			name, err := p.chat.LookupUser(groupCtx, userID)
			if err != nil {
				logger.Warn("pipeline_user_lookup_degraded", "user_id", userID, "error", err.Error())
				name = placeholderName
			}
			participantNames[i] = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn("pipeline_dedup_check_error", "error", err.Error())
		p.report(ctx, logger, m, "I couldn't reach the archive to check this thread. Nothing was archived.")
		return err
	}
	if exists {
		logger.Info("pipeline_duplicate_thread")
		p.report(ctx, logger, m, "This thread is already saved in the archive.")
		return nil
	}

	summary, err := p.summarizer.Summarize(ctx, snapshot.Content)
	if err != nil {
		logger.Warn("pipeline_summarize_error", "error", err.Error())
		p.report(ctx, logger, m, "Summarization failed. Nothing was archived.")
		return fmt.Errorf("summarize: %w", err)
	}

	creator := placeholderName
	if len(participantNames) > 0 {
		creator = participantNames[0]
	}
	threadURL := slackapi.BuildPermalink(p.workspaceURL, m.ChannelID, m.ThreadKey)
	rec := notion.Record{
		Title:        summary.ShortSummary,
		Creator:      creator,
		ChannelName:  channelName,
		Participants: participantNames,
		ReplyCount:   len(snapshot.Messages) - 1,
		Date:         threadDate(m.ThreadKey, p.nowFn),
		ThreadKey:    m.ThreadKey,
		ThreadURL:    threadURL,
		ShortSummary: summary.ShortSummary,
		LongSummary:  summary.LongSummary,
		Conclusion:   summary.Conclusion,
		Tags:         summary.Tags,
		BulletPoints: summary.BulletPoints,
		NextAction:   summary.NextAction,
	}
	recordURL, err := p.store.CreateRecord(ctx, rec)
	if err != nil {
		logger.Warn("pipeline_persist_error", "error", err.Error())
		p.report(ctx, logger, m, "Saving to the archive failed.")
		return fmt.Errorf("persist record: %w", err)
	}
	logger.Info("pipeline_record_created", "record_url", recordURL, "reply_count", rec.ReplyCount, "participants", len(participantNames))

	if err := p.chat.PostMessage(ctx, m.ChannelID, m.ThreadKey, "Thread archived: "+recordURL); err != nil {
		// The record is already persisted; a failed confirmation is a
		// reporting failure, not a processing failure.
		logger.Warn("pipeline_completion_post_error", "error", err.Error())
	}
	return nil
}

// report posts a failure notice into the originating thread, best-effort.
func (p *Pipeline) report(ctx context.Context, logger *slog.Logger, m event.Mention, text string) {
	if err := p.chat.PostMessage(ctx, m.ChannelID, m.ThreadKey, text); err != nil {
		logger.Warn("pipeline_report_error", "error", err.Error())
	}
}

// Snapshot is the processed view of one fetched thread.
type Snapshot struct {
	// Messages keeps posting order; the first entry opened the thread.
	Messages []slackapi.Message
	// Participants is the deduplicated author set in first-appearance order.
	Participants []string
	// Content joins the non-empty message texts, one per line.
	Content string
}

func snapshotFromMessages(messages []slackapi.Message) Snapshot {
	var snap Snapshot
	seen := make(map[string]bool, len(messages))
	var lines []string
	for _, msg := range messages {
		// The thread includes this service's own announce post; bot
		// messages contribute neither participants nor content.
		if strings.TrimSpace(msg.BotID) != "" {
			continue
		}
		snap.Messages = append(snap.Messages, msg)
		if userID := strings.TrimSpace(msg.User); userID != "" && !seen[userID] {
			seen[userID] = true
			snap.Participants = append(snap.Participants, userID)
		}
		if text := strings.TrimSpace(msg.Text); text != "" {
			lines = append(lines, text)
		}
	}
	snap.Content = strings.Join(lines, "\n")
	return snap
}

// threadDate derives the thread's start time from its root timestamp
// ("1739667000.000050" is seconds since epoch).
func threadDate(threadKey string, nowFn func() time.Time) time.Time {
	secsPart, _, _ := strings.Cut(strings.TrimSpace(threadKey), ".")
	secs, err := strconv.ParseInt(secsPart, 10, 64)
	if err != nil || secs <= 0 {
		return nowFn().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
