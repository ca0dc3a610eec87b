package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quailyquaily/threadvault/internal/event"
	"github.com/quailyquaily/threadvault/internal/notion"
	"github.com/quailyquaily/threadvault/internal/slackapi"
	"github.com/quailyquaily/threadvault/internal/summarize"
)

type fakeChat struct {
	mu          sync.Mutex
	replies     []slackapi.Message
	repliesErr  error
	posts       []string
	postErr     error
	userNames   map[string]string
	userErrs    map[string]error
	channelName string
	channelErr  error

	fetchCalls  int
	lookupCalls int
}

func (f *fakeChat) FetchReplies(ctx context.Context, channelID, threadTS string) ([]slackapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.repliesErr != nil {
		return nil, f.repliesErr
	}
	return append([]slackapi.Message(nil), f.replies...), nil
}

func (f *fakeChat) PostMessage(ctx context.Context, channelID, threadTS, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.posts = append(f.posts, text)
	return nil
}

func (f *fakeChat) LookupUser(ctx context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCalls++
	if err := f.userErrs[userID]; err != nil {
		return "", err
	}
	if name, ok := f.userNames[userID]; ok {
		return name, nil
	}
	return "", fmt.Errorf("user %s not found", userID)
}

func (f *fakeChat) LookupChannel(ctx context.Context, channelID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channelErr != nil {
		return "", f.channelErr
	}
	return f.channelName, nil
}

func (f *fakeChat) postedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posts...)
}

type fakeStore struct {
	mu        sync.Mutex
	exists    bool
	existsErr error
	createErr error
	created   []notion.Record
	url       string

	existsCalls int
}

func (f *fakeStore) ThreadExists(ctx context.Context, threadKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.exists, nil
}

func (f *fakeStore) CreateRecord(ctx context.Context, rec notion.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, rec)
	// Creating makes subsequent existence checks true, like the real store.
	f.exists = true
	if f.url != "" {
		return f.url, nil
	}
	return "https://notion.so/rec1", nil
}

func (f *fakeStore) createdRecords() []notion.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notion.Record(nil), f.created...)
}

type fakeSummarizer struct {
	summary summarize.Summary
	err     error
	calls   int
	mu      sync.Mutex
}

func (f *fakeSummarizer) Summarize(ctx context.Context, content string) (summarize.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return summarize.Summary{}, f.err
	}
	return f.summary, nil
}

func testMention() event.Mention {
	return event.Mention{
		EventID:   "Ev01",
		TeamID:    "T111",
		ChannelID: "C222",
		UserID:    "UA",
		MessageTS: "1739667600.000100",
		ThreadKey: "1739667000.000050",
		SentAt:    time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC),
	}
}

func testThread() []slackapi.Message {
	return []slackapi.Message{
		{User: "UA", Text: "deploy broke login", TS: "1739667000.000050"},
		{User: "UB", Text: "rolling back now", TS: "1739667300.000070"},
		{User: "UA", Text: "confirmed fixed", TS: "1739667600.000100"},
		{BotID: "B1", Text: "On it — archiving this thread.", TS: "1739667700.000110"},
	}
}

func testSummary() summarize.Summary {
	return summarize.Summary{
		ShortSummary: "Rollout failed and was rolled back.",
		LongSummary:  "The deploy broke login and was rolled back within ten minutes.",
		Conclusion:   "Rollback procedure worked.",
		Tags:         []string{"deploy", "incident", "login"},
		BulletPoints: []string{"login broke", "rolled back", "confirmed fixed"},
		NextAction:   "Add a canary stage.",
	}
}

func newTestPipeline(t *testing.T, chat *fakeChat, store *fakeStore, summarizer *fakeSummarizer) *Pipeline {
	t.Helper()
	p, err := New(Options{
		Chat:         chat,
		Store:        store,
		Summarizer:   summarizer,
		WorkspaceURL: "https://acme.slack.com",
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now: func() time.Time {
			return time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{
		replies:     testThread(),
		userNames:   map[string]string{"UA": "Alice W", "UB": "Bob"},
		channelName: "incidents",
	}
	store := &fakeStore{}
	summarizer := &fakeSummarizer{summary: testSummary()}
	p := newTestPipeline(t, chat, store, summarizer)

	if err := p.Run(context.Background(), testMention()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	records := store.createdRecords()
	if len(records) != 1 {
		t.Fatalf("created records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.ReplyCount != 2 {
		t.Fatalf("reply_count = %d, want 2 (bot post excluded)", rec.ReplyCount)
	}
	if len(rec.Participants) != 2 || rec.Participants[0] != "Alice W" || rec.Participants[1] != "Bob" {
		t.Fatalf("participants = %#v, want [Alice W Bob]", rec.Participants)
	}
	if rec.Creator != "Alice W" {
		t.Fatalf("creator = %q, want Alice W", rec.Creator)
	}
	if rec.ThreadKey != "1739667000.000050" {
		t.Fatalf("thread_key = %q", rec.ThreadKey)
	}
	if rec.ThreadURL != "https://acme.slack.com/archives/C222/p1739667000000050" {
		t.Fatalf("thread_url = %q", rec.ThreadURL)
	}
	if !rec.Date.Equal(time.Unix(1739667000, 0).UTC()) {
		t.Fatalf("date = %v, want thread root time", rec.Date)
	}
	if rec.ShortSummary != "Rollout failed and was rolled back." {
		t.Fatalf("short_summary = %q", rec.ShortSummary)
	}

	posts := chat.postedTexts()
	if len(posts) != 2 {
		t.Fatalf("posts = %#v, want exactly announce + completion", posts)
	}
	if !strings.Contains(posts[0], "archiving") {
		t.Fatalf("first post = %q, want announce", posts[0])
	}
	if !strings.Contains(posts[1], "https://notion.so/rec1") {
		t.Fatalf("completion post = %q, want record link", posts[1])
	}
}

func TestRunDuplicateThread(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{
		replies:     testThread(),
		userNames:   map[string]string{"UA": "Alice W", "UB": "Bob"},
		channelName: "incidents",
	}
	store := &fakeStore{}
	summarizer := &fakeSummarizer{summary: testSummary()}
	p := newTestPipeline(t, chat, store, summarizer)

	if err := p.Run(context.Background(), testMention()); err != nil {
		t.Fatalf("Run(first) error = %v", err)
	}
	if err := p.Run(context.Background(), testMention()); err != nil {
		t.Fatalf("Run(second) error = %v", err)
	}

	if got := len(store.createdRecords()); got != 1 {
		t.Fatalf("created records = %d, want 1 (second run must not create)", got)
	}
	if summarizer.calls != 1 {
		t.Fatalf("summarize calls = %d, want 1 (duplicate run must not summarize)", summarizer.calls)
	}
	posts := chat.postedTexts()
	var alreadySaved, completions int
	for _, p := range posts {
		if strings.Contains(p, "already saved") {
			alreadySaved++
		}
		if strings.Contains(p, "Thread archived") {
			completions++
		}
	}
	if alreadySaved != 1 {
		t.Fatalf("already-saved notices = %d, want 1; posts = %#v", alreadySaved, posts)
	}
	if completions != 1 {
		t.Fatalf("completion posts = %d, want 1 (first run only); posts = %#v", completions, posts)
	}
}

func TestRunThreadNotFound(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{channelName: "incidents"}
	store := &fakeStore{}
	summarizer := &fakeSummarizer{summary: testSummary()}
	p := newTestPipeline(t, chat, store, summarizer)

	if err := p.Run(context.Background(), testMention()); err == nil {
		t.Fatalf("Run() error = nil, want fetch failure")
	}
	if got := len(store.createdRecords()); got != 0 {
		t.Fatalf("created records = %d, want 0", got)
	}
	posts := chat.postedTexts()
	if len(posts) != 2 || !strings.Contains(posts[1], "couldn't find this thread") {
		t.Fatalf("posts = %#v, want announce + not-found notice", posts)
	}
}

func TestRunEnrichmentDegradation(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{
		replies:     testThread(),
		userNames:   map[string]string{"UA": "Alice W"},
		userErrs:    map[string]error{"UB": fmt.Errorf("users.info failed: user_not_found")},
		channelName: "incidents",
	}
	store := &fakeStore{}
	summarizer := &fakeSummarizer{summary: testSummary()}
	p := newTestPipeline(t, chat, store, summarizer)

	if err := p.Run(context.Background(), testMention()); err != nil {
		t.Fatalf("Run() error = %v, enrichment failures must not fail the run", err)
	}
	records := store.createdRecords()
	if len(records) != 1 {
		t.Fatalf("created records = %d, want 1", len(records))
	}
	got := records[0].Participants
	if len(got) != 2 || got[0] != "Alice W" || got[1] != placeholderName {
		t.Fatalf("participants = %#v, want [Alice W %s]", got, placeholderName)
	}
}

func TestRunChannelLookupDegradation(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{
		replies:    testThread(),
		userNames:  map[string]string{"UA": "Alice W", "UB": "Bob"},
		channelErr: fmt.Errorf("conversations.info failed: channel_not_found"),
	}
	store := &fakeStore{}
	summarizer := &fakeSummarizer{summary: testSummary()}
	p := newTestPipeline(t, chat, store, summarizer)

	if err := p.Run(context.Background(), testMention()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	records := store.createdRecords()
	if len(records) != 1 || records[0].ChannelName != placeholderName {
		t.Fatalf("channel name = %q, want placeholder", records[0].ChannelName)
	}
}

func TestRunSummarizeFailure(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{
		replies:     testThread(),
		userNames:   map[string]string{"UA": "Alice W", "UB": "Bob"},
		channelName: "incidents",
	}
	store := &fakeStore{}
	summarizer := &fakeSummarizer{err: fmt.Errorf("decode summary: not json")}
	p := newTestPipeline(t, chat, store, summarizer)

	if err := p.Run(context.Background(), testMention()); err == nil {
		t.Fatalf("Run() error = nil, want summarize failure")
	}
	if got := len(store.createdRecords()); got != 0 {
		t.Fatalf("created records = %d, want 0", got)
	}
	posts := chat.postedTexts()
	if len(posts) == 0 || !strings.Contains(posts[len(posts)-1], "Summarization failed") {
		t.Fatalf("posts = %#v, want summarization failure notice", posts)
	}
}

func TestRunPersistFailure(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{
		replies:     testThread(),
		userNames:   map[string]string{"UA": "Alice W", "UB": "Bob"},
		channelName: "incidents",
	}
	store := &fakeStore{createErr: fmt.Errorf("notion pages.create failed: validation_error")}
	summarizer := &fakeSummarizer{summary: testSummary()}
	p := newTestPipeline(t, chat, store, summarizer)

	if err := p.Run(context.Background(), testMention()); err == nil {
		t.Fatalf("Run() error = nil, want persist failure")
	}
	posts := chat.postedTexts()
	if len(posts) == 0 || !strings.Contains(posts[len(posts)-1], "Saving to the archive failed") {
		t.Fatalf("posts = %#v, want save failure notice", posts)
	}
}

func TestRunDedupCheckFailure(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{
		replies:     testThread(),
		userNames:   map[string]string{"UA": "Alice W", "UB": "Bob"},
		channelName: "incidents",
	}
	store := &fakeStore{existsErr: fmt.Errorf("notion databases.query failed: service_unavailable")}
	summarizer := &fakeSummarizer{summary: testSummary()}
	p := newTestPipeline(t, chat, store, summarizer)

	if err := p.Run(context.Background(), testMention()); err == nil {
		t.Fatalf("Run() error = nil, want dedup check failure")
	}
	if summarizer.calls != 0 {
		t.Fatalf("summarize calls = %d, want 0", summarizer.calls)
	}
	if got := len(store.createdRecords()); got != 0 {
		t.Fatalf("created records = %d, want 0", got)
	}
}

func TestRunAnnounceFailure(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{postErr: fmt.Errorf("slack chat.postMessage failed: channel_not_found")}
	store := &fakeStore{}
	summarizer := &fakeSummarizer{summary: testSummary()}
	p := newTestPipeline(t, chat, store, summarizer)

	if err := p.Run(context.Background(), testMention()); err == nil {
		t.Fatalf("Run() error = nil, want announce failure")
	}
	if chat.fetchCalls != 0 {
		t.Fatalf("fetch calls = %d, want 0 after failed announce", chat.fetchCalls)
	}
}

func TestSnapshotSkipsEmptyTextAndBots(t *testing.T) {
	t.Parallel()

	snap := snapshotFromMessages([]slackapi.Message{
		{User: "UA", Text: "first", TS: "1.0"},
		{User: "UB", Text: "", TS: "2.0"},
		{BotID: "B1", Text: "bot noise", TS: "3.0"},
		{User: "UA", Text: "second", TS: "4.0"},
	})
	if snap.Content != "first\nsecond" {
		t.Fatalf("content = %q, want empty texts skipped without artifacts", snap.Content)
	}
	if len(snap.Participants) != 2 {
		t.Fatalf("participants = %#v, want UA and UB", snap.Participants)
	}
	if len(snap.Messages) != 3 {
		t.Fatalf("messages = %d, want 3 (bot excluded, empty text kept)", len(snap.Messages))
	}
}
