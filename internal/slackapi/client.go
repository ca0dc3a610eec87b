// Package slackapi is a minimal Slack Web API client covering the calls the
// archiving pipeline needs: reading a thread, resolving display names, and
// posting replies.
package slackapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrThreadNotFound is returned when Slack reports thread_not_found; callers
// treat it differently from transport failures.
var ErrThreadNotFound = errors.New("slack thread not found")

type Client struct {
	http     *http.Client
	baseURL  string
	botToken string
	appToken string
}

func New(httpClient *http.Client, baseURL, botToken, appToken string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		botToken: strings.TrimSpace(botToken),
		appToken: strings.TrimSpace(appToken),
	}
}

// Message is one entry of a thread as returned by conversations.replies.
type Message struct {
	User     string `json:"user,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Text     string `json:"text,omitempty"`
	TS       string `json:"ts,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type AuthTestResult struct {
	TeamID string
	UserID string
	Team   string
	User   string
	URL    string
}

type authTestResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Team   string `json:"team,omitempty"`
	User   string `json:"user,omitempty"`
	URL    string `json:"url,omitempty"`
}

func (c *Client) AuthTest(ctx context.Context) (AuthTestResult, error) {
	if c == nil {
		return AuthTestResult{}, fmt.Errorf("slack client is not initialized")
	}
	body, status, _, err := c.postAuthJSON(ctx, c.botToken, "/auth.test", nil)
	if err != nil {
		return AuthTestResult{}, err
	}
	if status < 200 || status >= 300 {
		return AuthTestResult{}, fmt.Errorf("slack auth.test http %d", status)
	}
	var out authTestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return AuthTestResult{}, err
	}
	if !out.OK {
		return AuthTestResult{}, fmt.Errorf("slack auth.test failed: %s", errorCode(out.Error))
	}
	return AuthTestResult{
		TeamID: strings.TrimSpace(out.TeamID),
		UserID: strings.TrimSpace(out.UserID),
		Team:   strings.TrimSpace(out.Team),
		User:   strings.TrimSpace(out.User),
		URL:    strings.TrimSpace(out.URL),
	}, nil
}

type repliesResponse struct {
	OK               bool      `json:"ok"`
	Error            string    `json:"error,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	HasMore          bool      `json:"has_more,omitempty"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor,omitempty"`
	} `json:"response_metadata,omitempty"`
}

// FetchReplies returns the full ordered reply list of a thread, following
// pagination cursors. The first message is the thread opener.
func (c *Client) FetchReplies(ctx context.Context, channelID, threadTS string) ([]Message, error) {
	channelID = strings.TrimSpace(channelID)
	threadTS = strings.TrimSpace(threadTS)
	if channelID == "" {
		return nil, fmt.Errorf("channel_id is required")
	}
	if threadTS == "" {
		return nil, fmt.Errorf("thread_ts is required")
	}
	var all []Message
	cursor := ""
	for {
		query := url.Values{}
		query.Set("channel", channelID)
		query.Set("ts", threadTS)
		query.Set("limit", "200")
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		body, status, _, err := c.getAuth(ctx, c.botToken, "/conversations.replies", query)
		if err != nil {
			return nil, err
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("slack conversations.replies http %d", status)
		}
		var out repliesResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		if !out.OK {
			if errorCode(out.Error) == "thread_not_found" {
				return nil, fmt.Errorf("slack conversations.replies: %w", ErrThreadNotFound)
			}
			return nil, fmt.Errorf("slack conversations.replies failed: %s", errorCode(out.Error))
		}
		all = append(all, out.Messages...)
		cursor = strings.TrimSpace(out.ResponseMetadata.NextCursor)
		if !out.HasMore || cursor == "" {
			return all, nil
		}
	}
}

type userInfoResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	User  struct {
		Name     string `json:"name,omitempty"`
		RealName string `json:"real_name,omitempty"`
		Profile  struct {
			DisplayName string `json:"display_name,omitempty"`
			RealName    string `json:"real_name,omitempty"`
		} `json:"profile,omitempty"`
	} `json:"user,omitempty"`
}

// LookupUser resolves a user id to the best available display name.
func (c *Client) LookupUser(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("user_id is required")
	}
	query := url.Values{}
	query.Set("user", userID)
	body, status, _, err := c.getAuth(ctx, c.botToken, "/users.info", query)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("slack users.info http %d", status)
	}
	var out userInfoResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", fmt.Errorf("slack users.info failed: %s", errorCode(out.Error))
	}
	for _, name := range []string{
		out.User.Profile.DisplayName,
		out.User.Profile.RealName,
		out.User.RealName,
		out.User.Name,
	} {
		if n := strings.TrimSpace(name); n != "" {
			return n, nil
		}
	}
	return "", fmt.Errorf("slack users.info returned no usable name for %s", userID)
}

type channelInfoResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel struct {
		Name string `json:"name,omitempty"`
	} `json:"channel,omitempty"`
}

// LookupChannel resolves a channel id to its name.
func (c *Client) LookupChannel(ctx context.Context, channelID string) (string, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return "", fmt.Errorf("channel_id is required")
	}
	query := url.Values{}
	query.Set("channel", channelID)
	body, status, _, err := c.getAuth(ctx, c.botToken, "/conversations.info", query)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("slack conversations.info http %d", status)
	}
	var out channelInfoResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", fmt.Errorf("slack conversations.info failed: %s", errorCode(out.Error))
	}
	name := strings.TrimSpace(out.Channel.Name)
	if name == "" {
		return "", fmt.Errorf("slack conversations.info returned empty name for %s", channelID)
	}
	return name, nil
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
}

// PostMessage posts text into a channel, threaded when threadTS is set.
// Rate-limited and 5xx responses are retried a few times with the delay the
// platform asks for.
func (c *Client) PostMessage(ctx context.Context, channelID, threadTS, text string) error {
	channelID = strings.TrimSpace(channelID)
	text = strings.TrimSpace(text)
	threadTS = strings.TrimSpace(threadTS)
	if channelID == "" {
		return fmt.Errorf("channel_id is required")
	}
	if text == "" {
		return fmt.Errorf("text is required")
	}
	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, status, headers, err := c.postAuthJSON(ctx, c.botToken, "/chat.postMessage", postMessageRequest{
			Channel:  channelID,
			Text:     text,
			ThreadTS: threadTS,
		})
		if err != nil {
			lastErr = err
		} else {
			var out postMessageResponse
			if parseErr := json.Unmarshal(body, &out); parseErr != nil {
				lastErr = parseErr
			} else if status < 200 || status >= 300 {
				lastErr = fmt.Errorf("slack chat.postMessage http %d", status)
			} else if out.OK {
				return nil
			} else {
				lastErr = fmt.Errorf("slack chat.postMessage failed: %s", errorCode(out.Error))
			}
		}

		if attempt >= maxAttempts {
			break
		}
		wait, retryable := retryDelay(status, headers, attempt)
		if !retryable {
			break
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

// BuildPermalink constructs the archive URL of a message from the workspace
// base URL ("https://acme.slack.com") without calling chat.getPermalink.
func BuildPermalink(workspaceURL, channelID, messageTS string) string {
	workspaceURL = strings.TrimSpace(strings.TrimRight(workspaceURL, "/"))
	channelID = strings.TrimSpace(channelID)
	ts := strings.ReplaceAll(strings.TrimSpace(messageTS), ".", "")
	if workspaceURL == "" || channelID == "" || ts == "" {
		return ""
	}
	return workspaceURL + "/archives/" + channelID + "/p" + ts
}

func errorCode(raw string) string {
	code := strings.TrimSpace(raw)
	if code == "" {
		code = "unknown_error"
	}
	return code
}

func retryDelay(status int, headers http.Header, attempt int) (time.Duration, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := strings.TrimSpace(headers.Get("Retry-After"))
		if retryAfter == "" {
			return 1 * time.Second, true
		}
		secs, err := strconv.Atoi(retryAfter)
		if err != nil || secs <= 0 {
			return 1 * time.Second, true
		}
		return time.Duration(secs) * time.Second, true
	case status >= 500 && status <= 599:
		switch attempt {
		case 1:
			return 300 * time.Millisecond, true
		case 2:
			return 1 * time.Second, true
		default:
			return 2 * time.Second, true
		}
	default:
		return 0, false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) postAuthJSON(ctx context.Context, token, path string, payload any) ([]byte, int, http.Header, error) {
	if c == nil || c.http == nil {
		return nil, 0, nil, fmt.Errorf("slack client is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, nil, fmt.Errorf("slack token is required")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, 0, nil, fmt.Errorf("slack api path is required")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) getAuth(ctx context.Context, token, path string, query url.Values) ([]byte, int, http.Header, error) {
	if c == nil || c.http == nil {
		return nil, 0, nil, fmt.Errorf("slack client is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, nil, fmt.Errorf("slack token is required")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, 0, nil, fmt.Errorf("slack api path is required")
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, int, http.Header, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, resp.Header, readErr
	}
	return raw, resp.StatusCode, resp.Header, nil
}
