// Package notion is a minimal Notion API client for the two operations the
// archive needs: checking whether a thread record exists and creating one.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	apiVersion = "2022-06-28"

	// threadKeyProperty is the database column that carries the dedup key.
	threadKeyProperty = "Thread ID"
)

type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

func New(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = "https://api.notion.com/v1"
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
	}
}

// Record is everything persisted for one archived thread. Multi-value fields
// are stored as multi_select options, so option names pass through
// SanitizeOption before they reach the API.
type Record struct {
	Title        string
	Creator      string
	ChannelName  string
	Participants []string
	ReplyCount   int
	Date         time.Time
	ThreadKey    string
	ThreadURL    string
	ShortSummary string
	LongSummary  string
	Conclusion   string
	Tags         []string
	BulletPoints []string
	NextAction   string
}

type queryRequest struct {
	Filter queryFilter `json:"filter"`
}

type queryFilter struct {
	Property string          `json:"property"`
	RichText queryEqualsText `json:"rich_text"`
}

type queryEqualsText struct {
	Equals string `json:"equals"`
}

type queryResponse struct {
	Object  string            `json:"object,omitempty"`
	Results []json.RawMessage `json:"results,omitempty"`
	Message string            `json:"message,omitempty"`
	Code    string            `json:"code,omitempty"`
}

// ThreadExists reports whether the database already holds a record keyed by
// threadKey. This is a best-effort read, not a uniqueness guarantee.
func (c *Client) ThreadExists(ctx context.Context, databaseID, threadKey string) (bool, error) {
	databaseID = strings.TrimSpace(databaseID)
	threadKey = strings.TrimSpace(threadKey)
	if databaseID == "" {
		return false, fmt.Errorf("database_id is required")
	}
	if threadKey == "" {
		return false, fmt.Errorf("thread key is required")
	}
	body, status, err := c.postJSON(ctx, "/databases/"+databaseID+"/query", queryRequest{
		Filter: queryFilter{
			Property: threadKeyProperty,
			RichText: queryEqualsText{Equals: threadKey},
		},
	})
	if err != nil {
		return false, err
	}
	var out queryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return false, err
	}
	if status < 200 || status >= 300 {
		return false, fmt.Errorf("notion databases.query failed: %s: %s", errorCode(out.Code), strings.TrimSpace(out.Message))
	}
	return len(out.Results) > 0, nil
}

type createResponse struct {
	Object  string `json:"object,omitempty"`
	ID      string `json:"id,omitempty"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// CreateRecord creates the page for one archived thread and returns its URL.
func (c *Client) CreateRecord(ctx context.Context, databaseID string, rec Record) (string, error) {
	databaseID = strings.TrimSpace(databaseID)
	if databaseID == "" {
		return "", fmt.Errorf("database_id is required")
	}
	if strings.TrimSpace(rec.ThreadKey) == "" {
		return "", fmt.Errorf("record thread key is required")
	}
	payload := map[string]any{
		"parent":     map[string]any{"database_id": databaseID},
		"properties": recordProperties(rec),
		"children":   recordChildren(rec),
	}
	body, status, err := c.postJSON(ctx, "/pages", payload)
	if err != nil {
		return "", err
	}
	var out createResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("notion pages.create failed: %s: %s", errorCode(out.Code), strings.TrimSpace(out.Message))
	}
	pageURL := strings.TrimSpace(out.URL)
	if pageURL == "" {
		pageURL = strings.TrimSpace(out.ID)
	}
	if pageURL == "" {
		return "", fmt.Errorf("notion pages.create returned neither url nor id")
	}
	return pageURL, nil
}

// SanitizeOption makes a value safe for a multi_select option. Notion uses the
// comma as the option list delimiter, so embedded commas would split one value
// into several.
func SanitizeOption(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, ",", "/"))
}

func recordProperties(rec Record) map[string]any {
	title := strings.TrimSpace(rec.Title)
	if title == "" {
		title = "Untitled thread"
	}
	properties := map[string]any{
		"Name":         titleProperty(title),
		"Creator":      richTextProperty(rec.Creator),
		"Channel":      richTextProperty(rec.ChannelName),
		"Participants": multiSelectProperty(rec.Participants),
		"Reply Count":  map[string]any{"number": rec.ReplyCount},
		"Date":         map[string]any{"date": map[string]any{"start": rec.Date.UTC().Format(time.RFC3339)}},
		"Thread URL":   map[string]any{"url": strings.TrimSpace(rec.ThreadURL)},
		"Tags":         multiSelectProperty(rec.Tags),
		"Summary":      richTextProperty(rec.ShortSummary),
	}
	properties[threadKeyProperty] = richTextProperty(rec.ThreadKey)
	return properties
}

func recordChildren(rec Record) []any {
	blocks := []any{
		headingBlock("Summary"),
		paragraphBlock(rec.LongSummary),
	}
	if len(rec.BulletPoints) > 0 {
		blocks = append(blocks, headingBlock("Key Points"))
		for _, point := range rec.BulletPoints {
			if strings.TrimSpace(point) == "" {
				continue
			}
			blocks = append(blocks, bulletBlock(point))
		}
	}
	if strings.TrimSpace(rec.Conclusion) != "" {
		blocks = append(blocks, headingBlock("Conclusion"), paragraphBlock(rec.Conclusion))
	}
	if strings.TrimSpace(rec.NextAction) != "" {
		blocks = append(blocks, headingBlock("Next Action"), paragraphBlock(rec.NextAction))
	}
	return blocks
}

func titleProperty(text string) map[string]any {
	return map[string]any{
		"title": []any{textSpan(text)},
	}
}

func richTextProperty(text string) map[string]any {
	return map[string]any{
		"rich_text": []any{textSpan(text)},
	}
}

func multiSelectProperty(values []string) map[string]any {
	options := make([]any, 0, len(values))
	for _, v := range values {
		name := SanitizeOption(v)
		if name == "" {
			continue
		}
		options = append(options, map[string]any{"name": name})
	}
	return map[string]any{"multi_select": options}
}

func headingBlock(text string) map[string]any {
	return map[string]any{
		"object":    "block",
		"type":      "heading_2",
		"heading_2": map[string]any{"rich_text": []any{textSpan(text)}},
	}
}

func paragraphBlock(text string) map[string]any {
	return map[string]any{
		"object":    "block",
		"type":      "paragraph",
		"paragraph": map[string]any{"rich_text": []any{textSpan(text)}},
	}
}

func bulletBlock(text string) map[string]any {
	return map[string]any{
		"object":             "block",
		"type":               "bulleted_list_item",
		"bulleted_list_item": map[string]any{"rich_text": []any{textSpan(text)}},
	}
}

func textSpan(text string) map[string]any {
	return map[string]any{
		"type": "text",
		"text": map[string]any{"content": strings.TrimSpace(text)},
	}
}

func errorCode(raw string) string {
	code := strings.TrimSpace(raw)
	if code == "" {
		code = "unknown_error"
	}
	return code
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, int, error) {
	if c == nil || c.http == nil {
		return nil, 0, fmt.Errorf("notion client is not initialized")
	}
	if strings.TrimSpace(c.token) == "" {
		return nil, 0, fmt.Errorf("notion token is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, readErr
	}
	return body, resp.StatusCode, nil
}
