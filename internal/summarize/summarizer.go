// Package summarize turns a concatenated thread transcript into the
// structured summary stored on the archive record. The model is asked for a
// strict JSON-schema response so the result parses deterministically; any
// parse failure is a hard error for the whole call.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/quailyquaily/threadvault/internal/jsonutil"
)

// Summary is produced as one atomic unit; there is no partial-field retry.
type Summary struct {
	ShortSummary string   `json:"short_summary"`
	LongSummary  string   `json:"long_summary"`
	Conclusion   string   `json:"conclusion"`
	Tags         []string `json:"tags"`
	BulletPoints []string `json:"bullet_points"`
	NextAction   string   `json:"next_action"`
}

var summarySchema = generateSchema[Summary]()

type Summarizer struct {
	client *openai.Client
	model  string
}

type Options struct {
	APIKey string
	Model  string
	// Endpoint overrides the API base URL, mainly for tests and proxies.
	Endpoint string
}

func New(opts Options) (*Summarizer, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(opts.APIKey))}
	if endpoint := strings.TrimSpace(opts.Endpoint); endpoint != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(endpoint))
	}
	client := openai.NewClient(reqOpts...)
	return &Summarizer{client: &client, model: model}, nil
}

// Summarize submits the transcript and decodes the structured result.
func (s *Summarizer) Summarize(ctx context.Context, content string) (Summary, error) {
	if s == nil || s.client == nil {
		return Summary{}, fmt.Errorf("summarizer is not initialized")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Summary{}, fmt.Errorf("thread content is required")
	}

	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "ThreadSummary",
			Schema:      summarySchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Thread summary JSON"),
			Type:        "json_schema",
		},
	}
	params := responses.ResponseNewParams{
		Model:           s.model,
		MaxOutputTokens: openai.Int(1200),
		Instructions:    openai.String(summarizerInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(content, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}

	resp, err := s.client.Responses.New(ctx, params)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize thread: %w", err)
	}
	var out Summary
	if err := jsonutil.DecodeWithFallback(resp.OutputText(), &out); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	out.ShortSummary = strings.TrimSpace(out.ShortSummary)
	out.LongSummary = strings.TrimSpace(out.LongSummary)
	out.Conclusion = strings.TrimSpace(out.Conclusion)
	out.NextAction = strings.TrimSpace(out.NextAction)
	if out.ShortSummary == "" {
		return Summary{}, fmt.Errorf("summary response is missing short_summary")
	}
	return out, nil
}

const summarizerInstructions = `You summarize one Slack thread for a long-term archive.

You will receive the thread as plain text, one message per line, in posting order.
Produce:
1. short_summary: one or two sentences, at most 100 words.
2. long_summary: a fuller summary, around 300 words.
3. conclusion: the outcome or decision of the thread, around 150 words.
4. tags: exactly 3 short keyword tags.
5. bullet_points: exactly 3 concise key points.
6. next_action: the follow-up to take, or "No next action is needed." when the thread requires none.

Stay factual. Do not invent participants, decisions, or dates.`
