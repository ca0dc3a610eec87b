// Package event parses Slack Events API payloads and decides what, if
// anything, the service should do with them.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Envelope is the outer payload of one Events API delivery. Only the fields
// this service reads are declared.
type Envelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge,omitempty"`
	TeamID    string          `json:"team_id,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	EventTime int64           `json:"event_time,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

type innerEvent struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype,omitempty"`
	User     string `json:"user,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Text     string `json:"text,omitempty"`
	Channel  string `json:"channel,omitempty"`
	Team     string `json:"team,omitempty"`
	TS       string `json:"ts,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

const (
	typeURLVerification = "url_verification"
	typeEventCallback   = "event_callback"
	typeAppMention      = "app_mention"
)

// Kind is the validator's verdict on a delivery.
type Kind int

const (
	KindIgnored Kind = iota
	KindChallenge
	KindMention
)

// Mention is a validated app_mention ready for dispatch.
type Mention struct {
	EventID   string
	TeamID    string
	ChannelID string
	UserID    string
	MessageTS string
	// ThreadKey is the thread root timestamp. When the mention itself opened
	// the thread it equals MessageTS.
	ThreadKey string
	SentAt    time.Time
}

// Result is the outcome of validating one envelope.
type Result struct {
	Kind      Kind
	Challenge string
	Mention   Mention
}

// ParseEnvelope decodes one raw delivery body.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode event envelope: %w", err)
	}
	return env, nil
}

// Validate classifies an envelope. Handshake challenges must be answered on
// the request path, mentions go to the dispatcher, everything else is ignored.
// Bot-authored mentions are ignored so the service never reacts to itself.
func Validate(env Envelope, now func() time.Time) (Result, error) {
	if now == nil {
		now = time.Now
	}
	switch strings.TrimSpace(env.Type) {
	case typeURLVerification:
		challenge := strings.TrimSpace(env.Challenge)
		if challenge == "" {
			return Result{}, fmt.Errorf("url_verification without challenge")
		}
		return Result{Kind: KindChallenge, Challenge: challenge}, nil
	case typeEventCallback:
		if len(env.Event) == 0 {
			return Result{Kind: KindIgnored}, nil
		}
		var inner innerEvent
		if err := json.Unmarshal(env.Event, &inner); err != nil {
			return Result{}, fmt.Errorf("decode inner event: %w", err)
		}
		if strings.TrimSpace(inner.Type) != typeAppMention {
			return Result{Kind: KindIgnored}, nil
		}
		if strings.TrimSpace(inner.BotID) != "" {
			return Result{Kind: KindIgnored}, nil
		}
		channelID := strings.TrimSpace(inner.Channel)
		messageTS := strings.TrimSpace(inner.TS)
		if channelID == "" || messageTS == "" {
			return Result{Kind: KindIgnored}, nil
		}
		threadKey := strings.TrimSpace(inner.ThreadTS)
		if threadKey == "" {
			threadKey = messageTS
		}
		teamID := strings.TrimSpace(env.TeamID)
		if teamID == "" {
			teamID = strings.TrimSpace(inner.Team)
		}
		sentAt := now().UTC()
		if env.EventTime > 0 {
			sentAt = time.Unix(env.EventTime, 0).UTC()
		}
		return Result{
			Kind: KindMention,
			Mention: Mention{
				EventID:   strings.TrimSpace(env.EventID),
				TeamID:    teamID,
				ChannelID: channelID,
				UserID:    strings.TrimSpace(inner.User),
				MessageTS: messageTS,
				ThreadKey: threadKey,
				SentAt:    sentAt,
			},
		}, nil
	default:
		return Result{Kind: KindIgnored}, nil
	}
}
