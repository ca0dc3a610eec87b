package jsonutil

import (
	"errors"
	"testing"
)

func TestDecodeWithFallbackDirectJSON(t *testing.T) {
	var out struct {
		Tags []string `json:"tags"`
	}
	err := DecodeWithFallback(`{"tags":["infra","incident"]}`, &out)
	if err != nil {
		t.Fatalf("DecodeWithFallback() error = %v", err)
	}
	if len(out.Tags) != 2 || out.Tags[0] != "infra" || out.Tags[1] != "incident" {
		t.Fatalf("unexpected tags: %#v", out.Tags)
	}
}

func TestDecodeWithFallbackCodeFenceJSON(t *testing.T) {
	var out struct {
		ShortSummary string `json:"short_summary"`
	}
	err := DecodeWithFallback("```json\n{\"short_summary\":\"ok\"}\n```", &out)
	if err != nil {
		t.Fatalf("DecodeWithFallback() error = %v", err)
	}
	if out.ShortSummary != "ok" {
		t.Fatalf("short_summary = %q, want ok", out.ShortSummary)
	}
}

func TestDecodeWithFallbackSurroundingProse(t *testing.T) {
	var out struct {
		NextAction string `json:"next_action"`
	}
	err := DecodeWithFallback("Here is the result:\n{\"next_action\":\"file a ticket\"}\nDone.", &out)
	if err != nil {
		t.Fatalf("DecodeWithFallback() error = %v", err)
	}
	if out.NextAction != "file a ticket" {
		t.Fatalf("next_action = %q, want 'file a ticket'", out.NextAction)
	}
}

func TestDecodeWithFallbackEmptyInput(t *testing.T) {
	var out map[string]any
	err := DecodeWithFallback(" \n\t ", &out)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestDecodeWithFallbackRejectsInvalidInput(t *testing.T) {
	var out map[string]any
	err := DecodeWithFallback("not a json payload", &out)
	if err == nil {
		t.Fatalf("expected error for invalid input")
	}
}
