package summarize

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateSchemaIsStrict(t *testing.T) {
	t.Parallel()

	schema := generateSchema[Summary]()
	if schema[typeKey] != "object" {
		t.Fatalf("schema type = %v, want object", schema[typeKey])
	}
	if schema[additionalPropertiesKey] != false {
		t.Fatalf("additionalProperties = %v, want false", schema[additionalPropertiesKey])
	}
	properties, ok := schema[propertiesKey].(map[string]interface{})
	if !ok {
		t.Fatalf("schema has no properties map")
	}
	for _, field := range []string{"short_summary", "long_summary", "conclusion", "tags", "bullet_points", "next_action"} {
		if _, ok := properties[field]; !ok {
			t.Fatalf("schema is missing %s", field)
		}
	}
	required, ok := schema[requiredKey].([]string)
	if !ok || len(required) != len(properties) {
		t.Fatalf("required = %#v, want every property required", schema[requiredKey])
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestSummarizeDecodesStructuredResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("path = %q, want /responses", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "resp_1",
			"object": "response",
			"status": "completed",
			"output": [{
				"type": "message",
				"id": "msg_1",
				"status": "completed",
				"role": "assistant",
				"content": [{
					"type": "output_text",
					"text": "{\"short_summary\":\"Rollout failed and was rolled back.\",\"long_summary\":\"The deploy broke login.\",\"conclusion\":\"Rollback worked.\",\"tags\":[\"deploy\",\"incident\",\"login\"],\"bullet_points\":[\"login broke\",\"rolled back\",\"users unaffected\"],\"next_action\":\"Add a canary stage.\"}"
				}]
			}]
		}`))
	}))
	defer srv.Close()

	s, err := New(Options{APIKey: "sk-test", Model: "gpt-4o-mini", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	out, err := s.Summarize(context.Background(), "alice: deploy broke login\nbob: rolling back")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if out.ShortSummary != "Rollout failed and was rolled back." {
		t.Fatalf("short_summary = %q", out.ShortSummary)
	}
	if len(out.Tags) != 3 || out.Tags[0] != "deploy" {
		t.Fatalf("tags = %#v", out.Tags)
	}
	if out.NextAction != "Add a canary stage." {
		t.Fatalf("next_action = %q", out.NextAction)
	}
}

func TestSummarizeRejectsMalformedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "resp_1",
			"object": "response",
			"status": "completed",
			"output": [{
				"type": "message",
				"id": "msg_1",
				"status": "completed",
				"role": "assistant",
				"content": [{"type": "output_text", "text": "sorry, I cannot produce JSON"}]
			}]
		}`))
	}))
	defer srv.Close()

	s, err := New(Options{APIKey: "sk-test", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := s.Summarize(context.Background(), "alice: hi"); err == nil {
		t.Fatalf("expected hard error for malformed structured response")
	}
}

func TestSummarizeRequiresContent(t *testing.T) {
	t.Parallel()

	s, err := New(Options{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := s.Summarize(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty content")
	}
}
