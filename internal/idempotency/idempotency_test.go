package idempotency

import "testing"

func TestEventKey(t *testing.T) {
	t.Parallel()

	if got := EventKey(" Ev0123ABC "); got != "evt:Ev0123ABC" {
		t.Fatalf("EventKey() = %q", got)
	}
	if got := EventKey("Ev01:23.45"); got != "evt:Ev01_23_45" {
		t.Fatalf("EventKey() = %q, want separators sanitized", got)
	}
}

func TestEventKeyDistinguishesDeliveries(t *testing.T) {
	t.Parallel()

	if EventKey("Ev01") == EventKey("Ev02") {
		t.Fatalf("distinct deliveries produced the same key")
	}
}
