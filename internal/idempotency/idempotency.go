// Package idempotency builds the stable keys that recognize deliveries which
// have already been handled. Slack delivers events at least once, so every
// intake path records a key before doing any work.
package idempotency

import "strings"

var keySanitizer = strings.NewReplacer(":", "_", ".", "_", "/", "_")

// EventKey identifies one Events API delivery. Slack reuses the event_id on
// redelivery, which is exactly what makes it usable for retry suppression.
func EventKey(eventID string) string {
	return "evt:" + keySanitizer.Replace(strings.TrimSpace(eventID))
}
