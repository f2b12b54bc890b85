// Package eventcontract defines notifications published to downstream
// consumers after account lifecycle changes.
package eventcontract

// Event types
const (
	AccountProvisioned = "account.provisioned"
)

// EventPayload is the message body sent to the notification queue
type EventPayload struct {
	EventType     string         `json:"eventType"`          // e.g. "account.provisioned"
	OccurredAt    string         `json:"occurredAt"`         // RFC 3339
	UserID        string         `json:"userId"`             // Identity handle
	SourceEventID string         `json:"sourceEventId"`      // Billing event that caused this notification
	Data          map[string]any `json:"data,omitempty"`
}
