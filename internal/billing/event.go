// Package billing ingests payment-provider webhook events: it verifies them,
// records each one exactly once, and drives account provisioning.
package billing

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/petvida/petvida-service/internal/apperr"
)

// Event types with dedicated handling
const (
	TypeCheckoutSessionCompleted = "checkout.session.completed"
	TypeInvoicePaid              = "invoice.paid"
	TypeInvoicePaymentFailed     = "invoice.payment_failed"
	TypeSubscriptionDeleted      = "customer.subscription.deleted"
)

// Event is a verified billing event. RawPayload holds the exact bytes whose
// signature was checked.
type Event struct {
	ID         string
	Type       string
	Livemode   bool
	OccurredAt time.Time
	ReceivedAt time.Time
	RawPayload []byte

	// leaseToken identifies the lease this invocation took in the ledger
	leaseToken string
}

// ParseStored rebuilds an event from a payload that was verified when it was
// first received.
func ParseStored(raw []byte, receivedAt time.Time) (*Event, error) {
	var se stripe.Event
	if err := json.Unmarshal(raw, &se); err != nil {
		return nil, apperr.Wrap(apperr.MalformedPayload, "billing.parse", err)
	}
	return fromStripe(se, raw, receivedAt)
}

func fromStripe(se stripe.Event, raw []byte, receivedAt time.Time) (*Event, error) {
	if se.ID == "" || se.Type == "" {
		return nil, apperr.New(apperr.MalformedPayload, "billing.parse", "Event is missing id or type")
	}

	payload := make([]byte, len(raw))
	copy(payload, raw)

	return &Event{
		ID:         se.ID,
		Type:       string(se.Type),
		Livemode:   se.Livemode,
		OccurredAt: time.Unix(se.Created, 0).UTC(),
		ReceivedAt: receivedAt.UTC(),
		RawPayload: payload,
	}, nil
}
