package billing

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/petvida/petvida-service/internal/apperr"
)

// DefaultTolerance is the maximum age of a signature timestamp
const DefaultTolerance = webhook.DefaultTolerance

// Verifier authenticates webhook payloads against the endpoint secret
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier for the given endpoint secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:    secret,
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
}

// Verify checks signatureHeader against rawBody and returns the parsed event.
// rawBody must be the bytes exactly as received.
func (v *Verifier) Verify(rawBody []byte, signatureHeader string) (*Event, error) {
	if signatureHeader == "" {
		return nil, apperr.New(apperr.MissingSignature, "billing.verify", "Missing Stripe-Signature header")
	}
	if !json.Valid(rawBody) {
		return nil, apperr.New(apperr.MalformedPayload, "billing.verify", "Payload is not valid JSON")
	}

	se, err := webhook.ConstructEventWithOptions(rawBody, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, &apperr.Error{
				Kind:    apperr.InvalidSignature,
				Op:      "billing.verify",
				Message: "Invalid signature",
				Err:     err,
			}
		}
		return nil, &apperr.Error{
			Kind:    apperr.MalformedPayload,
			Op:      "billing.verify",
			Message: "Payload is not a valid event",
			Err:     err,
		}
	}

	return fromStripe(se, rawBody, v.now())
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
