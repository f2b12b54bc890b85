// Package spanattr holds the span attributes for billing and pet records.
package spanattr

import "go.opentelemetry.io/otel/attribute"

// UserID returns an attribute for the Cognito subject
func UserID(id string) attribute.KeyValue {
	return attribute.String("user_id", id)
}

// PetID returns an attribute for the pet ID
func PetID(id string) attribute.KeyValue {
	return attribute.String("pet_id", id)
}

// EventID returns an attribute for the payment provider's event ID
func EventID(id string) attribute.KeyValue {
	return attribute.String("billing.event_id", id)
}

// EventType returns an attribute for the payment provider's event type
func EventType(t string) attribute.KeyValue {
	return attribute.String("billing.event_type", t)
}

// Outcome records how the pipeline disposed of an event
func Outcome(o string) attribute.KeyValue {
	return attribute.String("billing.outcome", o)
}
