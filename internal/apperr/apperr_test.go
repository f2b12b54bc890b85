package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusCode(t *testing.T) {
	cases := map[Kind]int{
		MissingSignature:            400,
		MalformedPayload:            400,
		InvalidSignature:            400,
		IncompleteMetadata:          400,
		InvalidArguments:            400,
		Unauthorized:                401,
		NotFound:                    404,
		EventInFlight:               409,
		StorageUnavailable:          500,
		IdentityProviderUnavailable: 500,
		PaymentProviderUnavailable:  500,
		Internal:                    500,
	}
	for kind, want := range cases {
		if got := kind.StatusCode(); got != want {
			t.Errorf("%s: expected status %d, got %d", kind, want, got)
		}
	}
}

func TestKindOf_WrappedChain(t *testing.T) {
	base := Wrap(StorageUnavailable, "ledger.put", errors.New("throttled"))
	err := fmt.Errorf("failed to record event: %w", base)

	if got := KindOf(err); got != StorageUnavailable {
		t.Errorf("expected StorageUnavailable, got %s", got)
	}
}

func TestKindOf_UnclassifiedIsInternal(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Internal {
		t.Errorf("expected Internal, got %s", got)
	}
}

func TestErrorsIs_MatchesByKind(t *testing.T) {
	err := Wrap(InvalidSignature, "verify", errors.New("bad mac"))

	if !errors.Is(err, &Error{Kind: InvalidSignature}) {
		t.Error("expected errors.Is to match on kind")
	}
	if errors.Is(err, &Error{Kind: MalformedPayload}) {
		t.Error("expected errors.Is not to match a different kind")
	}
}

func TestErrorsIs_BuiltErrorsMatchOnlyThemselves(t *testing.T) {
	notFound := New(NotFound, "pets.get", "Pet not found")
	other := New(NotFound, "pets.get", "Pet not found")
	err := fmt.Errorf("failed to load pet: %w", notFound)

	if !errors.Is(err, notFound) {
		t.Error("expected errors.Is to match the same error value")
	}
	if errors.Is(err, other) {
		t.Error("expected a separately built error not to match")
	}
	if !errors.Is(err, &Error{Kind: NotFound}) {
		t.Error("expected a bare kind target to match")
	}
}

func TestPublic_HidesInfrastructureDetail(t *testing.T) {
	err := Wrap(StorageUnavailable, "profile.put", errors.New("arn:aws:dynamodb:secret-table"))
	if got := Public(err); got != "Internal server error" {
		t.Errorf("expected generic message, got %q", got)
	}

	err = New(IncompleteMetadata, "route", "Missing user metadata")
	if got := Public(err); got != "Missing user metadata" {
		t.Errorf("expected caller message, got %q", got)
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(IdentityProviderUnavailable, "identity.create", errors.New("timeout"))
	want := "identity.create: identityProviderUnavailable: timeout"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
