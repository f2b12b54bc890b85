package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/identity"
	"github.com/petvida/petvida-service/internal/profile"
	"github.com/petvida/petvida-service/pkg/eventcontract"
)

// IdentityProvisioner ensures one identity per email
type IdentityProvisioner interface {
	EnsureIdentity(ctx context.Context, email, displayName string) (identity.Result, error)
}

// ProfileEnsurer ensures one profile per identity
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, userID, name, email string) (profile.Outcome, error)
}

// Notifier publishes downstream notifications
type Notifier interface {
	Publish(ctx context.Context, payload eventcontract.EventPayload) error
}

// Route actions
const (
	ActionProvisioned  = "provisioned"
	ActionAcknowledged = "acknowledged"
	ActionIgnored      = "ignored"
)

// RouteResult describes what dispatching an event did
type RouteResult struct {
	Action          string
	UserID          string
	IdentityOutcome identity.Outcome
	ProfileOutcome  profile.Outcome
}

// Router dispatches recorded events by type
type Router struct {
	Identities IdentityProvisioner
	Profiles   ProfileEnsurer
	Notifier   Notifier
	Logger     *slog.Logger
}

func (r *Router) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Dispatch runs the workflow for ev. Every step is idempotent so a
// dispatch may be repeated after a partial failure.
func (r *Router) Dispatch(ctx context.Context, ev *Event) (*RouteResult, error) {
	switch ev.Type {
	case TypeCheckoutSessionCompleted:
		return r.provision(ctx, ev)
	case TypeInvoicePaid, TypeInvoicePaymentFailed, TypeSubscriptionDeleted:
		r.logSubscriptionEvent(ctx, ev)
		return &RouteResult{Action: ActionAcknowledged}, nil
	default:
		r.logger().InfoContext(ctx, "Unhandled billing event type",
			slog.String("event_id", ev.ID),
			slog.String("event_type", ev.Type),
		)
		return &RouteResult{Action: ActionIgnored}, nil
	}
}

func (r *Router) provision(ctx context.Context, ev *Event) (*RouteResult, error) {
	doc, err := decodeDocument(ev.RawPayload)
	if err != nil {
		return nil, apperr.Wrap(apperr.MalformedPayload, "billing.provision", err)
	}

	email := doc.stringAt(pointerMetadataEmail)
	name := doc.stringAt(pointerMetadataName)
	if email == "" || name == "" {
		return nil, apperr.New(apperr.IncompleteMetadata, "billing.provision", "Missing user metadata")
	}

	ident, err := r.Identities.EnsureIdentity(ctx, email, name)
	if err != nil {
		return nil, err
	}

	profileOutcome, err := r.Profiles.EnsureProfile(ctx, ident.Identity.ID, name, ident.Identity.Email)
	if err != nil {
		return nil, err
	}

	r.logger().InfoContext(ctx, "Account provisioned",
		slog.String("event_id", ev.ID),
		slog.String("user_id", ident.Identity.ID),
		slog.String("identity", ident.Outcome.String()),
		slog.String("profile", profileOutcome.String()),
	)

	if r.Notifier != nil && (ident.Outcome == identity.Created || profileOutcome == profile.Created) {
		payload := eventcontract.EventPayload{
			EventType:     eventcontract.AccountProvisioned,
			OccurredAt:    time.Now().UTC().Format(time.RFC3339),
			UserID:        ident.Identity.ID,
			SourceEventID: ev.ID,
			Data: map[string]any{
				"email":           ident.Identity.Email,
				"checkoutSession": doc.stringAt(pointerObjectID),
				"customer":        doc.stringAt(pointerCustomer),
				"livemode":        ev.Livemode,
			},
		}
		if err := r.Notifier.Publish(ctx, payload); err != nil {
			// Provisioning already succeeded; the notification is best effort.
			r.logger().ErrorContext(ctx, "Failed to publish account.provisioned",
				slog.String("event_id", ev.ID),
				slog.String("user_id", ident.Identity.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return &RouteResult{
		Action:          ActionProvisioned,
		UserID:          ident.Identity.ID,
		IdentityOutcome: ident.Outcome,
		ProfileOutcome:  profileOutcome,
	}, nil
}

func (r *Router) logSubscriptionEvent(ctx context.Context, ev *Event) {
	attrs := []any{
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.Bool("livemode", ev.Livemode),
	}
	if doc, err := decodeDocument(ev.RawPayload); err == nil {
		attrs = append(attrs,
			slog.String("object_id", doc.stringAt(pointerObjectID)),
			slog.String("customer", doc.stringAt(pointerCustomer)),
		)
	}

	switch ev.Type {
	case TypeInvoicePaymentFailed:
		r.logger().WarnContext(ctx, "Invoice payment failed", attrs...)
	case TypeSubscriptionDeleted:
		r.logger().InfoContext(ctx, "Subscription cancelled", attrs...)
	default:
		r.logger().InfoContext(ctx, "Invoice paid", attrs...)
	}
}
