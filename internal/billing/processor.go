package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/petvida/petvida-service/internal/apperr"
)

// Dispatcher runs the workflow for a recorded event
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *Event) (*RouteResult, error)
}

// Receipt summarises how the pipeline handled one delivery
type Receipt struct {
	Outcome RecordOutcome
	Route   *RouteResult
}

// Processor records events in the ledger and dispatches the ones this
// invocation owns
type Processor struct {
	Ledger     Ledger
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Process handles a freshly verified delivery
func (p *Processor) Process(ctx context.Context, ev *Event) (*Receipt, error) {
	outcome, err := p.Ledger.RecordIfNew(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}
	return p.run(ctx, ev, outcome)
}

// Redrive resumes an event found stalled in the ledger
func (p *Processor) Redrive(ctx context.Context, ev *Event) (*Receipt, error) {
	outcome, err := p.Ledger.Claim(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("failed to claim event: %w", err)
	}
	if outcome == InFlight {
		// Someone else owns it; the sweep is not a delivery, so this is not a failure.
		return &Receipt{Outcome: InFlight}, nil
	}
	return p.run(ctx, ev, outcome)
}

func (p *Processor) run(ctx context.Context, ev *Event, outcome RecordOutcome) (*Receipt, error) {
	switch outcome {
	case Duplicate:
		return &Receipt{Outcome: Duplicate}, nil
	case InFlight:
		return nil, apperr.New(apperr.EventInFlight, "billing.process", "Event is being processed; retry later")
	}

	route, err := p.Dispatcher.Dispatch(ctx, ev)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.IncompleteMetadata, apperr.MalformedPayload:
			// Redelivery cannot fix the payload, so settle it and let later
			// deliveries be acknowledged as duplicates.
			if settleErr := p.Ledger.Settle(ctx, ev, SettlementRejected); settleErr != nil && !errors.Is(settleErr, ErrLeaseLost) {
				return nil, fmt.Errorf("failed to settle rejected event: %w", settleErr)
			}
		default:
			// An unreleased lease still expires on its own.
			if relErr := p.Ledger.Release(ctx, ev); relErr != nil {
				p.logger().WarnContext(ctx, "Failed to release event lease",
					slog.String("event_id", ev.ID),
					slog.String("error", relErr.Error()),
				)
			}
		}
		return nil, err
	}

	if err := p.Ledger.Settle(ctx, ev, SettlementProcessed); err != nil {
		if !errors.Is(err, ErrLeaseLost) {
			return nil, fmt.Errorf("failed to settle event: %w", err)
		}
		// The workflow is idempotent; the invocation holding the lease settles.
		p.logger().WarnContext(ctx, "Event lease reclaimed before settle",
			slog.String("event_id", ev.ID),
		)
	}

	return &Receipt{Outcome: outcome, Route: route}, nil
}
