package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/db"
)

// RecordOutcome describes what the ledger did with an arriving event
type RecordOutcome int

const (
	// Inserted means the event was new; the caller holds its lease
	Inserted RecordOutcome = iota
	// Duplicate means the event was already settled
	Duplicate
	// Reclaimed means an earlier attempt stalled; the caller now holds the lease
	Reclaimed
	// InFlight means another invocation holds an unexpired lease
	InFlight
)

func (o RecordOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case Reclaimed:
		return "reclaimed"
	case InFlight:
		return "inFlight"
	default:
		return "unknown"
	}
}

// Settlement is the terminal state of a processed event
type Settlement string

const (
	SettlementProcessed Settlement = "processed"
	SettlementRejected  Settlement = "rejected"
)

// Ledger status values
const (
	StatusReceived = "received"
)

// ErrLeaseLost is returned by Settle and Release when another invocation has
// reclaimed the event or it is no longer unsettled
var ErrLeaseLost = errors.New("billing: lease no longer held")

const (
	stalledIndex   = "gsi1"
	stalledPartKey = "RECEIVED"
)

// Ledger is the durable, deduplicated record of verified events
type Ledger interface {
	RecordIfNew(ctx context.Context, ev *Event) (RecordOutcome, error)
	Claim(ctx context.Context, ev *Event) (RecordOutcome, error)
	Settle(ctx context.Context, ev *Event, s Settlement) error
	Release(ctx context.Context, ev *Event) error
	ListStalled(ctx context.Context, cutoff time.Time) ([]*Event, error)
}

// ledgerRecord is the stored form of an event
type ledgerRecord struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	EventID       string `dynamodbav:"event_id"`
	Type          string `dynamodbav:"type"`
	Livemode      bool   `dynamodbav:"livemode"`
	CreatedEpoch  int64  `dynamodbav:"created_epoch"`
	CreatedAt     string `dynamodbav:"created_at"`
	ReceivedEpoch int64  `dynamodbav:"received_epoch"`
	ReceivedAt    string `dynamodbav:"received_at"`
	Payload       string `dynamodbav:"payload"`
	Status        string `dynamodbav:"status"`
	LeaseUntil    int64  `dynamodbav:"lease_until"`
	LeaseToken    string `dynamodbav:"lease_token,omitempty"`
	Attempts      int    `dynamodbav:"attempts"`
	SettledAt     string `dynamodbav:"settled_at,omitempty"`
	GSI1PK        string `dynamodbav:"gsi1pk,omitempty"`
	GSI1SK        string `dynamodbav:"gsi1sk,omitempty"`
}

// DynamoDBLedger implements Ledger on a DynamoDB table keyed PK/SK
type DynamoDBLedger struct {
	client   *db.Client
	lease    time.Duration
	now      func() time.Time
	newToken func() string
}

// NewDynamoDBLedger creates a ledger. lease bounds how long an invocation may
// hold an event before another delivery can reclaim it.
func NewDynamoDBLedger(client *db.Client, lease time.Duration) *DynamoDBLedger {
	return &DynamoDBLedger{
		client:   client,
		lease:    lease,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

func eventKey(ev *Event) (string, string) {
	return db.PKPrefixEvent + ev.ID, db.SKPrefixCreated + ev.OccurredAt.UTC().Format(time.RFC3339)
}

// RecordIfNew inserts the event when its id has never been seen
func (l *DynamoDBLedger) RecordIfNew(ctx context.Context, ev *Event) (RecordOutcome, error) {
	now := l.now().UTC()
	pk, sk := eventKey(ev)
	receivedAt := ev.ReceivedAt.UTC().Format(time.RFC3339)
	token := l.newToken()

	record := ledgerRecord{
		PK:            pk,
		SK:            sk,
		EventID:       ev.ID,
		Type:          ev.Type,
		Livemode:      ev.Livemode,
		CreatedEpoch:  ev.OccurredAt.Unix(),
		CreatedAt:     ev.OccurredAt.UTC().Format(time.RFC3339),
		ReceivedEpoch: ev.ReceivedAt.Unix(),
		ReceivedAt:    receivedAt,
		Payload:       string(ev.RawPayload),
		Status:        StatusReceived,
		LeaseUntil:    now.Add(l.lease).Unix(),
		LeaseToken:    token,
		Attempts:      1,
		GSI1PK:        stalledPartKey,
		GSI1SK:        receivedAt + "#" + ev.ID,
	}

	inserted, err := l.client.PutIfAbsent(ctx, record)
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageUnavailable, "ledger.record", err)
	}
	if inserted {
		ev.leaseToken = token
		return Inserted, nil
	}

	return l.Claim(ctx, ev)
}

// Claim takes the lease on an unsettled event whose previous lease expired.
// Returns Reclaimed when the caller now owns the event.
func (l *DynamoDBLedger) Claim(ctx context.Context, ev *Event) (RecordOutcome, error) {
	now := l.now().UTC()
	pk, sk := eventKey(ev)
	token := l.newToken()

	cond := expression.Name("status").Equal(expression.Value(StatusReceived)).
		And(expression.Name("lease_until").LessThan(expression.Value(now.Unix())))
	update := expression.Set(expression.Name("lease_until"), expression.Value(now.Add(l.lease).Unix())).
		Set(expression.Name("lease_token"), expression.Value(token)).
		Add(expression.Name("attempts"), expression.Value(1))

	_, err := l.client.Update(ctx, db.UpdateOptions{
		PK:        pk,
		SK:        sk,
		Update:    update,
		Condition: &cond,
	})
	if err == nil {
		ev.leaseToken = token
		return Reclaimed, nil
	}

	stored, ok := db.IsConditionalCheckFailed(err)
	if !ok {
		return 0, apperr.Wrap(apperr.StorageUnavailable, "ledger.claim", err)
	}
	if stored == nil {
		// No item came back, so someone else is between insert and settle.
		return InFlight, nil
	}

	var record ledgerRecord
	if err := attributevalue.UnmarshalMap(stored, &record); err != nil {
		return 0, apperr.Wrap(apperr.Internal, "ledger.claim", fmt.Errorf("failed to unmarshal record: %w", err))
	}
	if record.Status == StatusReceived {
		return InFlight, nil
	}
	return Duplicate, nil
}

// leaseHeld matches an unsettled event whose lease is still ev's
func leaseHeld(ev *Event) expression.ConditionBuilder {
	return expression.Name("status").Equal(expression.Value(StatusReceived)).
		And(expression.Name("lease_token").Equal(expression.Value(ev.leaseToken)))
}

// Settle records the terminal state and drops the event from the stalled
// index. Returns ErrLeaseLost when ev's lease has been reclaimed.
func (l *DynamoDBLedger) Settle(ctx context.Context, ev *Event, s Settlement) error {
	pk, sk := eventKey(ev)

	cond := leaseHeld(ev)
	update := expression.Set(expression.Name("status"), expression.Value(string(s))).
		Set(expression.Name("settled_at"), expression.Value(l.now().UTC().Format(time.RFC3339))).
		Remove(expression.Name("lease_until")).
		Remove(expression.Name("lease_token")).
		Remove(expression.Name("gsi1pk")).
		Remove(expression.Name("gsi1sk"))

	if _, err := l.client.Update(ctx, db.UpdateOptions{PK: pk, SK: sk, Update: update, Condition: &cond}); err != nil {
		if _, ok := db.IsConditionalCheckFailed(err); ok {
			return ErrLeaseLost
		}
		return apperr.Wrap(apperr.StorageUnavailable, "ledger.settle", err)
	}
	return nil
}

// Release gives up ev's lease so the next delivery can reclaim immediately.
// Returns ErrLeaseLost when the lease is no longer ev's.
func (l *DynamoDBLedger) Release(ctx context.Context, ev *Event) error {
	pk, sk := eventKey(ev)

	cond := leaseHeld(ev)
	update := expression.Set(expression.Name("lease_until"), expression.Value(0))

	if _, err := l.client.Update(ctx, db.UpdateOptions{PK: pk, SK: sk, Update: update, Condition: &cond}); err != nil {
		if _, ok := db.IsConditionalCheckFailed(err); ok {
			return ErrLeaseLost
		}
		return apperr.Wrap(apperr.StorageUnavailable, "ledger.release", err)
	}
	return nil
}

// ListStalled returns unsettled events received before cutoff
func (l *DynamoDBLedger) ListStalled(ctx context.Context, cutoff time.Time) ([]*Event, error) {
	kc := expression.Key("gsi1pk").Equal(expression.Value(stalledPartKey)).
		And(expression.Key("gsi1sk").LessThan(expression.Value(cutoff.UTC().Format(time.RFC3339))))

	items, err := l.client.Query(ctx, db.QueryOptions{
		IndexName:    stalledIndex,
		KeyCondition: &kc,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "ledger.listStalled", err)
	}

	events := make([]*Event, 0, len(items))
	for _, item := range items {
		ev, err := eventFromItem(item)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func eventFromItem(item map[string]types.AttributeValue) (*Event, error) {
	var record ledgerRecord
	if err := attributevalue.UnmarshalMap(item, &record); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "ledger.decode", fmt.Errorf("failed to unmarshal record: %w", err))
	}
	receivedAt, err := time.Parse(time.RFC3339, record.ReceivedAt)
	if err != nil {
		receivedAt = time.Unix(record.ReceivedEpoch, 0)
	}
	return ParseStored([]byte(record.Payload), receivedAt)
}
