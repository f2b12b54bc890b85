// Package health records care events and vaccinations for a user's pets.
package health

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/google/uuid"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/db"
)

const (
	TypeCare    = "CARE"
	TypeVaccine = "VACCINE"

	// DefaultPeriodicity is the care interval in days when none is given
	DefaultPeriodicity = "30"
)

// Record is a stored health record. Care and vaccine records share the
// table and are told apart by Type.
type Record struct {
	PK          string `dynamodbav:"PK" json:"-"`
	SK          string `dynamodbav:"SK" json:"-"`
	Type        string `dynamodbav:"type" json:"type"`
	RecordID    string `dynamodbav:"recordId" json:"recordId"`
	PetID       string `dynamodbav:"petId" json:"petId"`
	CareType    string `dynamodbav:"careType,omitempty" json:"careType,omitempty"`
	PerformedAt string `dynamodbav:"performedAt,omitempty" json:"performedAt,omitempty"`
	Periodicity string `dynamodbav:"periodicity,omitempty" json:"periodicity,omitempty"`
	Name        string `dynamodbav:"name,omitempty" json:"name,omitempty"`
	AppliedAt   string `dynamodbav:"appliedAt,omitempty" json:"appliedAt,omitempty"`
	NextDueDate string `dynamodbav:"nextDueDate,omitempty" json:"nextDueDate,omitempty"`
	Notes       string `dynamodbav:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt   string `dynamodbav:"createdAt" json:"createdAt"`
}

// NewCare is the post-care request body
type NewCare struct {
	PetID       string `json:"petId" validate:"required,max=64,excludesall=#/"`
	CareType    string `json:"type" validate:"required,max=50"`
	PerformedAt string `json:"performedAt" validate:"required"`
	Periodicity string `json:"periodicity" validate:"omitempty,numeric"`
	Notes       string `json:"notes" validate:"max=1000"`
}

// NewVaccine is the post-vaccine request body
type NewVaccine struct {
	PetID     string `json:"petId" validate:"required,max=64,excludesall=#/"`
	Name      string `json:"name" validate:"required,max=100"`
	AppliedAt string `json:"appliedAt" validate:"required"`
	NextDose  string `json:"nextDose"`
	Notes     string `json:"notes" validate:"max=1000"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	time.DateOnly,
}

// parseDate accepts a calendar date or an ISO 8601 timestamp
func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// NextDueDate is the calendar date periodicityDays after performedAt
func NextDueDate(performedAt, periodicityDays string) (string, error) {
	performed, err := parseDate(performedAt)
	if err != nil {
		return "", apperr.New(apperr.InvalidArguments, "health.nextDueDate", "performedAt must be an ISO 8601 date")
	}
	days, err := strconv.Atoi(periodicityDays)
	if err != nil || days < 0 {
		return "", apperr.New(apperr.InvalidArguments, "health.nextDueDate", "periodicity must be a whole number of days")
	}
	return performed.AddDate(0, 0, days).Format(time.DateOnly), nil
}

// Store reads and writes the health records table
type Store struct {
	client *db.Client
	now    func() time.Time
	newID  func() string
}

// NewStore creates a health record store
func NewStore(client *db.Client) *Store {
	return &Store{
		client: client,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func recordPrefix(petID, recordType string) string {
	return db.SKPrefixPet + petID + "#" + recordType + "#"
}

// AddCare stores a care record and schedules its next due date
func (s *Store) AddCare(ctx context.Context, userID string, in NewCare) (*Record, error) {
	periodicity := in.Periodicity
	if periodicity == "" {
		periodicity = DefaultPeriodicity
	}
	nextDue, err := NextDueDate(in.PerformedAt, periodicity)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	record := Record{
		PK:          db.PKPrefixUser + userID,
		SK:          recordPrefix(in.PetID, TypeCare) + now,
		Type:        TypeCare,
		RecordID:    s.newID(),
		PetID:       in.PetID,
		CareType:    in.CareType,
		PerformedAt: in.PerformedAt,
		Periodicity: periodicity,
		NextDueDate: nextDue,
		Notes:       in.Notes,
		CreatedAt:   now,
	}
	if err := s.client.Put(ctx, record); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "health.addCare", err)
	}
	return &record, nil
}

// AddVaccine stores a vaccination. NextDose, when given, becomes the next
// due date.
func (s *Store) AddVaccine(ctx context.Context, userID string, in NewVaccine) (*Record, error) {
	if _, err := parseDate(in.AppliedAt); err != nil {
		return nil, apperr.New(apperr.InvalidArguments, "health.addVaccine", "appliedAt must be an ISO 8601 date")
	}
	if in.NextDose != "" {
		if _, err := parseDate(in.NextDose); err != nil {
			return nil, apperr.New(apperr.InvalidArguments, "health.addVaccine", "nextDose must be an ISO 8601 date")
		}
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	record := Record{
		PK:          db.PKPrefixUser + userID,
		SK:          recordPrefix(in.PetID, TypeVaccine) + now,
		Type:        TypeVaccine,
		RecordID:    s.newID(),
		PetID:       in.PetID,
		Name:        in.Name,
		AppliedAt:   in.AppliedAt,
		NextDueDate: in.NextDose,
		Notes:       in.Notes,
		CreatedAt:   now,
	}
	if err := s.client.Put(ctx, record); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "health.addVaccine", err)
	}
	return &record, nil
}

// ListCare returns care records, most recently performed first. An empty
// petID lists every pet's records.
func (s *Store) ListCare(ctx context.Context, userID, petID string) ([]Record, error) {
	records, err := s.list(ctx, userID, petID, TypeCare)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].PerformedAt > records[j].PerformedAt
	})
	return records, nil
}

// ListVaccines returns vaccination records in key order. An empty petID
// lists every pet's records.
func (s *Store) ListVaccines(ctx context.Context, userID, petID string) ([]Record, error) {
	return s.list(ctx, userID, petID, TypeVaccine)
}

func (s *Store) list(ctx context.Context, userID, petID, recordType string) ([]Record, error) {
	opts := db.QueryOptions{PK: db.PKPrefixUser + userID}
	if petID != "" {
		opts.SKPrefix = recordPrefix(petID, recordType)
	} else {
		filter := expression.Name("type").Equal(expression.Value(recordType))
		opts.Filter = &filter
	}

	items, err := s.client.Query(ctx, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "health.list", err)
	}
	records := make([]Record, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &records); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "health.list", err)
	}
	return records, nil
}
