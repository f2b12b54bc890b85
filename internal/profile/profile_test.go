package profile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/db"
	"github.com/petvida/petvida-service/internal/db/dbtest"
)

func newTestStore(table *dbtest.Table) *Store {
	s := NewStore(db.New(table, "users"))
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestEnsureProfile_Created(t *testing.T) {
	table := dbtest.NewTable()
	s := newTestStore(table)

	outcome, err := s.EnsureProfile(context.Background(), "u-1", "Ana", "a@x.com")
	if err != nil {
		t.Fatalf("EnsureProfile returned error: %v", err)
	}
	if outcome != Created {
		t.Errorf("expected Created, got %s", outcome)
	}

	items := table.Items("USER#u-1")
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	var p Profile
	if err := attributevalue.UnmarshalMap(items[0], &p); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if p.SK != "PROFILE" || p.Entity != "USER" || p.UserID != "u-1" {
		t.Errorf("unexpected profile keys: %+v", p)
	}
	if p.CreatedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("expected created_at from clock, got %q", p.CreatedAt)
	}
}

func TestEnsureProfile_TwiceLeavesOriginal(t *testing.T) {
	table := dbtest.NewTable()
	s := newTestStore(table)
	ctx := context.Background()

	if _, err := s.EnsureProfile(ctx, "u-1", "Ana", "a@x.com"); err != nil {
		t.Fatalf("first EnsureProfile returned error: %v", err)
	}
	outcome, err := s.EnsureProfile(ctx, "u-1", "Someone Else", "b@x.com")
	if err != nil {
		t.Fatalf("second EnsureProfile returned error: %v", err)
	}
	if outcome != AlreadyExists {
		t.Errorf("expected AlreadyExists, got %s", outcome)
	}

	p, err := s.Get(ctx, "u-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if p.Name != "Ana" || p.Email != "a@x.com" {
		t.Errorf("expected original profile, got %+v", p)
	}
}

func TestEnsureProfile_ConcurrentCallsConverge(t *testing.T) {
	table := dbtest.NewTable()
	s := newTestStore(table)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := s.EnsureProfile(context.Background(), "u-1", "Ana", "a@x.com")
			if err != nil {
				t.Errorf("EnsureProfile returned error: %v", err)
			}
			outcomes[i] = o
		}(i)
	}
	wg.Wait()

	created := 0
	for _, o := range outcomes {
		if o == Created {
			created++
		}
	}
	if created != 1 {
		t.Errorf("expected exactly one Created, got %d", created)
	}
	if table.Len() != 1 {
		t.Errorf("expected one stored profile, got %d", table.Len())
	}
}

func TestEnsureProfile_StorageFailure(t *testing.T) {
	table := dbtest.NewTable()
	table.PutErr = errors.New("throttled")
	s := newTestStore(table)

	_, err := s.EnsureProfile(context.Background(), "u-1", "Ana", "a@x.com")
	if apperr.KindOf(err) != apperr.StorageUnavailable {
		t.Errorf("expected StorageUnavailable, got %v", err)
	}
}

func TestGet_Missing(t *testing.T) {
	s := newTestStore(dbtest.NewTable())

	p, err := s.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil profile, got %+v", p)
	}
}

func TestSavePreferences_WritesUpdate(t *testing.T) {
	table := dbtest.NewTable()
	s := newTestStore(table)

	prefs := Preferences{RemindersEnabled: true, EmailNotifications: false, AdvanceDays: "3"}
	saved, err := s.SavePreferences(context.Background(), "u-1", prefs)
	if err != nil {
		t.Fatalf("SavePreferences returned error: %v", err)
	}
	if *saved != prefs {
		t.Errorf("expected saved preferences echoed, got %+v", saved)
	}

	if len(table.UpdateInputs) != 1 {
		t.Fatalf("expected 1 update, got %d", len(table.UpdateInputs))
	}
	input := table.UpdateInputs[0]
	if !strings.HasPrefix(aws.ToString(input.UpdateExpression), "SET") {
		t.Errorf("expected SET update, got %q", aws.ToString(input.UpdateExpression))
	}
	names := map[string]bool{}
	for _, n := range input.ExpressionAttributeNames {
		names[n] = true
	}
	for _, want := range []string{"preferences", "updated_at"} {
		if !names[want] {
			t.Errorf("expected update to set %s, names=%v", want, input.ExpressionAttributeNames)
		}
	}
}

func TestSavePreferences_KeepsExistingProfile(t *testing.T) {
	table := dbtest.NewTable()
	s := newTestStore(table)
	ctx := context.Background()

	if _, err := s.EnsureProfile(ctx, "u-1", "Ana", "a@x.com"); err != nil {
		t.Fatalf("EnsureProfile returned error: %v", err)
	}
	prefs := Preferences{RemindersEnabled: true, AdvanceDays: "14"}
	if _, err := s.SavePreferences(ctx, "u-1", prefs); err != nil {
		t.Fatalf("SavePreferences returned error: %v", err)
	}

	p, err := s.Get(ctx, "u-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if p.Name != "Ana" || p.UserID != "u-1" || p.Entity != db.EntityUser {
		t.Errorf("expected profile fields to survive, got %+v", p)
	}
	if p.Preferences == nil || *p.Preferences != prefs {
		t.Errorf("expected saved preferences, got %+v", p.Preferences)
	}
	if p.UpdatedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected updated_at %q", p.UpdatedAt)
	}
	if table.Len() != 1 {
		t.Errorf("expected one item, got %d", table.Len())
	}
}

func TestSavePreferences_CreatesMissingProfile(t *testing.T) {
	s := newTestStore(dbtest.NewTable())
	ctx := context.Background()

	if _, err := s.SavePreferences(ctx, "u-2", DefaultPreferences()); err != nil {
		t.Fatalf("SavePreferences returned error: %v", err)
	}
	p, err := s.Get(ctx, "u-2")
	if err != nil || p == nil {
		t.Fatalf("expected profile, got %+v/%v", p, err)
	}
	if p.UserID != "u-2" || p.Entity != db.EntityUser {
		t.Errorf("expected id and entity defaulted, got %+v", p)
	}
}

func TestDefaultPreferences(t *testing.T) {
	d := DefaultPreferences()
	if d.RemindersEnabled || d.EmailNotifications || d.AdvanceDays != "7" {
		t.Errorf("unexpected defaults: %+v", d)
	}
}
