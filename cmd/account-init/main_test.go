package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/petvida/petvida-service/internal/db"
	"github.com/petvida/petvida-service/internal/db/dbtest"
	"github.com/petvida/petvida-service/internal/profile"
)

type mockProfiles struct {
	called bool
	userID string
	name   string
	email  string
	err    error
}

func (m *mockProfiles) EnsureProfile(ctx context.Context, userID, name, email string) (profile.Outcome, error) {
	m.called = true
	m.userID = userID
	m.name = name
	m.email = email
	return profile.Created, m.err
}

func postAuthEvent(attrs map[string]string) events.CognitoEventUserPoolsPostAuthentication {
	event := events.CognitoEventUserPoolsPostAuthentication{}
	event.UserName = "3f1c2a9e-0000-4000-8000-000000000001"
	event.UserPoolID = "us-east-1_test"
	event.Request.UserAttributes = attrs
	return event
}

func TestHandler_EnsuresProfile(t *testing.T) {
	m := &mockProfiles{}
	deps = &Dependencies{Profiles: m}

	event := postAuthEvent(map[string]string{"sub": "sub-1", "email": " Ana@X.com", "name": "Ana"})
	out, err := handler(context.Background(), event)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if out.UserName != event.UserName {
		t.Error("expected event to be returned unchanged")
	}
	if m.userID != "sub-1" || m.email != "ana@x.com" || m.name != "Ana" {
		t.Errorf("unexpected profile call %q %q %q", m.userID, m.email, m.name)
	}
}

func TestHandler_MissingSub(t *testing.T) {
	m := &mockProfiles{}
	deps = &Dependencies{Profiles: m}

	_, err := handler(context.Background(), postAuthEvent(map[string]string{"email": "ana@x.com"}))
	if err == nil {
		t.Fatal("expected error for missing sub")
	}
	if m.called {
		t.Error("expected no profile call")
	}
}

func TestHandler_StorageFailureFailsSignIn(t *testing.T) {
	deps = &Dependencies{Profiles: &mockProfiles{err: errors.New("throttled")}}

	if _, err := handler(context.Background(), postAuthEvent(map[string]string{"sub": "sub-1"})); err == nil {
		t.Fatal("expected error")
	}
}

func TestHandler_ExistingProfileUntouched(t *testing.T) {
	table := dbtest.NewTable()
	store := profile.NewStore(db.New(table, "users"))
	if _, err := store.EnsureProfile(context.Background(), "sub-1", "Original", "ana@x.com"); err != nil {
		t.Fatalf("EnsureProfile returned error: %v", err)
	}
	deps = &Dependencies{Profiles: store}

	if _, err := handler(context.Background(), postAuthEvent(map[string]string{"sub": "sub-1", "name": "Changed"})); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	p, err := store.Get(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if p.Name != "Original" {
		t.Errorf("expected original profile to be kept, got %q", p.Name)
	}
	if table.Len() != 1 {
		t.Errorf("expected one profile, got %d", table.Len())
	}
}
