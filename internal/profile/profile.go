// Package profile stores one application profile per identity.
package profile

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/db"
)

// Outcome reports whether a profile was created by this call
type Outcome int

const (
	Created Outcome = iota
	AlreadyExists
)

func (o Outcome) String() string {
	if o == AlreadyExists {
		return "alreadyExists"
	}
	return "created"
}

// Preferences are the user-editable notification settings
type Preferences struct {
	RemindersEnabled   bool   `dynamodbav:"remindersEnabled" json:"remindersEnabled"`
	EmailNotifications bool   `dynamodbav:"emailNotifications" json:"emailNotifications"`
	AdvanceDays        string `dynamodbav:"advanceDays" json:"advanceDays" validate:"omitempty,numeric"`
}

// DefaultPreferences are used until the user saves their own
func DefaultPreferences() Preferences {
	return Preferences{AdvanceDays: "7"}
}

// Profile is the stored user record
type Profile struct {
	PK          string       `dynamodbav:"PK" json:"-"`
	SK          string       `dynamodbav:"SK" json:"-"`
	UserID      string       `dynamodbav:"id" json:"id"`
	Name        string       `dynamodbav:"name" json:"name"`
	Email       string       `dynamodbav:"email" json:"email"`
	CreatedAt   string       `dynamodbav:"created_at" json:"createdAt"`
	Entity      string       `dynamodbav:"entity" json:"-"`
	Preferences *Preferences `dynamodbav:"preferences,omitempty" json:"preferences,omitempty"`
	UpdatedAt   string       `dynamodbav:"updated_at,omitempty" json:"updatedAt,omitempty"`
}

// Store reads and writes profiles
type Store struct {
	client *db.Client
	now    func() time.Time
}

// NewStore creates a profile store over the users table
func NewStore(client *db.Client) *Store {
	return &Store{
		client: client,
		now:    time.Now,
	}
}

// EnsureProfile creates the profile for userID unless one already exists.
// An existing profile is left untouched.
func (s *Store) EnsureProfile(ctx context.Context, userID, name, email string) (Outcome, error) {
	record := Profile{
		PK:        db.PKPrefixUser + userID,
		SK:        db.SKProfile,
		UserID:    userID,
		Name:      name,
		Email:     email,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
		Entity:    db.EntityUser,
	}

	inserted, err := s.client.PutIfAbsent(ctx, record)
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageUnavailable, "profile.ensure", err)
	}
	if !inserted {
		return AlreadyExists, nil
	}
	return Created, nil
}

// Get returns the profile for userID, or nil when none exists
func (s *Store) Get(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	found, err := s.client.Get(ctx, db.PKPrefixUser+userID, db.SKProfile, &p)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "profile.get", err)
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

// SavePreferences replaces the user's preferences. The profile record is
// created implicitly when missing, keyed the same way EnsureProfile keys it.
func (s *Store) SavePreferences(ctx context.Context, userID string, prefs Preferences) (*Preferences, error) {
	now := s.now().UTC().Format(time.RFC3339)

	update := expression.Set(expression.Name("preferences"), expression.Value(prefs)).
		Set(expression.Name("updated_at"), expression.Value(now)).
		Set(expression.Name("id"), expression.IfNotExists(expression.Name("id"), expression.Value(userID))).
		Set(expression.Name("entity"), expression.IfNotExists(expression.Name("entity"), expression.Value(db.EntityUser)))

	if _, err := s.client.Update(ctx, db.UpdateOptions{
		PK:     db.PKPrefixUser + userID,
		SK:     db.SKProfile,
		Update: update,
	}); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "profile.savePreferences", err)
	}
	return &prefs, nil
}
