// Package pets stores a user's pets and issues photo upload URLs.
package pets

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/google/uuid"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/db"
)

// Pet is the stored pet record
type Pet struct {
	PK        string `dynamodbav:"PK" json:"-"`
	SK        string `dynamodbav:"SK" json:"-"`
	PetID     string `dynamodbav:"petId" json:"petId"`
	Name      string `dynamodbav:"name" json:"name"`
	Species   string `dynamodbav:"species" json:"species"`
	Breed     string `dynamodbav:"breed" json:"breed"`
	Gender    string `dynamodbav:"gender" json:"gender"`
	BirthDate string `dynamodbav:"birthDate" json:"birthDate"`
	PhotoURL  string `dynamodbav:"photoUrl" json:"photoUrl"`
	Notes     string `dynamodbav:"notes" json:"notes"`
	CreatedAt string `dynamodbav:"createdAt" json:"createdAt"`
}

// NewPet is the add-pet request body
type NewPet struct {
	PetID     string `json:"petId" validate:"omitempty,max=64,excludesall=#/"`
	Name      string `json:"name" validate:"required,max=100"`
	Species   string `json:"species" validate:"required,max=50"`
	Breed     string `json:"breed" validate:"max=100"`
	Gender    string `json:"gender" validate:"max=20"`
	BirthDate string `json:"birthDate" validate:"omitempty,datetime=2006-01-02"`
	PhotoURL  string `json:"photoUrl" validate:"omitempty,url"`
	Notes     string `json:"notes" validate:"max=1000"`
}

// View is the normalised representation returned to clients
type View struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Species   string `json:"species"`
	Breed     string `json:"breed"`
	Sex       string `json:"sex"`
	BirthDate string `json:"birthDate"`
	Photo     string `json:"photo"`
	Notes     string `json:"notes"`
	CreatedAt string `json:"createdAt"`
}

// View lower-cases species and sex, e.g. DOG becomes dog
func (p Pet) View() View {
	return View{
		ID:        p.PetID,
		Name:      p.Name,
		Species:   strings.ToLower(p.Species),
		Breed:     p.Breed,
		Sex:       strings.ToLower(p.Gender),
		BirthDate: p.BirthDate,
		Photo:     p.PhotoURL,
		Notes:     p.Notes,
		CreatedAt: p.CreatedAt,
	}
}

// Store reads and writes pets in the pets table
type Store struct {
	client *db.Client
	now    func() time.Time
	newID  func() string
}

// NewStore creates a pet store
func NewStore(client *db.Client) *Store {
	return &Store{
		client: client,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func petKey(petID string) string {
	return db.SKPrefixPet + petID
}

// Create stores a pet for userID, generating an id when none is given.
// Writing the same id again replaces the record.
func (s *Store) Create(ctx context.Context, userID string, in NewPet) (*Pet, error) {
	petID := in.PetID
	if petID == "" {
		petID = s.newID()
	}

	pet := Pet{
		PK:        db.PKPrefixUser + userID,
		SK:        petKey(petID),
		PetID:     petID,
		Name:      in.Name,
		Species:   in.Species,
		Breed:     in.Breed,
		Gender:    in.Gender,
		BirthDate: in.BirthDate,
		PhotoURL:  in.PhotoURL,
		Notes:     in.Notes,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}

	if err := s.client.Put(ctx, pet); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "pets.create", err)
	}
	return &pet, nil
}

// List returns the user's pets, newest first
func (s *Store) List(ctx context.Context, userID string) ([]Pet, error) {
	items, err := s.client.Query(ctx, db.QueryOptions{
		PK:         db.PKPrefixUser + userID,
		SKPrefix:   db.SKPrefixPet,
		Descending: true,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "pets.list", err)
	}

	pets := make([]Pet, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &pets); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "pets.list", err)
	}
	sort.SliceStable(pets, func(i, j int) bool {
		return pets[i].CreatedAt > pets[j].CreatedAt
	})
	return pets, nil
}

// Get returns one pet, or a NotFound error
func (s *Store) Get(ctx context.Context, userID, petID string) (*Pet, error) {
	var pet Pet
	found, err := s.client.Get(ctx, db.PKPrefixUser+userID, petKey(petID), &pet)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, "pets.get", err)
	}
	if !found {
		return nil, apperr.New(apperr.NotFound, "pets.get", "Pet not found")
	}
	return &pet, nil
}

// SetPhoto records an uploaded photo on an existing pet
func (s *Store) SetPhoto(ctx context.Context, userID, petID, photoURL string) error {
	cond := expression.AttributeExists(expression.Name(db.AttrPK))
	_, err := s.client.Update(ctx, db.UpdateOptions{
		PK:        db.PKPrefixUser + userID,
		SK:        petKey(petID),
		Update:    expression.Set(expression.Name("photoUrl"), expression.Value(photoURL)),
		Condition: &cond,
	})
	if err != nil {
		if _, ok := db.IsConditionalCheckFailed(err); ok {
			return apperr.New(apperr.NotFound, "pets.setPhoto", "Pet not found")
		}
		return apperr.Wrap(apperr.StorageUnavailable, "pets.setPhoto", err)
	}
	return nil
}
