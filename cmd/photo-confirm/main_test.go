package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/petvida/petvida-service/internal/apperr"
)

type mockTagger struct {
	keys   []string
	userID string
	err    error
}

func (m *mockTagger) ConfirmTag(ctx context.Context, key, userID string) error {
	m.keys = append(m.keys, key)
	m.userID = userID
	return m.err
}

type mockPets struct {
	calls    int
	userID   string
	petID    string
	photoURL string
	err      error
}

func (m *mockPets) SetPhoto(ctx context.Context, userID, petID, photoURL string) error {
	m.calls++
	m.userID = userID
	m.petID = petID
	m.photoURL = photoURL
	return m.err
}

func s3Event(keys ...string) events.S3Event {
	var event events.S3Event
	for _, k := range keys {
		event.Records = append(event.Records, events.S3EventRecord{
			S3: events.S3Entity{
				Bucket: events.S3Bucket{Name: "photos"},
				Object: events.S3Object{Key: k},
			},
		})
	}
	return event
}

func setupTestDeps(tagger *mockTagger, store *mockPets) {
	deps = &Dependencies{
		Storage:       tagger,
		Pets:          store,
		CloudFrontURL: "https://cdn.example.com",
	}
}

func TestHandler_ConfirmsPhoto(t *testing.T) {
	tagger := &mockTagger{}
	store := &mockPets{}
	setupTestDeps(tagger, store)

	if err := handler(context.Background(), s3Event("users/sub-1/pets/p-1.jpg")); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(tagger.keys) != 1 || tagger.userID != "sub-1" {
		t.Errorf("unexpected tag calls %v for %q", tagger.keys, tagger.userID)
	}
	if store.userID != "sub-1" || store.petID != "p-1" {
		t.Errorf("unexpected pet %q/%q", store.userID, store.petID)
	}
	if store.photoURL != "https://cdn.example.com/users/sub-1/pets/p-1.jpg" {
		t.Errorf("unexpected photo URL %q", store.photoURL)
	}
}

func TestHandler_DecodesKey(t *testing.T) {
	tagger := &mockTagger{}
	store := &mockPets{}
	setupTestDeps(tagger, store)

	if err := handler(context.Background(), s3Event("users/sub%3A1/pets/p-1.jpg")); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if store.userID != "sub:1" {
		t.Errorf("expected decoded user id, got %q", store.userID)
	}
}

func TestHandler_SkipsForeignKeys(t *testing.T) {
	tagger := &mockTagger{}
	store := &mockPets{}
	setupTestDeps(tagger, store)

	if err := handler(context.Background(), s3Event("uploads/tmp.bin")); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(tagger.keys) != 0 || store.calls != 0 {
		t.Error("expected foreign key to be skipped")
	}
}

func TestHandler_UnknownPetIsNotAnError(t *testing.T) {
	tagger := &mockTagger{}
	store := &mockPets{err: apperr.New(apperr.NotFound, "pets.setPhoto", "Pet not found")}
	setupTestDeps(tagger, store)

	if err := handler(context.Background(), s3Event("users/sub-1/pets/p-1.jpg")); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(tagger.keys) != 1 {
		t.Error("expected object to stay tagged")
	}
}

func TestHandler_TagFailureStopsBeforeRecording(t *testing.T) {
	tagger := &mockTagger{err: errors.New("access denied")}
	store := &mockPets{}
	setupTestDeps(tagger, store)

	if err := handler(context.Background(), s3Event("users/sub-1/pets/p-1.jpg")); err == nil {
		t.Fatal("expected error")
	}
	if store.calls != 0 {
		t.Error("expected no pet update after tag failure")
	}
}

func TestHandler_StorageFailureRetries(t *testing.T) {
	setupTestDeps(&mockTagger{}, &mockPets{err: apperr.Wrap(apperr.StorageUnavailable, "pets.setPhoto", errors.New("throttled"))})

	if err := handler(context.Background(), s3Event("users/sub-1/pets/p-1.jpg")); err == nil {
		t.Fatal("expected error so the event is retried")
	}
}
