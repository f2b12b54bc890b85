package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/pets"
)

type mockLister struct {
	pets   []pets.Pet
	err    error
	userID string
}

func (m *mockLister) List(ctx context.Context, userID string) ([]pets.Pet, error) {
	m.userID = userID
	return m.pets, m.err
}

func authedRequest(sub string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			RequestID: "req-1",
			Authorizer: &events.APIGatewayV2HTTPRequestContextAuthorizerDescription{
				JWT: &events.APIGatewayV2HTTPRequestContextAuthorizerJWTDescription{
					Claims: map[string]string{"sub": sub},
				},
			},
		},
	}
}

func decodeViews(t *testing.T, body string) []pets.View {
	t.Helper()
	var views []pets.View
	if err := json.Unmarshal([]byte(body), &views); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	return views
}

func TestHandler_ListsPets(t *testing.T) {
	l := &mockLister{pets: []pets.Pet{
		{PetID: "p-2", Name: "Mia", Species: "CAT", Gender: "FEMALE"},
		{PetID: "p-1", Name: "Rex", Species: "DOG"},
	}}
	deps = &Dependencies{Pets: l, Presenter: pets.NewPresenter(nil, time.Hour)}

	resp, err := handler(context.Background(), authedRequest("sub-1"))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if l.userID != "sub-1" {
		t.Errorf("expected list for sub-1, got %q", l.userID)
	}
	views := decodeViews(t, resp.Body)
	if len(views) != 2 || views[0].ID != "p-2" || views[0].Species != "cat" || views[0].Sex != "female" {
		t.Errorf("unexpected views %+v", views)
	}
}

func TestHandler_EmptyListIsArray(t *testing.T) {
	deps = &Dependencies{Pets: &mockLister{pets: []pets.Pet{}}, Presenter: pets.NewPresenter(nil, time.Hour)}

	resp, _ := handler(context.Background(), authedRequest("sub-1"))
	if resp.Body != "[]" {
		t.Errorf("expected empty JSON array, got %s", resp.Body)
	}
}

func TestHandler_Unauthenticated(t *testing.T) {
	l := &mockLister{}
	deps = &Dependencies{Pets: l, Presenter: pets.NewPresenter(nil, time.Hour)}

	resp, _ := handler(context.Background(), events.APIGatewayV2HTTPRequest{})
	if resp.StatusCode != 401 {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestHandler_StorageFailure(t *testing.T) {
	deps = &Dependencies{
		Pets:      &mockLister{err: apperr.Wrap(apperr.StorageUnavailable, "pets.list", errors.New("throttled"))},
		Presenter: pets.NewPresenter(nil, time.Hour),
	}

	resp, _ := handler(context.Background(), authedRequest("sub-1"))
	if resp.StatusCode != 500 {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
}
