package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v82"

	"github.com/petvida/petvida-service/internal/apperr"
)

type mockCustomers struct {
	params *stripe.CustomerParams
	err    error
}

func (m *mockCustomers) New(params *stripe.CustomerParams) (*stripe.Customer, error) {
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	return &stripe.Customer{ID: "cus_1"}, nil
}

type mockSessions struct {
	newParams *stripe.CheckoutSessionParams
	newErr    error
	getID     string
	session   *stripe.CheckoutSession
	getErr    error
}

func (m *mockSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	m.newParams = params
	if m.newErr != nil {
		return nil, m.newErr
	}
	return &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/pay/cs_1"}, nil
}

func (m *mockSessions) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	m.getID = id
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.session, nil
}

func newTestService() (*Service, *mockCustomers, *mockSessions) {
	customers := &mockCustomers{}
	sessions := &mockSessions{}
	return New(customers, sessions, "price_123", "https://app.petvida.test/"), customers, sessions
}

func TestStart_CreatesCustomerAndTrialSession(t *testing.T) {
	s, customers, sessions := newTestService()

	checkoutURL, err := s.Start(context.Background(), Signup{Name: " Ana ", Email: "Ana@X.com"})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if checkoutURL != "https://checkout.stripe.com/c/pay/cs_1" {
		t.Errorf("unexpected checkout URL %q", checkoutURL)
	}

	if stripe.StringValue(customers.params.Email) != "ana@x.com" || stripe.StringValue(customers.params.Name) != "Ana" {
		t.Errorf("unexpected customer params email=%q name=%q",
			stripe.StringValue(customers.params.Email), stripe.StringValue(customers.params.Name))
	}

	p := sessions.newParams
	if stripe.StringValue(p.Mode) != "subscription" {
		t.Errorf("expected subscription mode, got %q", stripe.StringValue(p.Mode))
	}
	if stripe.StringValue(p.Customer) != "cus_1" {
		t.Errorf("expected customer cus_1, got %q", stripe.StringValue(p.Customer))
	}
	if len(p.LineItems) != 1 || stripe.StringValue(p.LineItems[0].Price) != "price_123" || stripe.Int64Value(p.LineItems[0].Quantity) != 1 {
		t.Errorf("unexpected line items %+v", p.LineItems)
	}
	if stripe.Int64Value(p.SubscriptionData.TrialPeriodDays) != 1 {
		t.Errorf("expected one trial day, got %d", stripe.Int64Value(p.SubscriptionData.TrialPeriodDays))
	}
	wantSuccess := "https://app.petvida.test/pass?email=ana%40x.com&session_id={CHECKOUT_SESSION_ID}"
	if stripe.StringValue(p.SuccessURL) != wantSuccess {
		t.Errorf("expected success URL %q, got %q", wantSuccess, stripe.StringValue(p.SuccessURL))
	}
	if stripe.StringValue(p.CancelURL) != "https://app.petvida.test/cadastro" {
		t.Errorf("unexpected cancel URL %q", stripe.StringValue(p.CancelURL))
	}
	if p.Metadata["email"] != "ana@x.com" || p.Metadata["name"] != "Ana" {
		t.Errorf("unexpected metadata %v", p.Metadata)
	}
	if p.Context == nil {
		t.Error("expected request context to be forwarded")
	}
}

func TestStart_CustomerFailure(t *testing.T) {
	s, customers, sessions := newTestService()
	customers.err = errors.New("stripe down")

	_, err := s.Start(context.Background(), Signup{Name: "Ana", Email: "a@x.com"})
	if apperr.KindOf(err) != apperr.PaymentProviderUnavailable {
		t.Errorf("expected PaymentProviderUnavailable, got %v", err)
	}
	if sessions.newParams != nil {
		t.Error("expected no session without a customer")
	}
}

func TestStart_SessionFailure(t *testing.T) {
	s, _, sessions := newTestService()
	sessions.newErr = errors.New("rate limited")

	_, err := s.Start(context.Background(), Signup{Name: "Ana", Email: "a@x.com"})
	if apperr.KindOf(err) != apperr.PaymentProviderUnavailable {
		t.Errorf("expected PaymentProviderUnavailable, got %v", err)
	}
}

func TestConfirm_CompletedSessionForEmail(t *testing.T) {
	s, _, sessions := newTestService()
	sessions.session = &stripe.CheckoutSession{
		Status:   stripe.CheckoutSessionStatusComplete,
		Metadata: map[string]string{"email": "ana@x.com"},
	}

	if err := s.Confirm(context.Background(), "cs_1", "ANA@x.com"); err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if sessions.getID != "cs_1" {
		t.Errorf("expected lookup of cs_1, got %q", sessions.getID)
	}
}

func TestConfirm_OpenSessionRejected(t *testing.T) {
	s, _, sessions := newTestService()
	sessions.session = &stripe.CheckoutSession{
		Status:   stripe.CheckoutSessionStatusOpen,
		Metadata: map[string]string{"email": "ana@x.com"},
	}

	err := s.Confirm(context.Background(), "cs_1", "ana@x.com")
	if apperr.KindOf(err) != apperr.Unauthorized {
		t.Errorf("expected Unauthorized, got %v", err)
	}
}

func TestConfirm_OtherEmailRejected(t *testing.T) {
	s, _, sessions := newTestService()
	sessions.session = &stripe.CheckoutSession{
		Status:   stripe.CheckoutSessionStatusComplete,
		Metadata: map[string]string{"email": "ana@x.com"},
	}

	err := s.Confirm(context.Background(), "cs_1", "mallory@x.com")
	if apperr.KindOf(err) != apperr.Unauthorized {
		t.Errorf("expected Unauthorized, got %v", err)
	}
}

func TestConfirm_UnknownSession(t *testing.T) {
	s, _, sessions := newTestService()
	sessions.getErr = &stripe.Error{HTTPStatusCode: 404, Msg: "No such checkout.session"}

	err := s.Confirm(context.Background(), "cs_missing", "ana@x.com")
	if apperr.KindOf(err) != apperr.Unauthorized {
		t.Errorf("expected Unauthorized, got %v", err)
	}
}

func TestConfirm_ProviderFailure(t *testing.T) {
	s, _, sessions := newTestService()
	sessions.getErr = errors.New("connection reset")

	err := s.Confirm(context.Background(), "cs_1", "ana@x.com")
	if apperr.KindOf(err) != apperr.PaymentProviderUnavailable {
		t.Errorf("expected PaymentProviderUnavailable, got %v", err)
	}
}
