// Package checkout starts Stripe subscription checkouts for new sign-ups and
// confirms completed sessions before a password is set.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/identity"
)

// TrialPeriodDays is the free trial granted on every new subscription
const TrialPeriodDays = 1

// CustomerCreator is the subset of the Stripe customers API in use
type CustomerCreator interface {
	New(params *stripe.CustomerParams) (*stripe.Customer, error)
}

// SessionClient is the subset of the Stripe checkout sessions API in use
type SessionClient interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Signup is the registration request body
type Signup struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email"`
}

// Service creates customers and checkout sessions
type Service struct {
	customers   CustomerCreator
	sessions    SessionClient
	priceID     string
	frontendURL string
}

// New creates a Service over explicit Stripe clients
func New(customers CustomerCreator, sessions SessionClient, priceID, frontendURL string) *Service {
	return &Service{
		customers:   customers,
		sessions:    sessions,
		priceID:     priceID,
		frontendURL: strings.TrimSuffix(frontendURL, "/"),
	}
}

// NewFromAPIKey creates a Service backed by the Stripe API
func NewFromAPIKey(secretKey, priceID, frontendURL string) *Service {
	api := client.New(secretKey, nil)
	return New(api.Customers, api.CheckoutSessions, priceID, frontendURL)
}

// SuccessURL is where Stripe sends the buyer after paying. Stripe fills in
// the session id placeholder.
func (s *Service) SuccessURL(email string) string {
	return fmt.Sprintf("%s/pass?email=%s&session_id={CHECKOUT_SESSION_ID}", s.frontendURL, url.QueryEscape(email))
}

// CancelURL is where Stripe sends the buyer after abandoning checkout
func (s *Service) CancelURL() string {
	return s.frontendURL + "/cadastro"
}

// Start creates a customer and a trial subscription checkout for them,
// returning the hosted checkout URL
func (s *Service) Start(ctx context.Context, signup Signup) (string, error) {
	email := identity.NormalizeEmail(signup.Email)
	name := strings.TrimSpace(signup.Name)

	customerParams := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	customerParams.Context = ctx
	customer, err := s.customers.New(customerParams)
	if err != nil {
		return "", apperr.Wrap(apperr.PaymentProviderUnavailable, "checkout.customer", err)
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customer.ID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(TrialPeriodDays),
		},
		SuccessURL: stripe.String(s.SuccessURL(email)),
		CancelURL:  stripe.String(s.CancelURL()),
		Metadata: map[string]string{
			"email": email,
			"name":  name,
		},
	}
	sessionParams.Context = ctx
	session, err := s.sessions.New(sessionParams)
	if err != nil {
		return "", apperr.Wrap(apperr.PaymentProviderUnavailable, "checkout.session", err)
	}
	if session.URL == "" {
		return "", apperr.New(apperr.PaymentProviderUnavailable, "checkout.session", "Checkout session has no URL")
	}

	return session.URL, nil
}

// Confirm checks that sessionID is a completed checkout started for email
func (s *Service) Confirm(ctx context.Context, sessionID, email string) error {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := s.sessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return &apperr.Error{Kind: apperr.Unauthorized, Op: "checkout.confirm", Message: "Checkout session is not valid", Err: err}
		}
		return apperr.Wrap(apperr.PaymentProviderUnavailable, "checkout.confirm", err)
	}

	if session.Status != stripe.CheckoutSessionStatusComplete {
		return apperr.New(apperr.Unauthorized, "checkout.confirm", "Checkout session is not complete")
	}
	if identity.NormalizeEmail(session.Metadata["email"]) != identity.NormalizeEmail(email) {
		return apperr.New(apperr.Unauthorized, "checkout.confirm", "Checkout session is not valid")
	}
	return nil
}
