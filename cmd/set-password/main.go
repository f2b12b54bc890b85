package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/trace"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/checkout"
	"github.com/petvida/petvida-service/internal/httpapi"
	"github.com/petvida/petvida-service/internal/identity"
	"github.com/petvida/petvida-service/internal/secrets"
)

var logger = logging.New()

// CheckoutConfirmer proves the caller completed checkout for the email
type CheckoutConfirmer interface {
	Confirm(ctx context.Context, sessionID, email string) error
}

// PasswordSetter sets a permanent password on an existing identity
type PasswordSetter interface {
	SetPassword(ctx context.Context, email, password string) error
}

// SetPasswordRequest is the request body. SessionID is the checkout session
// id Stripe appended to the success URL.
type SetPasswordRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	SessionID string `json:"sessionId" validate:"required"`
}

// MessageResponse is a plain confirmation body
type MessageResponse struct {
	Message string `json:"message"`
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Checkout  CheckoutConfirmer
	Passwords PasswordSetter
}

var deps *Dependencies

func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (httpapi.Response, error) {
	requestID := request.RequestContext.RequestID
	ctx, span := tracing.StartHandlerSpan(ctx, "SetPasswordHandler",
		tracing.Function("set-password"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	var req SetPasswordRequest
	if err := httpapi.DecodeJSON(request, &req); err != nil {
		return httpapi.FromError(err)
	}

	if err := deps.Checkout.Confirm(ctx, req.SessionID, req.Email); err != nil {
		return fail(ctx, span, requestID, "Checkout not confirmed", err)
	}

	if err := deps.Passwords.SetPassword(ctx, req.Email, req.Password); err != nil {
		return fail(ctx, span, requestID, "Failed to set password", err)
	}

	logger.InfoContext(ctx, "Password set",
		slog.String("request_id", requestID),
	)
	return httpapi.JSON(200, MessageResponse{Message: "Password set"})
}

func fail(ctx context.Context, span trace.Span, requestID, msg string, err error) (httpapi.Response, error) {
	if apperr.KindOf(err).StatusCode() >= 500 {
		tracing.RecordError(span, err)
		logger.ErrorContext(ctx, msg,
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
	} else {
		logger.WarnContext(ctx, msg,
			slog.String("request_id", requestID),
			slog.String("reason", apperr.KindOf(err).String()),
		)
	}
	return httpapi.FromError(err)
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("set-password"))
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()

	userPoolID := os.Getenv("USER_POOL_ID")
	if userPoolID == "" {
		logger.Error("FATAL: USER_POOL_ID environment variable is required")
		panic("USER_POOL_ID environment variable is required")
	}
	secretKeyARN := os.Getenv("STRIPE_SECRET_KEY_ARN")
	if secretKeyARN == "" {
		logger.Error("FATAL: STRIPE_SECRET_KEY_ARN environment variable is required")
		panic("STRIPE_SECRET_KEY_ARN environment variable is required")
	}

	secretKey, err := secrets.NewSecretsManagerReader(secretsmanager.NewFromConfig(result.Config)).GetSecret(result.Ctx, secretKeyARN)
	if err != nil {
		logger.Error("FATAL: Failed to read Stripe secret key",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	deps = &Dependencies{
		Checkout:  checkout.NewFromAPIKey(secretKey, "", ""),
		Passwords: identity.NewAuthenticator(cognitoidentityprovider.NewFromConfig(result.Config), userPoolID, ""),
	}

	result.Start(handler)
}
