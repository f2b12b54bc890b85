package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"

	"github.com/petvida/petvida-service/internal/checkout"
	"github.com/petvida/petvida-service/internal/httpapi"
	"github.com/petvida/petvida-service/internal/secrets"
)

var logger = logging.New()

// CheckoutStarter begins a paid sign-up
type CheckoutStarter interface {
	Start(ctx context.Context, signup checkout.Signup) (string, error)
}

// RegisterResponse is the body returned when checkout has been created
type RegisterResponse struct {
	Message     string `json:"message"`
	CheckoutURL string `json:"checkoutUrl"`
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Checkout CheckoutStarter
}

var deps *Dependencies

func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (httpapi.Response, error) {
	requestID := request.RequestContext.RequestID
	ctx, span := tracing.StartHandlerSpan(ctx, "RegisterHandler",
		tracing.Function("register"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	var signup checkout.Signup
	if err := httpapi.DecodeJSON(request, &signup); err != nil {
		logger.WarnContext(ctx, "Invalid registration request",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return httpapi.FromError(err)
	}

	checkoutURL, err := deps.Checkout.Start(ctx, signup)
	if err != nil {
		tracing.RecordError(span, err)
		logger.ErrorContext(ctx, "Failed to start checkout",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return httpapi.FromError(err)
	}

	logger.InfoContext(ctx, "Checkout started",
		slog.String("request_id", requestID),
	)
	return httpapi.JSON(201, RegisterResponse{
		Message:     "User created",
		CheckoutURL: checkoutURL,
	})
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("register"))
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()

	secretKeyARN := os.Getenv("STRIPE_SECRET_KEY_ARN")
	if secretKeyARN == "" {
		logger.Error("FATAL: STRIPE_SECRET_KEY_ARN environment variable is required")
		panic("STRIPE_SECRET_KEY_ARN environment variable is required")
	}
	priceParam := os.Getenv("STRIPE_PRICE_ID_PARAM")
	if priceParam == "" {
		logger.Error("FATAL: STRIPE_PRICE_ID_PARAM environment variable is required")
		panic("STRIPE_PRICE_ID_PARAM environment variable is required")
	}
	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		logger.Error("FATAL: FRONTEND_URL environment variable is required")
		panic("FRONTEND_URL environment variable is required")
	}

	secretKey, err := secrets.NewSecretsManagerReader(secretsmanager.NewFromConfig(result.Config)).GetSecret(result.Ctx, secretKeyARN)
	if err != nil {
		logger.Error("FATAL: Failed to read Stripe secret key",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	priceID, err := secrets.NewParameterReader(ssm.NewFromConfig(result.Config)).GetParameter(result.Ctx, priceParam)
	if err != nil {
		logger.Error("FATAL: Failed to read Stripe price id",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	deps = &Dependencies{
		Checkout: checkout.NewFromAPIKey(secretKey, priceID, frontendURL),
	}

	result.Start(handler)
}
