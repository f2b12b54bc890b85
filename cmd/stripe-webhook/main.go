package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/billing"
	"github.com/petvida/petvida-service/internal/db"
	"github.com/petvida/petvida-service/internal/httpapi"
	"github.com/petvida/petvida-service/internal/identity"
	"github.com/petvida/petvida-service/internal/notify"
	"github.com/petvida/petvida-service/internal/profile"
	"github.com/petvida/petvida-service/internal/secrets"
	"github.com/petvida/petvida-service/internal/spanattr"
)

var logger = logging.New()

// EventVerifier authenticates a raw delivery
type EventVerifier interface {
	Verify(rawBody []byte, signatureHeader string) (*billing.Event, error)
}

// EventProcessor records and dispatches a verified event
type EventProcessor interface {
	Process(ctx context.Context, ev *billing.Event) (*billing.Receipt, error)
}

// WebhookResponse is the body returned to Stripe on success
type WebhookResponse struct {
	Status string `json:"status"`
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Verifier  EventVerifier
	Processor EventProcessor
}

var deps *Dependencies

// handler verifies a Stripe delivery and runs it through the ledger.
// Non-2xx answers make Stripe redeliver.
func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (httpapi.Response, error) {
	requestID := request.RequestContext.RequestID
	ctx, span := tracing.StartHandlerSpan(ctx, "StripeWebhookHandler",
		tracing.Function("stripe-webhook"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	body, err := httpapi.DecodeBody(request)
	if err != nil {
		logger.WarnContext(ctx, "Failed to decode body",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return httpapi.FromError(apperr.New(apperr.MalformedPayload, "webhook.decode", "Request body is not valid base64"))
	}

	ev, err := deps.Verifier.Verify(body, httpapi.Header(request.Headers, "stripe-signature"))
	if err != nil {
		logger.WarnContext(ctx, "Rejected webhook delivery",
			slog.String("request_id", requestID),
			slog.String("reason", apperr.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		return httpapi.FromError(err)
	}
	span.SetAttributes(spanattr.EventID(ev.ID), spanattr.EventType(ev.Type))

	receipt, err := deps.Processor.Process(ctx, ev)
	if err != nil {
		kind := apperr.KindOf(err)
		if kind.StatusCode() >= 500 {
			tracing.RecordError(span, err)
			logger.ErrorContext(ctx, "Failed to process event",
				slog.String("request_id", requestID),
				slog.String("event_id", ev.ID),
				slog.String("event_type", ev.Type),
				slog.String("error", err.Error()),
			)
		} else {
			logger.WarnContext(ctx, "Event not processed",
				slog.String("request_id", requestID),
				slog.String("event_id", ev.ID),
				slog.String("event_type", ev.Type),
				slog.String("reason", kind.String()),
			)
		}
		return httpapi.FromError(err)
	}

	span.SetAttributes(spanattr.Outcome(receipt.Outcome.String()))
	attrs := []any{
		slog.String("request_id", requestID),
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.String("outcome", receipt.Outcome.String()),
	}
	if receipt.Route != nil {
		attrs = append(attrs, slog.String("action", receipt.Route.Action))
		if receipt.Route.UserID != "" {
			span.SetAttributes(spanattr.UserID(receipt.Route.UserID))
			attrs = append(attrs, slog.String("user_id", receipt.Route.UserID))
		}
	}
	logger.InfoContext(ctx, "Webhook handled", attrs...)

	if receipt.Outcome == billing.Duplicate {
		return httpapi.JSON(200, WebhookResponse{Status: "duplicate"})
	}
	return httpapi.JSON(200, WebhookResponse{Status: "ok"})
}

func requireEnv(name string) string {
	value := os.Getenv(name)
	if value == "" {
		logger.Error("FATAL: " + name + " environment variable is required")
		panic(name + " environment variable is required")
	}
	return value
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("stripe-webhook"))
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()

	eventsTable := requireEnv("STRIPE_EVENTS_TABLE")
	usersTable := requireEnv("USERS_TABLE")
	userPoolID := requireEnv("USER_POOL_ID")
	secretARN := requireEnv("STRIPE_WEBHOOK_SECRET_ARN")

	lease := time.Minute
	if leaseStr := os.Getenv("LEDGER_LEASE_SECONDS"); leaseStr != "" {
		if parsed, err := strconv.Atoi(leaseStr); err == nil && parsed > 0 {
			lease = time.Duration(parsed) * time.Second
		}
	}

	secretsReader := secrets.NewSecretsManagerReader(secretsmanager.NewFromConfig(result.Config))
	webhookSecret, err := secretsReader.GetSecret(result.Ctx, secretARN)
	if err != nil {
		logger.Error("FATAL: Failed to read webhook secret from Secrets Manager",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	router := &billing.Router{
		Identities: identity.NewProvisioner(cognitoidentityprovider.NewFromConfig(result.Config), userPoolID),
		Profiles:   profile.NewStore(db.NewClientFromConfig(result.Config, usersTable)),
		Logger:     logger,
	}
	if queueURL := os.Getenv("ACCOUNT_EVENTS_QUEUE_URL"); queueURL != "" {
		router.Notifier = notify.NewSQSPublisher(sqs.NewFromConfig(result.Config), queueURL)
	}

	deps = &Dependencies{
		Verifier: billing.NewVerifier(webhookSecret),
		Processor: &billing.Processor{
			Ledger:     billing.NewDynamoDBLedger(db.NewClientFromConfig(result.Config, eventsTable), lease),
			Dispatcher: router,
			Logger:     logger,
		},
	}

	result.Start(handler)
}
