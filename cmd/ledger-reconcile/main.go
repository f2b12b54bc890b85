package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"

	"github.com/petvida/petvida-service/internal/billing"
	"github.com/petvida/petvida-service/internal/db"
	"github.com/petvida/petvida-service/internal/dispatcher"
	"github.com/petvida/petvida-service/internal/identity"
	"github.com/petvida/petvida-service/internal/metrics"
	"github.com/petvida/petvida-service/internal/notify"
	"github.com/petvida/petvida-service/internal/profile"
)

var logger = logging.New()

const (
	metricStalled   = "StalledEvents"
	metricRecovered = "RecoveredEvents"
	metricErrors    = "RecoveryErrors"
)

// StalledLister finds events left unsettled in the ledger
type StalledLister interface {
	ListStalled(ctx context.Context, cutoff time.Time) ([]*billing.Event, error)
}

// EventRedriver resumes a stalled event
type EventRedriver interface {
	Redrive(ctx context.Context, ev *billing.Event) (*billing.Receipt, error)
}

// MetricsPublisher publishes metrics to CloudWatch
type MetricsPublisher interface {
	PublishMetrics(ctx context.Context, values map[string]float64) error
}

// Config holds application configuration
type Config struct {
	Buffer   time.Duration
	PoolSize int
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Ledger   StalledLister
	Redriver EventRedriver
	Metrics  MetricsPublisher
	Config   Config
	Now      func() time.Time
}

var deps *Dependencies

// sweep redrives one stalled event and tallies the result
type sweep struct {
	recovered atomic.Int64
	skipped   atomic.Int64
}

func (s *sweep) Process(ctx context.Context, ev *billing.Event) error {
	receipt, err := deps.Redriver.Redrive(ctx, ev)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to redrive event",
			slog.String("event_id", ev.ID),
			slog.String("event_type", ev.Type),
			slog.String("error", err.Error()),
		)
		return err
	}

	switch receipt.Outcome {
	case billing.Reclaimed:
		s.recovered.Add(1)
		logger.InfoContext(ctx, "Recovered stalled event",
			slog.String("event_id", ev.ID),
			slog.String("event_type", ev.Type),
		)
	default:
		// Settled or leased by a live delivery since it was listed
		s.skipped.Add(1)
	}
	return nil
}

// reconcile redrives every event that has sat unsettled past the buffer
func reconcile(ctx context.Context) error {
	cutoff := deps.Now().Add(-deps.Config.Buffer)

	logger.InfoContext(ctx, "Starting ledger reconciliation",
		slog.Time("cutoff", cutoff),
		slog.Int("pool_size", deps.Config.PoolSize),
	)

	stalled, err := deps.Ledger.ListStalled(ctx, cutoff)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to query stalled events",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to query stalled events: %w", err)
	}

	s := &sweep{}
	errs := dispatcher.Execute(ctx, dispatcher.Config[*billing.Event]{
		Items:     stalled,
		PoolSize:  deps.Config.PoolSize,
		Processor: s,
	})
	errorCount := 0
	for _, err := range errs {
		if err != nil {
			errorCount++
		}
	}

	logger.InfoContext(ctx, "Ledger reconciliation completed",
		slog.Int("total", len(stalled)),
		slog.Int64("recovered", s.recovered.Load()),
		slog.Int64("skipped", s.skipped.Load()),
		slog.Int("errors", errorCount),
	)

	if err := deps.Metrics.PublishMetrics(ctx, map[string]float64{
		metricStalled:   float64(len(stalled)),
		metricRecovered: float64(s.recovered.Load()),
		metricErrors:    float64(errorCount),
	}); err != nil {
		return fmt.Errorf("failed to publish metrics: %w", err)
	}

	return nil
}

// handler is the Lambda entry point
func handler(ctx context.Context) error {
	ctx, span := tracing.StartHandlerSpan(ctx, "LedgerReconcileHandler",
		tracing.Function("ledger-reconcile"),
	)
	defer span.End()

	if err := reconcile(ctx); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	return nil
}

func envInt(name string, fallback int) int {
	if value := os.Getenv(name); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func main() {
	ctx := context.Background()

	// Initialize tracer provider
	tp, err := tracing.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	otel.SetTracerProvider(tp)

	// Create cold start span - all init AWS calls become children
	ctx, coldStartSpan := tracing.StartColdStartSpan(ctx, "ledger-reconcile")

	eventsTable := os.Getenv("STRIPE_EVENTS_TABLE")
	if eventsTable == "" {
		logger.Error("FATAL: STRIPE_EVENTS_TABLE environment variable is required")
		panic("STRIPE_EVENTS_TABLE environment variable is required")
	}

	usersTable := os.Getenv("USERS_TABLE")
	if usersTable == "" {
		logger.Error("FATAL: USERS_TABLE environment variable is required")
		panic("USERS_TABLE environment variable is required")
	}

	userPoolID := os.Getenv("USER_POOL_ID")
	if userPoolID == "" {
		logger.Error("FATAL: USER_POOL_ID environment variable is required")
		panic("USER_POOL_ID environment variable is required")
	}

	metricNamespace := os.Getenv("METRIC_NAMESPACE")
	if metricNamespace == "" {
		logger.Error("FATAL: METRIC_NAMESPACE environment variable is required")
		panic("METRIC_NAMESPACE environment variable is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	lease := time.Duration(envInt("LEDGER_LEASE_SECONDS", 60)) * time.Second
	ledger := billing.NewDynamoDBLedger(db.NewClientFromConfig(cfg, eventsTable), lease)

	router := &billing.Router{
		Identities: identity.NewProvisioner(cognitoidentityprovider.NewFromConfig(cfg), userPoolID),
		Profiles:   profile.NewStore(db.NewClientFromConfig(cfg, usersTable)),
		Logger:     logger,
	}
	if queueURL := os.Getenv("ACCOUNT_EVENTS_QUEUE_URL"); queueURL != "" {
		router.Notifier = notify.NewSQSPublisher(sqs.NewFromConfig(cfg), queueURL)
	}

	deps = &Dependencies{
		Ledger:   ledger,
		Redriver: &billing.Processor{Ledger: ledger, Dispatcher: router, Logger: logger},
		Metrics:  metrics.NewPublisher(cloudwatch.NewFromConfig(cfg), metricNamespace),
		Config: Config{
			Buffer:   time.Duration(envInt("STALL_BUFFER_MINUTES", 10)) * time.Minute,
			PoolSize: envInt("RECONCILE_POOL_SIZE", 4),
		},
		Now: time.Now,
	}
	coldStartSpan.End()

	lambda.Start(otellambda.InstrumentHandler(handler, xrayconfig.WithRecommendedOptions(tp)...))
}
