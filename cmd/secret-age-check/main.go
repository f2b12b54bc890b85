package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"

	"github.com/petvida/petvida-service/internal/metrics"
	"github.com/petvida/petvida-service/internal/secrets"
)

var logger = logging.New()

// RotationReader reports when a secret last changed
type RotationReader interface {
	LastChanged(ctx context.Context, secretARN string) (time.Time, error)
}

// MetricsPublisher publishes metrics to CloudWatch
type MetricsPublisher interface {
	PublishMetrics(ctx context.Context, values map[string]float64) error
}

// WatchedSecret is a secret whose age is reported under Metric
type WatchedSecret struct {
	Metric string
	ARN    string
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Rotation RotationReader
	Metrics  MetricsPublisher
	Secrets  []WatchedSecret
	Now      func() time.Time
}

var deps *Dependencies

// checkSecretAges publishes the age in days of every watched secret. A
// secret that cannot be described is logged and skipped; the run fails
// only when no age could be published.
func checkSecretAges(ctx context.Context) error {
	values := make(map[string]float64, len(deps.Secrets))
	var errs []error
	for _, s := range deps.Secrets {
		changed, err := deps.Rotation.LastChanged(ctx, s.ARN)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to read secret age",
				slog.String("metric", s.Metric),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Metric, err))
			continue
		}
		ageDays := deps.Now().Sub(changed).Hours() / 24
		values[s.Metric] = ageDays
		logger.InfoContext(ctx, "Secret age checked",
			slog.String("metric", s.Metric),
			slog.Float64("age_days", ageDays),
			slog.String("last_changed", changed.UTC().Format(time.RFC3339)),
		)
	}

	if len(values) == 0 {
		return errors.Join(errs...)
	}
	if err := deps.Metrics.PublishMetrics(ctx, values); err != nil {
		return fmt.Errorf("failed to publish metrics: %w", err)
	}
	return nil
}

// handler is the Lambda entry point
func handler(ctx context.Context) error {
	ctx, span := tracing.StartHandlerSpan(ctx, "SecretAgeCheckHandler",
		tracing.Function("secret-age-check"),
	)
	defer span.End()

	if err := checkSecretAges(ctx); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	return nil
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
	ctx, coldStartSpan := tracing.StartColdStartSpan(ctx, "secret-age-check")

	metricNamespace := os.Getenv("METRIC_NAMESPACE")
	if metricNamespace == "" {
		logger.Error("FATAL: METRIC_NAMESPACE environment variable is required")
		panic("METRIC_NAMESPACE environment variable is required")
	}

	var watched []WatchedSecret
	for _, s := range []WatchedSecret{
		{Metric: "StripeWebhookSecretAgeDays", ARN: os.Getenv("STRIPE_WEBHOOK_SECRET_ARN")},
		{Metric: "StripeSecretKeyAgeDays", ARN: os.Getenv("STRIPE_SECRET_KEY_ARN")},
		{Metric: "CloudFrontKeyAgeDays", ARN: os.Getenv("CLOUDFRONT_PRIVATE_KEY_SECRET_ARN")},
	} {
		if s.ARN != "" {
			watched = append(watched, s)
		}
	}
	if len(watched) == 0 {
		logger.Error("FATAL: at least one secret ARN environment variable is required")
		panic("at least one secret ARN environment variable is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	deps = &Dependencies{
		Rotation: secrets.NewRotationInspector(secretsmanager.NewFromConfig(cfg)),
		Metrics:  metrics.NewPublisher(cloudwatch.NewFromConfig(cfg), metricNamespace),
		Secrets:  watched,
		Now:      time.Now,
	}
	coldStartSpan.End()

	lambda.Start(otellambda.InstrumentHandler(handler, xrayconfig.WithRecommendedOptions(tp)...))
}
