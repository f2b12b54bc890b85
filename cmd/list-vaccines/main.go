package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"

	"github.com/petvida/petvida-service/internal/db"
	"github.com/petvida/petvida-service/internal/health"
	"github.com/petvida/petvida-service/internal/httpapi"
	"github.com/petvida/petvida-service/internal/spanattr"
)

var logger = logging.New()

// VaccineLister lists vaccination records
type VaccineLister interface {
	ListVaccines(ctx context.Context, userID, petID string) ([]health.Record, error)
}

// ListResponse wraps the listed records
type ListResponse struct {
	Items []health.Record `json:"items"`
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Records VaccineLister
}

var deps *Dependencies

func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (httpapi.Response, error) {
	requestID := request.RequestContext.RequestID
	ctx, span := tracing.StartHandlerSpan(ctx, "ListVaccinesHandler",
		tracing.Function("list-vaccines"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	claims, err := httpapi.ClaimsFrom(request)
	if err != nil {
		return httpapi.FromError(err)
	}
	span.SetAttributes(spanattr.UserID(claims.Sub))

	petID := request.QueryStringParameters["petId"]
	if petID != "" {
		span.SetAttributes(spanattr.PetID(petID))
	}

	records, err := deps.Records.ListVaccines(ctx, claims.Sub, petID)
	if err != nil {
		tracing.RecordError(span, err)
		logger.ErrorContext(ctx, "Failed to list vaccines",
			slog.String("request_id", requestID),
			slog.String("user_id", claims.Sub),
			slog.String("error", err.Error()),
		)
		return httpapi.FromError(err)
	}

	return httpapi.JSON(200, ListResponse{Items: records})
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("list-vaccines"))
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()

	healthTable := os.Getenv("HEALTH_RECORDS_TABLE")
	if healthTable == "" {
		logger.Error("FATAL: HEALTH_RECORDS_TABLE environment variable is required")
		panic("HEALTH_RECORDS_TABLE environment variable is required")
	}

	deps = &Dependencies{
		Records: health.NewStore(db.NewClientFromConfig(result.Config, healthTable)),
	}

	result.Start(handler)
}
