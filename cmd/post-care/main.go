package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/db"
	"github.com/petvida/petvida-service/internal/health"
	"github.com/petvida/petvida-service/internal/httpapi"
	"github.com/petvida/petvida-service/internal/spanattr"
)

var logger = logging.New()

// CareRecorder stores care records
type CareRecorder interface {
	AddCare(ctx context.Context, userID string, in health.NewCare) (*health.Record, error)
}

// RecordResponse is the body returned for a stored record
type RecordResponse struct {
	Message string         `json:"message"`
	Record  *health.Record `json:"record"`
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Records CareRecorder
}

var deps *Dependencies

func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (httpapi.Response, error) {
	requestID := request.RequestContext.RequestID
	ctx, span := tracing.StartHandlerSpan(ctx, "PostCareHandler",
		tracing.Function("post-care"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	claims, err := httpapi.ClaimsFrom(request)
	if err != nil {
		return httpapi.FromError(err)
	}
	span.SetAttributes(spanattr.UserID(claims.Sub))

	var in health.NewCare
	if err := httpapi.DecodeJSON(request, &in); err != nil {
		return httpapi.FromError(err)
	}
	span.SetAttributes(spanattr.PetID(in.PetID))

	record, err := deps.Records.AddCare(ctx, claims.Sub, in)
	if err != nil {
		if apperr.KindOf(err) != apperr.InvalidArguments {
			tracing.RecordError(span, err)
			logger.ErrorContext(ctx, "Failed to record care",
				slog.String("request_id", requestID),
				slog.String("user_id", claims.Sub),
				slog.String("pet_id", in.PetID),
				slog.String("error", err.Error()),
			)
		}
		return httpapi.FromError(err)
	}

	logger.InfoContext(ctx, "Care recorded",
		slog.String("request_id", requestID),
		slog.String("user_id", claims.Sub),
		slog.String("pet_id", in.PetID),
		slog.String("record_id", record.RecordID),
	)
	return httpapi.JSON(201, RecordResponse{Message: "Care recorded", Record: record})
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("post-care"))
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
