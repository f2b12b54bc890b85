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

// VaccineRecorder stores vaccinations
type VaccineRecorder interface {
	AddVaccine(ctx context.Context, userID string, in health.NewVaccine) (*health.Record, error)
}

// RecordResponse is the body returned for a stored record
type RecordResponse struct {
	Message string         `json:"message"`
	Record  *health.Record `json:"record"`
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Records VaccineRecorder
}

var deps *Dependencies

func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (httpapi.Response, error) {
	requestID := request.RequestContext.RequestID
	ctx, span := tracing.StartHandlerSpan(ctx, "PostVaccineHandler",
		tracing.Function("post-vaccine"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	claims, err := httpapi.ClaimsFrom(request)
	if err != nil {
		return httpapi.FromError(err)
	}
	span.SetAttributes(spanattr.UserID(claims.Sub))

	var in health.NewVaccine
	if err := httpapi.DecodeJSON(request, &in); err != nil {
		return httpapi.FromError(err)
	}
	span.SetAttributes(spanattr.PetID(in.PetID))

	record, err := deps.Records.AddVaccine(ctx, claims.Sub, in)
	if err != nil {
		if apperr.KindOf(err) != apperr.InvalidArguments {
			tracing.RecordError(span, err)
			logger.ErrorContext(ctx, "Failed to record vaccine",
				slog.String("request_id", requestID),
				slog.String("user_id", claims.Sub),
				slog.String("pet_id", in.PetID),
				slog.String("error", err.Error()),
			)
		}
		return httpapi.FromError(err)
	}

	logger.InfoContext(ctx, "Vaccine recorded",
		slog.String("request_id", requestID),
		slog.String("user_id", claims.Sub),
		slog.String("pet_id", in.PetID),
		slog.String("record_id", record.RecordID),
	)
	return httpapi.JSON(201, RecordResponse{Message: "Vaccine recorded", Record: record})
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("post-vaccine"))
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
