package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"

	"github.com/petvida/petvida-service/internal/db"
	"github.com/petvida/petvida-service/internal/httpapi"
	"github.com/petvida/petvida-service/internal/pets"
	"github.com/petvida/petvida-service/internal/secrets"
	"github.com/petvida/petvida-service/internal/spanattr"
)

var logger = logging.New()

// PetLister lists a user's pets
type PetLister interface {
	List(ctx context.Context, userID string) ([]pets.Pet, error)
}

// PetPresenter renders pets for clients
type PetPresenter interface {
	Views(list []pets.Pet) ([]pets.View, error)
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Pets      PetLister
	Presenter PetPresenter
}

var deps *Dependencies

// handler returns the caller's pets as a JSON array, newest first
func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (httpapi.Response, error) {
	requestID := request.RequestContext.RequestID
	ctx, span := tracing.StartHandlerSpan(ctx, "GetPetsHandler",
		tracing.Function("get-pets"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	claims, err := httpapi.ClaimsFrom(request)
	if err != nil {
		return httpapi.FromError(err)
	}
	span.SetAttributes(spanattr.UserID(claims.Sub))

	list, err := deps.Pets.List(ctx, claims.Sub)
	if err != nil {
		tracing.RecordError(span, err)
		logger.ErrorContext(ctx, "Failed to list pets",
			slog.String("request_id", requestID),
			slog.String("user_id", claims.Sub),
			slog.String("error", err.Error()),
		)
		return httpapi.FromError(err)
	}

	views, err := deps.Presenter.Views(list)
	if err != nil {
		tracing.RecordError(span, err)
		logger.ErrorContext(ctx, "Failed to render pets",
			slog.String("request_id", requestID),
			slog.String("user_id", claims.Sub),
			slog.String("error", err.Error()),
		)
		return httpapi.FromError(err)
	}

	return httpapi.JSON(200, views)
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("get-pets"))
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()

	petsTable := os.Getenv("PETS_TABLE")
	if petsTable == "" {
		logger.Error("FATAL: PETS_TABLE environment variable is required")
		panic("PETS_TABLE environment variable is required")
	}

	presenter, err := pets.LoadPresenter(result.Ctx,
		secrets.NewSecretsManagerReader(secretsmanager.NewFromConfig(result.Config)),
		os.Getenv("CLOUDFRONT_KEY_PAIR_ID"),
		os.Getenv("CLOUDFRONT_PRIVATE_KEY_SECRET_ARN"),
		pets.PhotoURLTTL,
	)
	if err != nil {
		logger.Error("FATAL: Failed to load CloudFront signer",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	deps = &Dependencies{
		Pets:      pets.NewStore(db.NewClientFromConfig(result.Config, petsTable)),
		Presenter: presenter,
	}

	result.Start(handler)
}
