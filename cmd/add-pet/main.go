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

// PetCreator stores a new pet
type PetCreator interface {
	Create(ctx context.Context, userID string, in pets.NewPet) (*pets.Pet, error)
}

// PetPresenter renders a pet for clients
type PetPresenter interface {
	View(pet pets.Pet) (pets.View, error)
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Pets      PetCreator
	Presenter PetPresenter
}

var deps *Dependencies

func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (httpapi.Response, error) {
	requestID := request.RequestContext.RequestID
	ctx, span := tracing.StartHandlerSpan(ctx, "AddPetHandler",
		tracing.Function("add-pet"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	claims, err := httpapi.ClaimsFrom(request)
	if err != nil {
		return httpapi.FromError(err)
	}
	span.SetAttributes(spanattr.UserID(claims.Sub))

	var in pets.NewPet
	if err := httpapi.DecodeJSON(request, &in); err != nil {
		return httpapi.FromError(err)
	}

	pet, err := deps.Pets.Create(ctx, claims.Sub, in)
	if err != nil {
		tracing.RecordError(span, err)
		logger.ErrorContext(ctx, "Failed to create pet",
			slog.String("request_id", requestID),
			slog.String("user_id", claims.Sub),
			slog.String("error", err.Error()),
		)
		return httpapi.FromError(err)
	}
	span.SetAttributes(spanattr.PetID(pet.PetID))

	view, err := deps.Presenter.View(*pet)
	if err != nil {
		tracing.RecordError(span, err)
		logger.ErrorContext(ctx, "Failed to render pet",
			slog.String("request_id", requestID),
			slog.String("pet_id", pet.PetID),
			slog.String("error", err.Error()),
		)
		return httpapi.FromError(err)
	}

	logger.InfoContext(ctx, "Pet created",
		slog.String("request_id", requestID),
		slog.String("user_id", claims.Sub),
		slog.String("pet_id", pet.PetID),
	)
	return httpapi.JSON(201, view)
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("add-pet"))
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
