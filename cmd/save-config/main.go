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
	"github.com/petvida/petvida-service/internal/httpapi"
	"github.com/petvida/petvida-service/internal/profile"
	"github.com/petvida/petvida-service/internal/spanattr"
)

var logger = logging.New()

// PreferenceSaver persists a user's preferences
type PreferenceSaver interface {
	SavePreferences(ctx context.Context, userID string, prefs profile.Preferences) (*profile.Preferences, error)
}

// SaveConfigResponse confirms the saved preferences
type SaveConfigResponse struct {
	Message     string              `json:"message"`
	Preferences profile.Preferences `json:"preferences"`
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Profiles PreferenceSaver
}

var deps *Dependencies

func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (httpapi.Response, error) {
	requestID := request.RequestContext.RequestID
	ctx, span := tracing.StartHandlerSpan(ctx, "SaveConfigHandler",
		tracing.Function("save-config"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	claims, err := httpapi.ClaimsFrom(request)
	if err != nil {
		return httpapi.FromError(err)
	}
	span.SetAttributes(spanattr.UserID(claims.Sub))

	var prefs profile.Preferences
	if err := httpapi.DecodeJSON(request, &prefs); err != nil {
		return httpapi.FromError(err)
	}
	if prefs.AdvanceDays == "" {
		prefs.AdvanceDays = profile.DefaultPreferences().AdvanceDays
	}

	saved, err := deps.Profiles.SavePreferences(ctx, claims.Sub, prefs)
	if err != nil {
		tracing.RecordError(span, err)
		logger.ErrorContext(ctx, "Failed to save preferences",
			slog.String("request_id", requestID),
			slog.String("user_id", claims.Sub),
			slog.String("error", err.Error()),
		)
		return httpapi.FromError(err)
	}

	logger.InfoContext(ctx, "Preferences saved",
		slog.String("request_id", requestID),
		slog.String("user_id", claims.Sub),
	)
	return httpapi.JSON(200, SaveConfigResponse{
		Message:     "Preferences updated",
		Preferences: *saved,
	})
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("save-config"))
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()

	usersTable := os.Getenv("USERS_TABLE")
	if usersTable == "" {
		logger.Error("FATAL: USERS_TABLE environment variable is required")
		panic("USERS_TABLE environment variable is required")
	}

	deps = &Dependencies{
		Profiles: profile.NewStore(db.NewClientFromConfig(result.Config, usersTable)),
	}

	result.Start(handler)
}
