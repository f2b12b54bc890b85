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

// ProfileReader loads a user's profile
type ProfileReader interface {
	Get(ctx context.Context, userID string) (*profile.Profile, error)
}

// ConfigResponse is the user configuration view
type ConfigResponse struct {
	Name        string              `json:"name"`
	Email       string              `json:"email"`
	Preferences profile.Preferences `json:"preferences"`
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Profiles ProfileReader
}

var deps *Dependencies

func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (httpapi.Response, error) {
	requestID := request.RequestContext.RequestID
	ctx, span := tracing.StartHandlerSpan(ctx, "GetConfigHandler",
		tracing.Function("get-config"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	claims, err := httpapi.ClaimsFrom(request)
	if err != nil {
		return httpapi.FromError(err)
	}
	span.SetAttributes(spanattr.UserID(claims.Sub))

	p, err := deps.Profiles.Get(ctx, claims.Sub)
	if err != nil {
		tracing.RecordError(span, err)
		logger.ErrorContext(ctx, "Failed to load profile",
			slog.String("request_id", requestID),
			slog.String("user_id", claims.Sub),
			slog.String("error", err.Error()),
		)
		return httpapi.FromError(err)
	}

	if p == nil {
		return httpapi.JSON(200, ConfigResponse{
			Name:        claims.Name,
			Email:       claims.Email,
			Preferences: profile.DefaultPreferences(),
		})
	}

	resp := ConfigResponse{
		Name:        p.Name,
		Email:       p.Email,
		Preferences: profile.DefaultPreferences(),
	}
	if p.Preferences != nil {
		resp.Preferences = *p.Preferences
	}
	return httpapi.JSON(200, resp)
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("get-config"))
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
