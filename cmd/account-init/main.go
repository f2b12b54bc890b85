package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/petvida/petvida-service/internal/db"
	"github.com/petvida/petvida-service/internal/identity"
	"github.com/petvida/petvida-service/internal/profile"
)

var logger = logging.New()

// ProfileEnsurer creates a profile unless one exists
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, userID, name, email string) (profile.Outcome, error)
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Profiles ProfileEnsurer
}

var deps *Dependencies

// handler processes Cognito Post Authentication trigger events. It backfills
// the profile of a user who signs in without one, e.g. when provisioning
// stopped between the identity and profile steps.
func handler(ctx context.Context, event events.CognitoEventUserPoolsPostAuthentication) (events.CognitoEventUserPoolsPostAuthentication, error) {
	userID := event.Request.UserAttributes["sub"]
	if userID == "" {
		logger.ErrorContext(ctx, "Missing sub attribute in user attributes",
			slog.String("username", event.UserName),
		)
		return event, fmt.Errorf("missing sub attribute")
	}

	email := identity.NormalizeEmail(event.Request.UserAttributes["email"])
	name := event.Request.UserAttributes["name"]

	outcome, err := deps.Profiles.EnsureProfile(ctx, userID, name, email)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to ensure profile",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return event, fmt.Errorf("failed to ensure profile: %w", err)
	}

	if outcome == profile.Created {
		logger.InfoContext(ctx, "Profile backfilled at sign-in",
			slog.String("user_id", userID),
		)
	}
	return event, nil
}

func main() {
	ctx := context.Background()

	usersTable := os.Getenv("USERS_TABLE")
	if usersTable == "" {
		logger.Error("FATAL: USERS_TABLE environment variable is required")
		panic("USERS_TABLE environment variable is required")
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
		Profiles: profile.NewStore(db.NewClientFromConfig(cfg, usersTable)),
	}

	lambda.Start(handler)
}
