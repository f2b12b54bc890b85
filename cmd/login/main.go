package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/httpapi"
	"github.com/petvida/petvida-service/internal/identity"
)

var logger = logging.New()

// Authenticator exchanges credentials for tokens
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*identity.Tokens, error)
}

// LoginRequest is the login request body
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Auth Authenticator
}

var deps *Dependencies

func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (httpapi.Response, error) {
	requestID := request.RequestContext.RequestID
	ctx, span := tracing.StartHandlerSpan(ctx, "LoginHandler",
		tracing.Function("login"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	var req LoginRequest
	if err := httpapi.DecodeJSON(request, &req); err != nil {
		return httpapi.FromError(err)
	}

	tokens, err := deps.Auth.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if apperr.KindOf(err) == apperr.Unauthorized {
			logger.WarnContext(ctx, "Login rejected",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
		} else {
			tracing.RecordError(span, err)
			logger.ErrorContext(ctx, "Login failed",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
		}
		return httpapi.FromError(err)
	}

	logger.InfoContext(ctx, "Login succeeded",
		slog.String("request_id", requestID),
	)
	return httpapi.JSON(200, tokens)
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("login"))
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()

	userPoolID := os.Getenv("USER_POOL_ID")
	if userPoolID == "" {
		logger.Error("FATAL: USER_POOL_ID environment variable is required")
		panic("USER_POOL_ID environment variable is required")
	}
	clientID := os.Getenv("USER_POOL_CLIENT_ID")
	if clientID == "" {
		logger.Error("FATAL: USER_POOL_CLIENT_ID environment variable is required")
		panic("USER_POOL_CLIENT_ID environment variable is required")
	}

	deps = &Dependencies{
		Auth: identity.NewAuthenticator(cognitoidentityprovider.NewFromConfig(result.Config), userPoolID, clientID),
	}

	result.Start(handler)
}
