package identity

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/petvida/petvida-service/internal/apperr"
)

// Tokens are the credentials issued on a successful login
type Tokens struct {
	IDToken      string `json:"idToken"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int32  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// Authenticator performs admin-side password operations against the pool
type Authenticator struct {
	client     CognitoClient
	userPoolID string
	clientID   string
}

// NewAuthenticator creates an Authenticator for the pool and app client
func NewAuthenticator(client CognitoClient, userPoolID, clientID string) *Authenticator {
	return &Authenticator{
		client:     client,
		userPoolID: userPoolID,
		clientID:   clientID,
	}
}

// Authenticate exchanges an email and password for tokens
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*Tokens, error) {
	output, err := a.client.AdminInitiateAuth(ctx, &cognitoidentityprovider.AdminInitiateAuthInput{
		UserPoolId: aws.String(a.userPoolID),
		ClientId:   aws.String(a.clientID),
		AuthFlow:   types.AuthFlowTypeAdminUserPasswordAuth,
		AuthParameters: map[string]string{
			"USERNAME": NormalizeEmail(email),
			"PASSWORD": password,
		},
	})
	if err != nil {
		var notAuthorized *types.NotAuthorizedException
		var notFound *types.UserNotFoundException
		if errors.As(err, &notAuthorized) || errors.As(err, &notFound) {
			return nil, &apperr.Error{Kind: apperr.Unauthorized, Op: "identity.authenticate", Message: "Invalid email or password", Err: err}
		}
		return nil, apperr.Wrap(apperr.IdentityProviderUnavailable, "identity.authenticate", err)
	}

	if output.AuthenticationResult == nil {
		return nil, apperr.New(apperr.Unauthorized, "identity.authenticate",
			"Additional challenge required: "+string(output.ChallengeName))
	}

	result := output.AuthenticationResult
	return &Tokens{
		IDToken:      aws.ToString(result.IdToken),
		AccessToken:  aws.ToString(result.AccessToken),
		RefreshToken: aws.ToString(result.RefreshToken),
		ExpiresIn:    result.ExpiresIn,
		TokenType:    aws.ToString(result.TokenType),
	}, nil
}

// SetPassword sets a permanent password for an existing identity
func (a *Authenticator) SetPassword(ctx context.Context, email, password string) error {
	_, err := a.client.AdminSetUserPassword(ctx, &cognitoidentityprovider.AdminSetUserPasswordInput{
		UserPoolId: aws.String(a.userPoolID),
		Username:   aws.String(NormalizeEmail(email)),
		Password:   aws.String(password),
		Permanent:  true,
	})
	if err != nil {
		var notFound *types.UserNotFoundException
		if errors.As(err, &notFound) {
			return &apperr.Error{Kind: apperr.NotFound, Op: "identity.setPassword", Message: "User not found", Err: err}
		}
		var invalid *types.InvalidPasswordException
		if errors.As(err, &invalid) {
			return &apperr.Error{Kind: apperr.InvalidArguments, Op: "identity.setPassword", Message: "Password does not meet policy", Err: err}
		}
		return apperr.Wrap(apperr.IdentityProviderUnavailable, "identity.setPassword", err)
	}
	return nil
}
