// Package identity manages user identities in the Cognito user pool.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/petvida/petvida-service/internal/apperr"
)

// CognitoClient is the subset of the Cognito API used by this package
type CognitoClient interface {
	AdminCreateUser(ctx context.Context, params *cognitoidentityprovider.AdminCreateUserInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminCreateUserOutput, error)
	AdminGetUser(ctx context.Context, params *cognitoidentityprovider.AdminGetUserInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminGetUserOutput, error)
	AdminInitiateAuth(ctx context.Context, params *cognitoidentityprovider.AdminInitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminInitiateAuthOutput, error)
	AdminSetUserPassword(ctx context.Context, params *cognitoidentityprovider.AdminSetUserPasswordInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminSetUserPasswordOutput, error)
}

// Outcome reports whether an identity was created by this call
type Outcome int

const (
	Created Outcome = iota
	AlreadyExists
)

func (o Outcome) String() string {
	if o == AlreadyExists {
		return "alreadyExists"
	}
	return "created"
}

// Identity is a user-pool account. ID is the pool's username handle.
type Identity struct {
	ID          string
	Email       string
	DisplayName string
	Verified    bool
}

// Result is returned by EnsureIdentity
type Result struct {
	Identity Identity
	Outcome  Outcome
}

// Provisioner creates at most one identity per email
type Provisioner struct {
	client     CognitoClient
	userPoolID string
}

// NewProvisioner creates a Provisioner for the given user pool
func NewProvisioner(client CognitoClient, userPoolID string) *Provisioner {
	return &Provisioner{
		client:     client,
		userPoolID: userPoolID,
	}
}

// NormalizeEmail canonicalises an email for use as the identity key
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EnsureIdentity creates a verified identity for email without sending an
// invitation. An existing identity for the same email is not an error.
func (p *Provisioner) EnsureIdentity(ctx context.Context, email, displayName string) (Result, error) {
	email = NormalizeEmail(email)

	output, err := p.client.AdminCreateUser(ctx, &cognitoidentityprovider.AdminCreateUserInput{
		UserPoolId:    aws.String(p.userPoolID),
		Username:      aws.String(email),
		MessageAction: types.MessageActionTypeSuppress,
		UserAttributes: []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
			{Name: aws.String("email_verified"), Value: aws.String("true")},
			{Name: aws.String("name"), Value: aws.String(displayName)},
		},
	})
	if err != nil {
		var exists *types.UsernameExistsException
		if errors.As(err, &exists) {
			handle, lookupErr := p.lookupHandle(ctx, email)
			if lookupErr != nil {
				return Result{}, apperr.Wrap(apperr.IdentityProviderUnavailable, "identity.lookup", lookupErr)
			}
			return Result{
				Identity: Identity{
					ID:          handle,
					Email:       email,
					DisplayName: displayName,
					Verified:    true,
				},
				Outcome: AlreadyExists,
			}, nil
		}
		return Result{}, apperr.Wrap(apperr.IdentityProviderUnavailable, "identity.create", err)
	}

	handle := email
	if output.User != nil && aws.ToString(output.User.Username) != "" {
		handle = aws.ToString(output.User.Username)
	}

	return Result{
		Identity: Identity{
			ID:          handle,
			Email:       email,
			DisplayName: displayName,
			Verified:    true,
		},
		Outcome: Created,
	}, nil
}

// lookupHandle resolves the username of an existing identity. The email is
// used only when the pool reports no user or no username for it; any other
// failure is returned so the caller never keys a profile on a guess.
func (p *Provisioner) lookupHandle(ctx context.Context, email string) (string, error) {
	output, err := p.client.AdminGetUser(ctx, &cognitoidentityprovider.AdminGetUserInput{
		UserPoolId: aws.String(p.userPoolID),
		Username:   aws.String(email),
	})
	if err != nil {
		var notFound *types.UserNotFoundException
		if errors.As(err, &notFound) {
			return email, nil
		}
		return "", err
	}
	if aws.ToString(output.Username) == "" {
		return email, nil
	}
	return aws.ToString(output.Username), nil
}
