// Package secrets reads cold-start configuration from Secrets Manager and
// SSM Parameter Store.
package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SecretsManagerClient is the subset of the Secrets Manager API in use
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SSMClient is the subset of the SSM API in use
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretsManagerReader reads string secrets
type SecretsManagerReader struct {
	client SecretsManagerClient
}

// NewSecretsManagerReader creates a new SecretsManagerReader
func NewSecretsManagerReader(client SecretsManagerClient) *SecretsManagerReader {
	return &SecretsManagerReader{client: client}
}

// GetSecret retrieves the string value of secretARN
func (s *SecretsManagerReader) GetSecret(ctx context.Context, secretARN string) (string, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	if result.SecretString == nil || *result.SecretString == "" {
		return "", fmt.Errorf("secret value is empty")
	}

	return *result.SecretString, nil
}

// ParameterReader reads SSM parameters
type ParameterReader struct {
	client SSMClient
}

// NewParameterReader creates a new ParameterReader
func NewParameterReader(client SSMClient) *ParameterReader {
	return &ParameterReader{client: client}
}

// GetParameter retrieves a parameter, decrypting SecureString values
func (r *ParameterReader) GetParameter(ctx context.Context, name string) (string, error) {
	result, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read parameter: %w", err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter value is empty")
	}

	return *result.Parameter.Value, nil
}
