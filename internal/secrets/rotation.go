package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretDescriber is the Secrets Manager metadata call in use
type SecretDescriber interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// RotationInspector reports when secrets last changed
type RotationInspector struct {
	client SecretDescriber
}

// NewRotationInspector creates a new RotationInspector
func NewRotationInspector(client SecretDescriber) *RotationInspector {
	return &RotationInspector{client: client}
}

// LastChanged returns the latest of the secret's rotation, change and
// creation dates
func (r *RotationInspector) LastChanged(ctx context.Context, secretARN string) (time.Time, error) {
	out, err := r.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to describe secret: %w", err)
	}

	var latest time.Time
	for _, t := range []*time.Time{out.LastRotatedDate, out.LastChangedDate, out.CreatedDate} {
		if t != nil && t.After(latest) {
			latest = *t
		}
	}
	if latest.IsZero() {
		return time.Time{}, fmt.Errorf("secret has no change dates")
	}
	return latest, nil
}
