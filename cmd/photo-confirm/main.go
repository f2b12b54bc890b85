package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/db"
	"github.com/petvida/petvida-service/internal/pets"
	"github.com/petvida/petvida-service/internal/spanattr"
)

var logger = logging.New()

// PhotoTagger marks uploaded objects as confirmed
type PhotoTagger interface {
	ConfirmTag(ctx context.Context, key, userID string) error
}

// PhotoRecorder records a photo URL on a pet
type PhotoRecorder interface {
	SetPhoto(ctx context.Context, userID, petID, photoURL string) error
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Storage       PhotoTagger
	Pets          PhotoRecorder
	CloudFrontURL string
}

var deps *Dependencies

// handler processes S3 ObjectCreated events for pet photos
func handler(ctx context.Context, event events.S3Event) error {
	ctx, span := tracing.StartHandlerSpan(ctx, "PhotoConfirmHandler",
		tracing.Function("photo-confirm"),
	)
	defer span.End()

	for _, record := range event.Records {
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			key = record.S3.Object.Key
		}
		span.SetAttributes(
			attribute.String("s3.bucket", record.S3.Bucket.Name),
			attribute.String("s3.key", key),
		)

		userID, petID, err := pets.ParsePhotoKey(key)
		if err != nil {
			logger.WarnContext(ctx, "Skipping object outside the photo layout",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		span.SetAttributes(spanattr.UserID(userID), spanattr.PetID(petID))

		// Tag before recording so lifecycle expiry never removes a photo a
		// pet already points at.
		if err := deps.Storage.ConfirmTag(ctx, key, userID); err != nil {
			logger.ErrorContext(ctx, "Failed to update S3 tag",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			tracing.RecordError(span, err)
			return fmt.Errorf("failed to update S3 tag: %w", err)
		}

		err = deps.Pets.SetPhoto(ctx, userID, petID, pets.PhotoURL(deps.CloudFrontURL, key))
		switch {
		case err == nil:
			logger.InfoContext(ctx, "Pet photo confirmed",
				slog.String("user_id", userID),
				slog.String("pet_id", petID),
			)
		case apperr.KindOf(err) == apperr.NotFound:
			// The client may upload before creating the pet; add-pet then
			// carries the photo URL itself.
			logger.WarnContext(ctx, "Photo uploaded for unknown pet",
				slog.String("user_id", userID),
				slog.String("pet_id", petID),
			)
		default:
			logger.ErrorContext(ctx, "Failed to record pet photo",
				slog.String("user_id", userID),
				slog.String("pet_id", petID),
				slog.String("error", err.Error()),
			)
			tracing.RecordError(span, err)
			return fmt.Errorf("failed to record pet photo: %w", err)
		}
	}

	return nil
}

// S3PhotoTagger implements PhotoTagger using AWS S3
type S3PhotoTagger struct {
	client     *s3.Client
	bucketName string
}

// NewS3PhotoTagger creates a new S3PhotoTagger
func NewS3PhotoTagger(client *s3.Client, bucketName string) *S3PhotoTagger {
	return &S3PhotoTagger{
		client:     client,
		bucketName: bucketName,
	}
}

// ConfirmTag tags the object with its owner and a confirmed status
func (s *S3PhotoTagger) ConfirmTag(ctx context.Context, key, userID string) error {
	_, err := s.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
		Tagging: &s3types.Tagging{
			TagSet: []s3types.Tag{
				{Key: aws.String("Owner"), Value: aws.String(userID)},
				{Key: aws.String("Status"), Value: aws.String("confirmed")},
			},
		},
	})
	return err
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx)
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
	bucketName := os.Getenv("PHOTOS_BUCKET")
	if bucketName == "" {
		logger.Error("FATAL: PHOTOS_BUCKET environment variable is required")
		panic("PHOTOS_BUCKET environment variable is required")
	}
	cloudFrontURL := os.Getenv("CLOUDFRONT_URL")
	if cloudFrontURL == "" {
		logger.Error("FATAL: CLOUDFRONT_URL environment variable is required")
		panic("CLOUDFRONT_URL environment variable is required")
	}

	deps = &Dependencies{
		Storage:       NewS3PhotoTagger(s3.NewFromConfig(result.Config), bucketName),
		Pets:          pets.NewStore(db.NewClientFromConfig(result.Config, petsTable)),
		CloudFrontURL: cloudFrontURL,
	}

	result.Start(handler)
}
