package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"

	"github.com/petvida/petvida-service/internal/apperr"
	"github.com/petvida/petvida-service/internal/httpapi"
	"github.com/petvida/petvida-service/internal/pets"
	"github.com/petvida/petvida-service/internal/spanattr"
)

var logger = logging.New()

// UploadPresigner issues presigned photo uploads
type UploadPresigner interface {
	PresignUpload(ctx context.Context, userID string, req pets.UploadRequest) (*pets.Upload, error)
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Uploads UploadPresigner
}

var deps *Dependencies

func handler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (httpapi.Response, error) {
	requestID := request.RequestContext.RequestID
	ctx, span := tracing.StartHandlerSpan(ctx, "GetUploadURLHandler",
		tracing.Function("get-upload-url"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	claims, err := httpapi.ClaimsFrom(request)
	if err != nil {
		return httpapi.FromError(err)
	}
	span.SetAttributes(spanattr.UserID(claims.Sub))

	var req pets.UploadRequest
	if err := httpapi.DecodeJSON(request, &req); err != nil {
		return httpapi.FromError(err)
	}
	span.SetAttributes(spanattr.PetID(req.PetID))

	upload, err := deps.Uploads.PresignUpload(ctx, claims.Sub, req)
	if err != nil {
		if apperr.KindOf(err) == apperr.InvalidArguments {
			logger.WarnContext(ctx, "Rejected upload request",
				slog.String("request_id", requestID),
				slog.String("content_type", req.ContentType),
			)
		} else {
			tracing.RecordError(span, err)
			logger.ErrorContext(ctx, "Failed to presign upload",
				slog.String("request_id", requestID),
				slog.String("user_id", claims.Sub),
				slog.String("pet_id", req.PetID),
				slog.String("error", err.Error()),
			)
		}
		return httpapi.FromError(err)
	}

	logger.InfoContext(ctx, "Upload URL issued",
		slog.String("request_id", requestID),
		slog.String("user_id", claims.Sub),
		slog.String("pet_id", req.PetID),
	)
	return httpapi.JSON(200, upload)
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("get-upload-url"))
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()

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

	presignClient := s3.NewPresignClient(s3.NewFromConfig(result.Config))
	deps = &Dependencies{
		Uploads: pets.NewPhotoUploads(presignClient, bucketName, cloudFrontURL),
	}

	result.Start(handler)
}
