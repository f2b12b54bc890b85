package pets

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/cloudfront/sign"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/petvida/petvida-service/internal/apperr"
)

// UploadURLExpiry is how long a presigned photo upload stays valid
const UploadURLExpiry = 300 * time.Second

// PhotoURLTTL is how long a signed photo URL in a pet view stays valid
const PhotoURLTTL = time.Hour

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// S3PresignClient defines the interface for S3 presign operations
type S3PresignClient interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// UploadRequest is the get-upload-url request body
type UploadRequest struct {
	PetID       string `json:"petId" validate:"required,max=64,excludesall=#/"`
	ContentType string `json:"contentType" validate:"required"`
}

// Upload is a presigned PUT for a pet photo and the URL it will be served from
type Upload struct {
	UploadURL string    `json:"uploadUrl"`
	PhotoURL  string    `json:"photoUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PhotoUploads presigns photo uploads into the photo bucket
type PhotoUploads struct {
	presignClient S3PresignClient
	bucketName    string
	cloudFrontURL string
	now           func() time.Time
}

// NewPhotoUploads creates a PhotoUploads. cloudFrontURL is the distribution
// origin photos are served from, e.g. https://d123.cloudfront.net
func NewPhotoUploads(presignClient S3PresignClient, bucketName, cloudFrontURL string) *PhotoUploads {
	return &PhotoUploads{
		presignClient: presignClient,
		bucketName:    bucketName,
		cloudFrontURL: strings.TrimRight(cloudFrontURL, "/"),
		now:           time.Now,
	}
}

// PhotoKey is the object key for a pet's photo
func PhotoKey(userID, petID string) string {
	return fmt.Sprintf("users/%s/pets/%s.jpg", userID, petID)
}

// ParsePhotoKey extracts userID and petID from a key built by PhotoKey
func ParsePhotoKey(key string) (userID, petID string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != "users" || parts[2] != "pets" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid key format: expected users/{userId}/pets/{petId}.jpg")
	}
	petID, ok := strings.CutSuffix(parts[3], ".jpg")
	if !ok || petID == "" {
		return "", "", fmt.Errorf("invalid key format: expected users/{userId}/pets/{petId}.jpg")
	}
	return parts[1], petID, nil
}

// PhotoURL is the CloudFront URL that serves key
func PhotoURL(cloudFrontURL, key string) string {
	return strings.TrimRight(cloudFrontURL, "/") + "/" + key
}

// PresignUpload generates a pre-signed PUT for the pet's photo
func (u *PhotoUploads) PresignUpload(ctx context.Context, userID string, req UploadRequest) (*Upload, error) {
	if !allowedContentTypes[req.ContentType] {
		return nil, apperr.New(apperr.InvalidArguments, "pets.presignUpload", "Content type must be image/jpeg or image/png")
	}

	key := PhotoKey(userID, req.PetID)
	presignReq, err := u.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucketName),
		Key:         aws.String(key),
		ContentType: aws.String(req.ContentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = UploadURLExpiry
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "pets.presignUpload", fmt.Errorf("failed to presign PUT request: %w", err))
	}

	return &Upload{
		UploadURL: presignReq.URL,
		PhotoURL:  PhotoURL(u.cloudFrontURL, key),
		ExpiresAt: u.now().Add(UploadURLExpiry),
	}, nil
}

// URLSigner generates CloudFront signed URLs
type URLSigner interface {
	Sign(url string, expiry time.Time) (string, error)
}

// CloudFrontURLSigner implements URLSigner using CloudFront SDK
type CloudFrontURLSigner struct {
	signer *sign.URLSigner
}

// NewCloudFrontURLSigner creates a signer from a PEM encoded RSA key
func NewCloudFrontURLSigner(keyPairID, privateKeyPEM string) (*CloudFrontURLSigner, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		var ok bool
		privateKey, ok = key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
	}

	return &CloudFrontURLSigner{signer: sign.NewURLSigner(keyPairID, privateKey)}, nil
}

// Sign generates a signed URL for the given resource
func (s *CloudFrontURLSigner) Sign(url string, expiry time.Time) (string, error) {
	signedURL, err := s.signer.Sign(url, expiry)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return signedURL, nil
}

// Presenter turns stored pets into views, signing photo URLs when a signer
// is configured.
type Presenter struct {
	Signer URLSigner
	TTL    time.Duration
	now    func() time.Time
}

// NewPresenter creates a Presenter. A nil signer leaves photo URLs as stored.
func NewPresenter(signer URLSigner, ttl time.Duration) *Presenter {
	return &Presenter{Signer: signer, TTL: ttl, now: time.Now}
}

// View renders one pet
func (p *Presenter) View(pet Pet) (View, error) {
	v := pet.View()
	if p == nil || p.Signer == nil || v.Photo == "" {
		return v, nil
	}
	signed, err := p.Signer.Sign(v.Photo, p.now().Add(p.TTL))
	if err != nil {
		return View{}, apperr.Wrap(apperr.Internal, "pets.view", err)
	}
	v.Photo = signed
	return v, nil
}

// Views renders a list of pets
func (p *Presenter) Views(pets []Pet) ([]View, error) {
	views := make([]View, 0, len(pets))
	for _, pet := range pets {
		v, err := p.View(pet)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// SecretReader reads a string secret by ARN
type SecretReader interface {
	GetSecret(ctx context.Context, secretARN string) (string, error)
}

// LoadPresenter builds a Presenter whose CloudFront private key is read from
// keySecretARN. An empty keyPairID yields a Presenter that leaves photo URLs
// unsigned.
func LoadPresenter(ctx context.Context, secrets SecretReader, keyPairID, keySecretARN string, ttl time.Duration) (*Presenter, error) {
	if keyPairID == "" {
		return NewPresenter(nil, ttl), nil
	}
	if keySecretARN == "" {
		return nil, fmt.Errorf("private key secret is required with key pair %s", keyPairID)
	}
	privateKeyPEM, err := secrets.GetSecret(ctx, keySecretARN)
	if err != nil {
		return nil, err
	}
	signer, err := NewCloudFrontURLSigner(keyPairID, privateKeyPEM)
	if err != nil {
		return nil, err
	}
	return NewPresenter(signer, ttl), nil
}
