package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// MaxAttachmentSize caps a single message attachment.
const MaxAttachmentSize = 25 << 20

var allowedMimePrefixes = []string{"image/", "application/pdf", "application/msword",
	"application/vnd.openxmlformats-officedocument.", "text/plain"}

// UploadURL is handed to the client, which PUTs the file directly to S3
// and then sends a message carrying FileURL.
type UploadURL struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	Key       string    `json:"key"`
	FileURL   string    `json:"fileUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	region  string
	ttl     time.Duration
}

// NewS3Store supports a custom endpoint (MinIO, LocalStack) through
// endpoint; empty uses AWS.
func NewS3Store(cfg aws.Config, bucket, endpoint string, ttl time.Duration) *S3Store {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		region:  cfg.Region,
		ttl:     ttl,
	}
}

// AllowedMime reports whether attachments of this type are accepted.
func AllowedMime(mime string) bool {
	mime = strings.ToLower(mime)
	for _, p := range allowedMimePrefixes {
		if strings.HasPrefix(mime, p) {
			return true
		}
	}
	return false
}

// AttachmentKey places uploads under the thread they belong to.
func AttachmentKey(threadID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r == ' ' || r == '?' || r == '#' || r == '%' {
			return '_'
		}
		return r
	}, name)
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return fmt.Sprintf("messages/%s/%s-%s", threadID, uuid.NewString(), name)
}

func (s *S3Store) PresignUpload(ctx context.Context, key, contentType string) (*UploadURL, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return nil, err
	}
	return &UploadURL{
		URL:       req.URL,
		Method:    req.Method,
		Key:       key,
		FileURL:   s.objectURL(key),
		ExpiresAt: time.Now().Add(s.ttl),
	}, nil
}

func (s *S3Store) PresignDownload(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func (s *S3Store) objectURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, strings.Join(parts, "/"))
}
