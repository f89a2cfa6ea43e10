// Package storage owns the object-store side of the upload protocol: temp
// key allocation, presigned upload/download URLs and the lifecycle of staged
// recordings (temp -> processed -> archive -> deleted).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

var ErrObjectNotFound = errors.New("object not found in storage")

type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true // MinIO
	})

	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

// TempKey allocates the staging location for a new upload. Keys embed the
// owning user and a digest prefix so housekeeping can sweep by prefix and age.
func TempKey(userID, digest, filename string) string {
	return fmt.Sprintf("users/%s/temp/%d-%s%s", userID, time.Now().Unix(), shortDigest(digest), path.Ext(filename))
}

func processedKey(userID, meetingID, ext string) string {
	return fmt.Sprintf("users/%s/processed/%s%s", userID, meetingID, ext)
}

func archiveKey(userID, meetingID, ext string, now time.Time) string {
	return fmt.Sprintf("users/%s/archive/%04d/%02d/%s%s", userID, now.Year(), now.Month(), meetingID, ext)
}

func shortDigest(digest string) string {
	if len(digest) < 8 {
		return digest
	}
	return digest[:8]
}

// UserFromLocation extracts the owning user id from a storage key of the
// form users/{userID}/...
func UserFromLocation(location string) string {
	parts := strings.Split(location, "/")
	if len(parts) < 3 || parts[0] != "users" {
		return ""
	}
	return parts[1]
}

func (s *Store) Upload(ctx context.Context, location string, body io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(location),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", location, err)
	}
	return nil
}

func (s *Store) PresignUpload(ctx context.Context, location, contentType string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(location),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", location, err)
	}
	return req.URL, nil
}

func (s *Store) PresignDownload(ctx context.Context, location string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", location, err)
	}
	return req.URL, nil
}

func (s *Store) Exists(ctx context.Context, location string) (bool, error) {
	_, err := s.head(ctx, location)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) Size(ctx context.Context, location string) (int64, error) {
	out, err := s.head(ctx, location)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *Store) Download(ctx context.Context, location string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("get object %s: %w", location, err)
	}
	return out.Body, nil
}

func (s *Store) Delete(ctx context.Context, location string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", location, err)
	}
	return nil
}

// MoveToProcessed relocates a staged object under the processed prefix once
// its meeting exists. Copy first, verify the copy's size, and only then
// delete the original; a partial failure must never lose the recording.
func (s *Store) MoveToProcessed(ctx context.Context, location, meetingID string) (string, error) {
	newLocation := processedKey(UserFromLocation(location), meetingID, path.Ext(location))
	if err := s.move(ctx, location, newLocation); err != nil {
		return "", err
	}
	return newLocation, nil
}

// MoveToArchive relocates an object into a time-bucketed archive path.
func (s *Store) MoveToArchive(ctx context.Context, location, meetingID string) (string, error) {
	newLocation := archiveKey(UserFromLocation(location), meetingID, path.Ext(location), time.Now())
	if err := s.move(ctx, location, newLocation); err != nil {
		return "", err
	}
	return newLocation, nil
}

func (s *Store) move(ctx context.Context, from, to string) error {
	srcSize, err := s.Size(ctx, from)
	if err != nil {
		return err
	}

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + url.PathEscape(from)),
		Key:        aws.String(to),
	})
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", from, to, err)
	}

	copiedSize, err := s.Size(ctx, to)
	if err != nil {
		return err
	}
	if copiedSize != srcSize {
		return fmt.Errorf("copy %s to %s: size mismatch (%d != %d)", from, to, copiedSize, srcSize)
	}

	return s.Delete(ctx, from)
}

func (s *Store) head(ctx context.Context, location string) (*s3.HeadObjectOutput, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("head object %s: %w", location, err)
	}
	return out, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
