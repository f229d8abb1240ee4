package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/eleven/artcache/internal/buffer"
	"github.com/eleven/artcache/pkg/errors"
)

// S3Options configures access to an S3 compatible artwork mirror
type S3Options struct {
	Region         string
	Endpoint       string
	AccessKeyID    string
	SecretKey      string
	ForcePathStyle bool
}

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source downloads artwork referenced by s3://bucket/key URLs
type S3Source struct {
	client objectGetter
	pool   *buffer.Pool
	logger *slog.Logger
}

// NewS3Source builds an S3 client from the default AWS credential chain,
// overridden by static keys when both are set
func NewS3Source(ctx context.Context, opts S3Options, pool *buffer.Pool, logger *slog.Logger) (*S3Source, error) {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return newS3Source(client, pool, logger), nil
}

func newS3Source(client objectGetter, pool *buffer.Pool, logger *slog.Logger) *S3Source {
	if pool == nil {
		pool = buffer.NewPool()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Source{client: client, pool: pool, logger: logger.With("component", "s3")}
}

// Fetch reads the object behind rawURL, failing past maxBytes
func (s *S3Source) Fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, translateS3Error(ctx, err, rawURL)
	}
	defer out.Body.Close()

	size := aws.ToInt64(out.ContentLength)
	if maxBytes > 0 && size > maxBytes {
		return nil, tooLarge(rawURL, size, maxBytes)
	}

	s.logger.Debug("Fetching artwork object", "bucket", bucket, "key", key, "size", size)
	return readCapped(out.Body, s.pool, int(size), maxBytes, rawURL)
}

func parseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "s3" {
		return "", "", errors.NewError(errors.ErrCodeProviderFailure, "not an s3 url").
			WithContext("url", rawURL)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", errors.NewError(errors.ErrCodeProviderFailure, "s3 url needs a bucket and a key").
			WithContext("url", rawURL)
	}
	return u.Host, key, nil
}

func translateS3Error(ctx context.Context, err error, rawURL string) error {
	switch {
	case ctx.Err() != nil:
		return errors.Wrap(ctx.Err(), errors.ErrCodeOperationCanceled, "s3 request cancelled")
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NoSuchBucket](err):
		return errors.Wrap(err, errors.ErrCodeArtUnavailable, "object not found").
			WithContext("url", rawURL)
	default:
		return errors.Wrap(err, errors.ErrCodeNetworkError, "s3 request failed").
			WithContext("url", rawURL)
	}
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}
