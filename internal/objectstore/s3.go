package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"wal-recover/internal/config"
	"wal-recover/internal/recovery"
)

// S3API is the subset of *s3.Client the store needs.
type S3API interface {
	manager.DownloadAPIClient
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store is an ObjectStore backed by S3 or an S3-compatible service.
// Downloads are ranged and parallel; uploads switch to multipart for large
// objects.
type S3Store struct {
	client     S3API
	downloader *manager.Downloader
	uploader   *manager.Uploader
}

// NewS3Store creates a store around an existing client.
func NewS3Store(client S3API) *S3Store {
	return &S3Store{
		client:     client,
		downloader: manager.NewDownloader(client),
		uploader:   manager.NewUploader(client),
	}
}

// NewS3StoreFromConfig builds the S3 client from the [source] section. With
// no static keys the default AWS credential chain applies.
func NewS3StoreFromConfig(ctx context.Context, cfg config.SourceConfig) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" || cfg.S3SecretAccessKey != "" {
		if cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "" {
			return nil, errors.New("s3_access_key_id and s3_secret_access_key must be set together")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	})
	return NewS3Store(client), nil
}

// Size returns the object's Content-Length.
func (s *S3Store) Size(ctx context.Context, bucket, key string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, mapS3Error(bucket, key, err)
	}
	if out.ContentLength == nil {
		return 0, fmt.Errorf("no content length for s3://%s/%s", bucket, key)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Get downloads bucket/key into w with the ranged downloader.
func (s *S3Store) Get(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	n, err := s.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return n, mapS3Error(bucket, key, err)
	}
	return n, nil
}

// Put uploads size bytes from r to bucket/key.
func (s *S3Store) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	counted := &countingReader{r: r}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          counted,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", bucket, key, err)
	}
	if counted.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, uploaded %d", size, counted.n)
	}
	return nil
}

func mapS3Error(bucket, key string, err error) error {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
	}
	return fmt.Errorf("s3://%s/%s: %w", bucket, key, err)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Compile-time check that S3Store implements recovery.ObjectStore
var _ recovery.ObjectStore = (*S3Store)(nil)
