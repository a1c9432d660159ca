package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3pkg "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 fetches originals from a bucket, keyed by asset id.
type S3 struct {
	client *s3pkg.Client
	bucket string
}

type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

// NewS3 connects using the ambient AWS configuration (env, shared
// config, instance role).
func NewS3(ctx context.Context, bucket string) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return &S3{
		client: s3pkg.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

// NewS3FromConfig connects to an explicit endpoint, for S3-compatible
// stores and tests. The bucket is created when it does not exist yet.
func NewS3FromConfig(ctx context.Context, config *S3Config) (*S3, error) {
	awsConfig := aws.Config{
		Region: config.Region,
	}

	if config.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.AccessKeySecret,
			"",
		)
	}

	endpointURL, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, err
	}

	client := s3pkg.NewFromConfig(awsConfig, func(options *s3pkg.Options) {
		options.EndpointResolverV2 = &s3EndpointResolver{url: endpointURL}
	})

	_, err = client.CreateBucket(ctx, &s3pkg.CreateBucketInput{
		Bucket: aws.String(config.Bucket),
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if !errors.As(err, &owned) && !errors.As(err, &exists) {
			return nil, err
		}
	}

	return &S3{
		client: client,
		bucket: config.Bucket,
	}, nil
}

func (s *S3) Fetch(ctx context.Context, id string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3pkg.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return nil, convertErr(err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return data, nil
}

// Put stores an original under the given id. The serving path never
// writes; this backs seeding and tests.
func (s *S3) Put(ctx context.Context, id string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3pkg.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(id),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return nil
}

func convertErr(err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey

	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return ErrNotFound
	}

	return fmt.Errorf("%w: %v", ErrUpstream, err)
}
