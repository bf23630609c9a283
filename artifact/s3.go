package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/soliplex/ingester/model"
)

// S3Settings configures an S3-backed Store.
type S3Settings struct {
	Bucket        string
	EndpointURL   string
	AccessKeyID   string
	AccessSecret  string
	Region        string
}

// S3Store stores artifacts as objects in a single S3 bucket, keyed
// "<storage_root>/<kind>/<hash>".
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3Store from settings. It resolves credentials via
// the standard AWS config chain, overridden by any explicit
// AccessKeyID/AccessSecret/EndpointURL/Region set on settings.
func NewS3Store(ctx context.Context, settings S3Settings) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if settings.Region != "" {
		opts = append(opts, awsconfig.WithRegion(settings.Region))
	}
	if settings.AccessKeyID != "" || settings.AccessSecret != "" {
		creds := aws.Credentials{AccessKeyID: settings.AccessKeyID, SecretAccessKey: settings.AccessSecret}
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) { return creds, nil },
		)))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.EndpointURL != "" {
			o.BaseEndpoint = aws.String(settings.EndpointURL)
		}
	})

	return &S3Store{client: client, bucket: settings.Bucket}, nil
}

func (s *S3Store) key(ref model.ArtifactRef) string {
	return ref.StorageRoot + "/" + string(ref.Kind) + "/" + ref.Hash
}

// Put implements Store.
func (s *S3Store) Put(ctx context.Context, ref model.ArtifactRef, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("artifact: s3 put %s: %w", s.key(ref), err)
	}
	return nil
}

// Get implements Store.
func (s *S3Store) Get(ctx context.Context, ref model.ArtifactRef) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("artifact: s3 get %s: %w", s.key(ref), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("artifact: s3 read body %s: %w", s.key(ref), err)
	}
	return data, nil
}

// Exists implements Store.
func (s *S3Store) Exists(ctx context.Context, ref model.ArtifactRef) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("artifact: s3 head %s: %w", s.key(ref), err)
	}
	return true, nil
}

// Delete implements Store.
func (s *S3Store) Delete(ctx context.Context, ref model.ArtifactRef) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		return fmt.Errorf("artifact: s3 delete %s: %w", s.key(ref), err)
	}
	return nil
}

// DeleteAllForHash implements Store by listing every key ending in
// "/hash" under the bucket and deleting each. S3 has no server-side
// "suffix" filter, so this lists with no prefix restriction and filters
// client-side; callers with large buckets should prefer a DB-backed
// Store for DeleteAllForHash-heavy workloads (cascading deletion).
func (s *S3Store) DeleteAllForHash(ctx context.Context, hash string) (int, error) {
	var toDelete []types.ObjectIdentifier
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("artifact: s3 list for hash %s: %w", hash, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil && suffixMatchesHash(*obj.Key, hash) {
				toDelete = append(toDelete, types.ObjectIdentifier{Key: obj.Key})
			}
		}
	}

	if len(toDelete) == 0 {
		return 0, nil
	}

	_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: toDelete},
	})
	if err != nil {
		return 0, fmt.Errorf("artifact: s3 delete objects for hash %s: %w", hash, err)
	}
	return len(toDelete), nil
}

func suffixMatchesHash(key, hash string) bool {
	suffix := "/" + hash
	if len(key) < len(suffix) {
		return false
	}
	return key[len(key)-len(suffix):] == suffix
}
