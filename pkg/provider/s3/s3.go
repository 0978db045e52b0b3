// Package s3 implements a StorageProvider for Amazon S3 and S3-compatible
// services (MinIO, S3 Express, SwiftStack, and similar).
//
// The provider's base path is "bucket" or "bucket/prefix"; keys are resolved
// below it. Transient failures (timeouts, throttling, 5xx) are retried by
// the SDK's standard retryer; exhausted retries surface as ErrUnavailable.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/voegtlel/multi-storage-client/internal/util"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// ProviderName is the registered type of this provider.
const ProviderName = "s3"

const defaultMaxAttempts = 10

// Config holds the s3 provider options.
type Config struct {
	// BasePath is "bucket" or "bucket/prefix". Required.
	BasePath string `mapstructure:"base_path"`

	// RegionName is the AWS region. Defaults to "us-east-1" for
	// S3-compatible endpoints that ignore it.
	RegionName string `mapstructure:"region_name"`

	// EndpointURL points at an S3-compatible service. Empty means AWS.
	EndpointURL string `mapstructure:"endpoint_url"`

	// AccessKeyID and SecretAccessKey configure static credentials. When
	// empty and no credentials provider is attached to the profile, the
	// SDK's default chain is used.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// MaxAttempts bounds the SDK retryer. Defaults to 10.
	MaxAttempts int `mapstructure:"max_attempts"`

	// ForcePathStyle forces path-style addressing. Implied by a custom
	// endpoint.
	ForcePathStyle bool `mapstructure:"force_path_style"`
}

// Provider is a StorageProvider over one S3 bucket (optionally below a key
// prefix).
type Provider struct {
	client    *awss3.Client
	bucket    string
	keyPrefix string
}

// credentialsAdapter bridges a types.CredentialsProvider to the SDK.
type credentialsAdapter struct {
	provider types.CredentialsProvider
}

func (a credentialsAdapter) Retrieve(ctx context.Context) (aws.Credentials, error) {
	creds, err := a.provider.GetCredentials(ctx)
	if err != nil {
		return aws.Credentials{}, err
	}
	return aws.Credentials{
		AccessKeyID:     creds.AccessKey,
		SecretAccessKey: creds.SecretKey,
		SessionToken:    creds.SessionToken,
		CanExpire:       !creds.Expiration.IsZero(),
		Expires:         creds.Expiration,
	}, nil
}

// New creates an S3 storage provider. credsProvider may be nil, in which
// case static config credentials or the SDK default chain apply.
func New(ctx context.Context, cfg Config, credsProvider types.CredentialsProvider) (*Provider, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("s3 storage provider: %w: base_path is required", types.ErrInvalidArgument)
	}

	bucket, keyPrefix := util.SplitPath(cfg.BasePath)

	region := cfg.RegionName
	if region == "" {
		region = "us-east-1"
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = maxAttempts
			})
		}),
	}

	switch {
	case credsProvider != nil:
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			aws.NewCredentialsCache(credentialsAdapter{provider: credsProvider})))
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Provider{client: client, bucket: bucket, keyPrefix: keyPrefix}, nil
}

// Name returns the provider type.
func (p *Provider) Name() string {
	return ProviderName
}

func (p *Provider) objectKey(path string) string {
	return util.JoinPaths(p.keyPrefix, strings.TrimLeft(path, "/"))
}

func (p *Provider) relkey(objectKey string) string {
	if p.keyPrefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(strings.TrimPrefix(objectKey, p.keyPrefix), "/")
}

// classify maps SDK errors onto the shared error kinds.
func classify(op, path string, err error) error {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("object %q: %w", path, types.ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket", "404":
			return fmt.Errorf("object %q: %w", path, types.ErrNotFound)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "403":
			return fmt.Errorf("%s %q: %w: %v", op, path, types.ErrUnauthorized, err)
		case "PreconditionFailed", "412":
			return fmt.Errorf("%s %q: %w", op, path, types.ErrPreconditionFailed)
		case "OperationAborted", "ConditionalRequestConflict", "409":
			return fmt.Errorf("%s %q: %w: %v", op, path, types.ErrConflict, err)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "503":
			return fmt.Errorf("%s %q: %w: %v", op, path, types.ErrUnavailable, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %q: %w: %v", op, path, types.ErrUnavailable, err)
	}

	return fmt.Errorf("%s %q: %w", op, path, err)
}

// PutObject uploads an object with a single PutObject call.
func (p *Provider) PutObject(ctx context.Context, path string, body io.Reader, size int64, opts *types.PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	input := &awss3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(path)),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if opts != nil {
		if opts.Metadata != nil {
			input.Metadata = opts.Metadata
		}
		if opts.IfMatch != "" {
			input.IfMatch = aws.String(opts.IfMatch)
		}
		if opts.IfNoneMatch != "" {
			input.IfNoneMatch = aws.String(opts.IfNoneMatch)
		}
	}

	if _, err := p.client.PutObject(ctx, input); err != nil {
		return classify("put", path, err)
	}
	return nil
}

// GetObject retrieves an object, optionally with an HTTP range request.
func (p *Provider) GetObject(ctx context.Context, path string, byteRange *types.Range) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := &awss3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(path)),
	}
	if byteRange != nil {
		// Internal ranges are half-open; the HTTP form is inclusive.
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", byteRange.Offset, byteRange.Offset+byteRange.Size-1))
	}

	result, err := p.client.GetObject(ctx, input)
	if err != nil {
		return nil, classify("get", path, err)
	}
	return result.Body, nil
}

// CopyObject performs a server-side copy within the bucket.
func (p *Provider) CopyObject(ctx context.Context, srcPath, dstPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	source := p.bucket + "/" + p.objectKey(srcPath)
	_, err := p.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(p.bucket),
		Key:        aws.String(p.objectKey(dstPath)),
		CopySource: aws.String(url.PathEscape(source)),
	})
	if err != nil {
		return classify("copy", srcPath, err)
	}
	return nil
}

// DeleteObject removes an object. S3 deletes are idempotent at the wire
// level, so a HeadObject establishes existence first to honor the contract
// that deleting a missing key reports ErrNotFound.
func (p *Provider) DeleteObject(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := p.GetObjectMetadata(ctx, path); err != nil {
		return err
	}

	_, err := p.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(path)),
	})
	if err != nil {
		return classify("delete", path, err)
	}
	return nil
}

// GetObjectMetadata issues a HeadObject.
func (p *Provider) GetObjectMetadata(ctx context.Context, path string) (*types.ObjectMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := p.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(path)),
	})
	if err != nil {
		return nil, classify("head", path, err)
	}

	meta := &types.ObjectMetadata{
		Key:      strings.TrimLeft(path, "/"),
		Type:     types.ObjectTypeFile,
		Metadata: result.Metadata,
	}
	if result.ContentLength != nil {
		meta.ContentLength = *result.ContentLength
	}
	if result.LastModified != nil {
		meta.LastModified = result.LastModified.UTC()
	}
	if result.ETag != nil {
		meta.ETag = strings.Trim(*result.ETag, `"`)
	}
	if result.StorageClass != "" {
		meta.StorageClass = string(result.StorageClass)
	}
	return meta, nil
}

// ListObjects pages through ListObjectsV2 results.
func (p *Provider) ListObjects(ctx context.Context, prefix string, opts *types.ListOptions) types.ObjectIterator {
	if opts == nil {
		opts = &types.ListOptions{Recursive: true}
	}

	return func(yield func(*types.ObjectMetadata, error) bool) {
		input := &awss3.ListObjectsV2Input{
			Bucket: aws.String(p.bucket),
			Prefix: aws.String(p.objectKey(prefix)),
		}
		if !opts.Recursive {
			input.Delimiter = aws.String("/")
		}
		if opts.StartAfter != "" {
			input.StartAfter = aws.String(p.objectKey(opts.StartAfter))
		}

		paginator := awss3.NewListObjectsV2Paginator(p.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(nil, classify("list", prefix, err))
				return
			}

			if opts.IncludeDirectories {
				for _, common := range page.CommonPrefixes {
					if common.Prefix == nil {
						continue
					}
					key := p.relkey(*common.Prefix)
					if !yield(&types.ObjectMetadata{
						Key:  key,
						Type: types.ObjectTypeDirectory,
					}, nil) {
						return
					}
				}
			}

			for _, obj := range page.Contents {
				if obj.Key == nil {
					continue
				}
				key := p.relkey(*obj.Key)
				if opts.EndAt != "" && key > opts.EndAt {
					return
				}

				meta := &types.ObjectMetadata{
					Key:  key,
					Type: types.ObjectTypeFile,
				}
				if obj.Size != nil {
					meta.ContentLength = *obj.Size
				}
				if obj.LastModified != nil {
					meta.LastModified = obj.LastModified.UTC()
				}
				if obj.ETag != nil {
					meta.ETag = strings.Trim(*obj.ETag, `"`)
				}
				if obj.StorageClass != "" {
					meta.StorageClass = string(obj.StorageClass)
				}
				if !yield(meta, nil) {
					return
				}
			}
		}
	}
}

// IsFile reports whether a HeadObject on the key succeeds.
func (p *Provider) IsFile(ctx context.Context, path string) (bool, error) {
	_, err := p.GetObjectMetadata(ctx, path)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
