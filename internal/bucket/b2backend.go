package bucket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/b2fs4chia/b2fs/internal/circuit"
	"github.com/b2fs4chia/b2fs/internal/rangecache"
	b2errors "github.com/b2fs4chia/b2fs/pkg/errors"
	"github.com/b2fs4chia/b2fs/pkg/retry"
)

// B2Config addresses B2's S3-compatible API: an account ID / application
// key pair used as the access key ID / secret, a region, and an endpoint
// (B2 has no single global endpoint the way AWS does).
type B2Config struct {
	AccountID      string
	ApplicationKey string
	BucketID       string
	Endpoint       string
	Region         string
}

// ErrorSink receives one observation per bucket call that ends up a
// structured domain error, labeled by kind. Implemented by
// internal/metrics.Collector's RecordBucketError. Nil is a valid no-op.
type ErrorSink interface {
	RecordBucketError(kind string)
}

// B2Backend is the concrete Client, consuming B2 through the AWS SDK's S3
// client pointed at B2's S3-compatible endpoint, with a circuit breaker and
// bounded retry around every call.
type B2Backend struct {
	client  *s3.Client
	bucket  string
	breaker *circuit.CircuitBreaker
	retryer *retry.Retryer
	metrics ErrorSink
}

// NewB2Backend builds a B2Backend. ctx is used only for the initial AWS
// config load, not retained.
func NewB2Backend(ctx context.Context, cfg B2Config) (*B2Backend, error) {
	if cfg.BucketID == "" {
		return nil, fmt.Errorf("bucket id cannot be empty")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccountID, cfg.ApplicationKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	breaker := circuit.NewCircuitBreaker("b2-bucket", circuit.Config{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
	})

	return &B2Backend{
		client:  client,
		bucket:  cfg.BucketID,
		breaker: breaker,
		retryer: retry.New(retry.DefaultConfig()),
	}, nil
}

// SetMetrics attaches the sink every failed call reports its error kind to.
// Separate from NewB2Backend so the adapter can build the metrics collector
// and the backend in either order.
func (b *B2Backend) SetMetrics(sink ErrorSink) {
	b.metrics = sink
}

// Ls lists every object in the bucket, paging through ListObjectsV2.
func (b *B2Backend) Ls(ctx context.Context, recursive bool) ([]rangecache.FileInfo, error) {
	var out []rangecache.FileInfo

	err := b.call(ctx, "Ls", b.bucket, func(ctx context.Context) error {
		out = out[:0]
		var continuationToken *string
		for {
			input := &s3.ListObjectsV2Input{
				Bucket:            aws.String(b.bucket),
				ContinuationToken: continuationToken,
			}
			result, err := b.client.ListObjectsV2(ctx, input)
			if err != nil {
				return err
			}
			for _, obj := range result.Contents {
				out = append(out, objectToFileInfo(obj))
			}
			if result.IsTruncated == nil || !*result.IsTruncated {
				return nil
			}
			continuationToken = result.NextContinuationToken
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func objectToFileInfo(obj s3types.Object) rangecache.FileInfo {
	key := aws.ToString(obj.Key)
	return rangecache.FileInfo{
		FileID:          key,
		FileName:        key,
		Size:            aws.ToInt64(obj.Size),
		UploadTimestamp: aws.ToTime(obj.LastModified).UnixMilli(),
		ContentSha1:     strings.Trim(aws.ToString(obj.ETag), `"`),
	}
}

// DownloadRange fetches the inclusive byte range [inclusiveLo, inclusiveHi]
// of fileID.
func (b *B2Backend) DownloadRange(ctx context.Context, fileID string, inclusiveLo, inclusiveHi int64) ([]byte, error) {
	var data []byte

	err := b.call(ctx, "DownloadRange", fileID, func(ctx context.Context) error {
		input := &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(fileID),
			Range:  aws.String(fmt.Sprintf("bytes=%d-%d", inclusiveLo, inclusiveHi)),
		}
		result, err := b.client.GetObject(ctx, input)
		if err != nil {
			return err
		}
		defer result.Body.Close()

		body, err := io.ReadAll(result.Body)
		if err != nil {
			return fmt.Errorf("read object body: %w", err)
		}
		data = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DeleteFileVersion removes fileID. Unused by the read-only core.
func (b *B2Backend) DeleteFileVersion(ctx context.Context, fileID, fileName string) error {
	return b.call(ctx, "DeleteFileVersion", fileID, func(ctx context.Context) error {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(fileID),
		})
		return err
	})
}

// UploadBytes stores data under fileName. Unused by the read-only core.
func (b *B2Backend) UploadBytes(ctx context.Context, data []byte, fileName string) error {
	return b.call(ctx, "UploadBytes", fileName, func(ctx context.Context) error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(fileName),
			Body:   bytes.NewReader(data),
		})
		return err
	})
}

// call runs fn through the circuit breaker wrapped in the retryer, then
// translates any surviving failure into a structured domain error.
func (b *B2Backend) call(ctx context.Context, operation, key string, fn func(context.Context) error) error {
	err := b.retryer.Do(ctx, func(ctx context.Context) error {
		breakerErr := b.breaker.ExecuteWithContext(ctx, fn)
		if breakerErr == nil {
			return nil
		}
		return translateError(breakerErr, operation, key)
	})
	if err == nil {
		return nil
	}
	var domainErr *b2errors.Error
	if errors.As(err, &domainErr) {
		if b.metrics != nil {
			b.metrics.RecordBucketError(string(domainErr.Kind))
		}
		return domainErr
	}
	wrapped := b2errors.RemoteFailure("bucket", fmt.Sprintf("%s(%s)", operation, key), err)
	if b.metrics != nil {
		b.metrics.RecordBucketError(string(b2errors.KindRemoteFailure))
	}
	return wrapped
}

func translateError(err error, operation, key string) error {
	var notFound *s3types.NoSuchKey
	if errors.As(err, &notFound) {
		return b2errors.NotFound("bucket", fmt.Sprintf("object not found: %s", key))
	}
	var noBucket *s3types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return b2errors.NotFound("bucket", fmt.Sprintf("bucket not found: %s", key))
	}
	return b2errors.RemoteFailure("bucket", fmt.Sprintf("%s failed for %s", operation, key), err)
}
