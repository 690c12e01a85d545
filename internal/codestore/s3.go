package codestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/config"
)

// S3Client is the subset of the S3 API used by [S3]. *s3.Client satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3 stores <prefix><id>.xcd objects with a <prefix><id>.meta sidecar.
type S3 struct {
	client S3Client
	bucket string
	prefix string
}

func NewS3(client S3Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// NewS3FromConfig loads AWS configuration (static credentials when both keys
// are set, the default chain otherwise) and builds the store.
func NewS3FromConfig(ctx context.Context, cfg config.StoreConfig) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("codestore: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}

		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3(client, cfg.Bucket, cfg.Prefix), nil
}

func (s *S3) dataKey(id string) string { return s.prefix + id + codes.Ext }
func (s *S3) metaKey(id string) string { return s.prefix + id + metaExt }

func (s *S3) Put(ctx context.Context, seq *codes.Sequence, meta Meta) (string, error) {
	meta, payload, err := prepare(seq, meta)
	if err != nil {
		return "", err
	}

	mb, err := encodeMeta(meta)
	if err != nil {
		return "", err
	}

	if err := s.put(ctx, s.dataKey(meta.ID), payload, "application/octet-stream"); err != nil {
		return "", err
	}

	if err := s.put(ctx, s.metaKey(meta.ID), mb, "application/msgpack"); err != nil {
		return "", err
	}

	return meta.ID, nil
}

func (s *S3) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("codestore: upload %s: %w", key, err)
	}

	return nil
}

func (s *S3) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}

		return nil, fmt.Errorf("codestore: download %s: %w", key, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("codestore: download %s: %w", key, err)
	}

	return b, nil
}

func (s *S3) Get(ctx context.Context, id string) (*Record, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	mb, err := s.get(ctx, s.metaKey(id))
	if err != nil {
		return nil, err
	}

	payload, err := s.get(ctx, s.dataKey(id))
	if err != nil {
		return nil, err
	}

	meta, err := decodeMeta(mb)
	if err != nil {
		return nil, err
	}

	return decodeRecord(meta, payload)
}

// Delete checks for the sidecar first since DeleteObject succeeds on missing keys.
func (s *S3) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.metaKey(id)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		return fmt.Errorf("codestore: delete %s: %w", id, err)
	}

	for _, key := range []string{s.metaKey(id), s.dataKey(id)} {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("codestore: delete %s: %w", key, err)
		}
	}

	return nil
}

func (s *S3) List(ctx context.Context) ([]Meta, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	var out []Meta
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("codestore: list: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, metaExt) {
				continue
			}

			mb, err := s.get(ctx, key)
			if err != nil {
				return nil, err
			}

			m, err := decodeMeta(mb)
			if err != nil {
				return nil, err
			}

			out = append(out, m)
		}
	}

	sortMeta(out)

	return out, nil
}

func (s *S3) Close() error { return nil }

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}

	return false
}

var (
	_ Store = (*Badger)(nil)
	_ Store = (*File)(nil)
	_ Store = (*S3)(nil)
)
