package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store is a Store backed by an S3 (or S3-compatible) bucket. Keys map
// directly onto object keys under bucket/prefix; there is no staging or
// conditional-write machinery — mutation safety is the caller's
// responsibility via pkg/lock.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store creates an S3Store for the s3://bucket/prefix root. If endpoint
// is non-empty, the client is configured for S3-compatible storage (e.g.
// MinIO) with path-style addressing.
func NewS3Store(ctx context.Context, root, endpoint string) (*S3Store, error) {
	bucket, prefix, err := parseS3URI(root)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, clientOpts...)
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

func parseS3URI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("invalid s3 uri %q", uri)
	}
	trim := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(trim, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in uri %q", uri)
	}
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}

func (s *S3Store) key(k string) string {
	return keyJoin(s.prefix, k)
}

func keyJoin(prefix, k string) string {
	if k == "" {
		return strings.TrimSuffix(prefix, "/")
	}
	k = path.Clean(k)
	if k == "." {
		return strings.TrimSuffix(prefix, "/")
	}
	k = strings.TrimPrefix(k, "/")
	if prefix == "" {
		return k
	}
	return strings.TrimSuffix(prefix, "/") + "/" + k
}

// List returns every key whose store-relative form equals prefix or begins
// with prefix + "/". The S3 Prefix filter is a plain string-prefix match, so
// it alone would also return sibling keys like "zlib/1.2.11/_/_10/..." for a
// prefix of "zlib/1.2.11/_/_" (no separator between them); List re-checks
// the boundary itself the same way MemStore.List does, rather than trusting
// ListObjectsV2's Prefix to enforce it.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	base := s.key(prefix)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(base),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			rel := strings.TrimPrefix(*obj.Key, s.prefixStr())
			rel = strings.TrimPrefix(rel, "/")
			if prefix != "" && rel != prefix && !strings.HasPrefix(rel, prefix+"/") {
				continue
			}
			out = append(out, rel)
		}
	}
	return out, nil
}

func (s *S3Store) prefixStr() string {
	return strings.TrimSuffix(s.prefix, "/")
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err == nil {
		return true, nil
	}
	var nfe *s3types.NotFound
	if errors.As(err, &nfe) {
		return false, nil
	}
	return false, err
}

func (s *S3Store) Value(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer obj.Body.Close()
	return io.ReadAll(obj.Body)
}

func (s *S3Store) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	return err
}
