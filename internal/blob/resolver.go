// Package blob resolves opaque attachment references into time-limited
// download URLs. References are "bucket/object" strings and are never
// interpreted beyond that split.
package blob

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Resolver struct {
	client *minio.Client
	ttl    time.Duration
}

func NewResolver(endpoint, accessKey, secretKey string, useSSL bool, ttl time.Duration) (*Resolver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}
	return &Resolver{client: client, ttl: ttl}, nil
}

// SplitRef validates a reference and returns its bucket and object parts.
func SplitRef(ref string) (bucket, object string, err error) {
	bucket, object, ok := strings.Cut(ref, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed attachment reference %q", ref)
	}
	return bucket, object, nil
}

// ResolveURL returns a presigned GET URL valid for the configured TTL.
func (r *Resolver) ResolveURL(ctx context.Context, ref string) (string, error) {
	bucket, object, err := SplitRef(ref)
	if err != nil {
		return "", err
	}
	presigned, err := r.client.PresignedGetObject(ctx, bucket, object, r.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign attachment: %w", err)
	}
	return presigned.String(), nil
}
