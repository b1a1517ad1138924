// Package objectstore mirrors reduced pipeline outputs into an S3-compatible
// store so processed products survive workspace deletion.
package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketReduced)
	if err != nil {
		return fmt.Errorf("reduced bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, cfg.BucketReduced, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("make reduced bucket: %w", err)
	}
	return nil
}

func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	exists, err := client.BucketExists(ctx, cfg.BucketReduced)
	if err != nil {
		return fmt.Errorf("reduced bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("reduced bucket missing: %s", cfg.BucketReduced)
	}
	return nil
}

// MirrorFile uploads a local file under the given object key.
func MirrorFile(ctx context.Context, client *minio.Client, cfg Config, key string, path string) error {
	_, err := client.FPutObject(ctx, cfg.BucketReduced, key, path, minio.PutObjectOptions{
		ContentType: "application/fits",
	})
	if err != nil {
		return fmt.Errorf("mirror %s: %w", key, err)
	}
	return nil
}

// RemoveMirror deletes a mirrored object. Missing objects are not an error.
func RemoveMirror(ctx context.Context, client *minio.Client, cfg Config, key string) error {
	err := client.RemoveObject(ctx, cfg.BucketReduced, key, minio.RemoveObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("remove mirror %s: %w", key, err)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
