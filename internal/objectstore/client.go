// Package objectstore reads feed dumps from an S3 compatible bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/smallbiznis/carlot/internal/config"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("object store is not configured")
	ErrNotFound      = errors.New("object not found")
)

const (
	defaultMaxTries = 3
	defaultInitial  = time.Second
)

type Client struct {
	mc       *minio.Client
	bucket   string
	key      string
	log      *zap.Logger
	maxTries uint
	initial  time.Duration
}

// New builds a client from cfg. Endpoint may be a bare host or a URL; a URL
// scheme overrides UseSSL.
func New(cfg config.ObjectStoreConfig, log *zap.Logger) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" || strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, ErrNotConfigured
	}
	secure := cfg.UseSSL
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse object store endpoint: %w", err)
		}
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		mc:       mc,
		bucket:   strings.TrimSpace(cfg.Bucket),
		key:      strings.TrimSpace(cfg.Key),
		log:      log.Named("objectstore"),
		maxTries: defaultMaxTries,
		initial:  defaultInitial,
	}, nil
}

// Open streams bucket/key. Empty arguments fall back to the configured
// bucket and key. Transient failures are retried with exponential backoff;
// a missing object is not.
func (c *Client) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		bucket = c.bucket
	}
	if key = strings.TrimSpace(key); key == "" {
		key = c.key
	}
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: bucket and key are required", ErrNotConfigured)
	}

	log := c.log.With(zap.String("bucket", bucket), zap.String("key", key))
	obj, err := withRetry(ctx, c.maxTries, c.initial, log, func() (*minio.Object, error) {
		return c.openOnce(ctx, bucket, key)
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (c *Client) openOnce(ctx context.Context, bucket, key string) (*minio.Object, error) {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, classify(err)
	}
	c.log.Info("object opened",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("size", info.Size),
		zap.String("etag", info.ETag),
	)
	return obj, nil
}

// classify marks errors that retrying cannot fix as permanent.
func classify(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, resp.Message))
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized || resp.Code == "AccessDenied":
		return backoff.Permanent(fmt.Errorf("object store access denied: %w", err))
	}
	return err
}

func withRetry[T any](ctx context.Context, maxTries uint, initial time.Duration, log *zap.Logger, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("object store fetch failed, retrying", zap.Error(err), zap.Duration("wait", wait))
		}),
	)
}
