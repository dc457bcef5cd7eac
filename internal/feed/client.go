package feed

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smallbiznis/carlot/internal/observability/metrics"
	obstracing "github.com/smallbiznis/carlot/internal/observability/tracing"
	"go.uber.org/zap"
)

// Kind selects one of the two companion snapshots published per date.
type Kind string

const (
	KindActive  Kind = "active_offer"
	KindRemoved Kind = "removed_offer"
)

const DateLayout = "2006-01-02"

type Config struct {
	Host     string
	Username string
	Password string

	Comma     rune
	ChunkSize int
	MaxLine   int

	// ConnectTimeout and HeaderTimeout bound the download; the body itself
	// may stream for as long as it takes.
	ConnectTimeout time.Duration
	HeaderTimeout  time.Duration
	Attempts       int
	RetryWait      time.Duration
	RetryMaxWait   time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.HeaderTimeout <= 0 {
		c.HeaderTimeout = 5 * time.Minute
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.RetryWait <= 0 {
		c.RetryWait = time.Second
	}
	if c.RetryMaxWait <= 0 {
		c.RetryMaxWait = 8 * time.Second
	}
	return c
}

// Validate reports configuration errors that must stop a run before any request.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return ErrMissingHost
	}
	if strings.TrimSpace(c.Username) == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Client downloads date-partitioned feed snapshots.
type Client struct {
	cfg     Config
	http    *resty.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewClient(cfg Config, log *zap.Logger, m *metrics.Metrics) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	cfg.Host = strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if log == nil {
		log = zap.NewNop()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = cfg.HeaderTimeout
	httpClient := obstracing.WrapHTTPClient(&http.Client{Transport: transport})

	logger := log.Named("feed.client")
	rc := resty.NewWithClient(httpClient).
		SetRetryCount(cfg.Attempts - 1).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			switch resp.StatusCode() {
			case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				return true
			}
			return false
		}).
		AddRetryHook(func(resp *resty.Response, err error) {
			status := 0
			if resp != nil {
				status = resp.StatusCode()
				if body := resp.RawBody(); body != nil {
					_ = body.Close()
				}
			}
			logger.Warn("feed request failed, retrying",
				zap.Int("status", status),
				zap.Error(obstracing.SafeError(err)),
			)
		})

	return &Client{cfg: cfg, http: rc, log: logger, metrics: m}, nil
}

// URL builds the snapshot location for date and kind.
func (c *Client) URL(date string, kind Kind) string {
	return fmt.Sprintf("%s/encar/%s/%s.csv", c.cfg.Host, date, kind)
}

// Open starts streaming the snapshot. It returns ErrNoData on 404 and an
// error wrapping ErrDownload once retries are exhausted.
func (c *Client) Open(ctx context.Context, date string, kind Kind) (*Stream, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	url := c.URL(date, kind)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.Username, c.cfg.Password).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		c.metrics.RecordFeedFetch(ctx, string(kind), 0)
		return nil, fmt.Errorf("%w: %s: %w: %v", ErrDownload, kind, metrics.ErrUpstream, obstracing.SafeError(err))
	}

	status := resp.StatusCode()
	c.metrics.RecordFeedFetch(ctx, string(kind), status)
	body := resp.RawBody()

	switch {
	case status == http.StatusNotFound:
		if body != nil {
			_ = body.Close()
		}
		return nil, ErrNoData
	case status < 200 || status >= 300:
		if body != nil {
			_ = body.Close()
		}
		return nil, fmt.Errorf("%w: %s: %w: status %d", ErrDownload, kind, metrics.ErrUpstream, status)
	}

	c.log.Info("feed opened",
		zap.String("kind", string(kind)),
		zap.String("date", date),
		zap.Int("status", status),
	)

	stream := NewStream(body, StreamOptions{
		Comma:     c.cfg.Comma,
		ChunkSize: c.cfg.ChunkSize,
		MaxLine:   c.cfg.MaxLine,
	})
	stream.onDone = func(n int64) {
		c.metrics.RecordFeedBytes(ctx, string(kind), n)
	}
	return stream, nil
}
