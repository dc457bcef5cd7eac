// Package cloudmetrics pushes the process registry to a Prometheus endpoint
// at the end of a run. Short-lived CLI runs are gone before any scrape.
package cloudmetrics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/carlot/internal/config"
	"go.uber.org/zap"
)

const (
	ExporterRemoteWrite = "remote_write"
	ExporterPushgateway = "pushgateway"

	pushTimeout = 5 * time.Second
)

// Pusher sends one snapshot of gathered metrics. It never serves /metrics
// and never starts goroutines.
type Pusher interface {
	Push(ctx context.Context, gatherer prometheus.Gatherer) error
}

var exporterAliases = map[string]string{
	ExporterRemoteWrite:       ExporterRemoteWrite,
	"prometheus_remote_write": ExporterRemoteWrite,
	ExporterPushgateway:       ExporterPushgateway,
	"prometheus_pushgateway":  ExporterPushgateway,
}

// NewPusher picks the exporter named in cfg.Metrics. An unusable setting
// is logged and returns nil, so metrics never block an import.
func NewPusher(cfg config.Config, log *zap.Logger) Pusher {
	if log == nil {
		log = zap.NewNop()
	}
	m := cfg.Metrics
	raw := strings.ToLower(strings.TrimSpace(m.Exporter))
	if raw == "" {
		return nil
	}
	exporter, ok := exporterAliases[raw]
	if !ok {
		log.Warn("metrics push disabled, unknown exporter", zap.String("exporter", raw))
		return nil
	}
	endpoint := strings.TrimSpace(m.Endpoint)
	if endpoint == "" {
		log.Warn("metrics push disabled, METRICS_PUSH_ENDPOINT is empty", zap.String("exporter", exporter))
		return nil
	}

	if exporter == ExporterPushgateway {
		job := firstNonBlank(m.Job, cfg.AppName)
		return NewPushgatewayPusher(endpoint, job, map[string]string{"environment": cfg.Environment})
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		log.Warn("metrics push disabled", zap.Error(fmt.Errorf("invalid METRICS_PUSH_ENDPOINT: %w", err)))
		return nil
	}
	return NewRemoteWritePusher(endpoint, m.AuthToken)
}

// PushOnce pushes a final snapshot even when ctx is already cancelled,
// bounded by its own timeout. Failures are logged only.
func PushOnce(ctx context.Context, p Pusher, gatherer prometheus.Gatherer, log *zap.Logger) {
	if p == nil || gatherer == nil {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()

	start := time.Now()
	if err := p.Push(ctx, gatherer); err != nil {
		log.Warn("metrics push failed", zap.Error(err))
		return
	}
	log.Debug("metrics pushed", zap.Duration("took", time.Since(start)))
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
