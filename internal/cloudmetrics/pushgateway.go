package cloudmetrics

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushgatewayPusher replaces the job's metric group on a Pushgateway.
type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	clean := make(map[string]string, len(grouping))
	for k, v := range grouping {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			clean[k] = v
		}
	}
	return &PushgatewayPusher{
		endpoint: strings.TrimSpace(endpoint),
		job:      strings.TrimSpace(job),
		grouping: clean,
	}
}

func (p *PushgatewayPusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	switch {
	case p == nil || gatherer == nil:
		return nil
	case p.endpoint == "":
		return errors.New("pushgateway endpoint is required")
	case p.job == "":
		return errors.New("pushgateway job is required")
	}

	req := push.New(p.endpoint, p.job).Gatherer(gatherer)
	for _, k := range slices.Sorted(maps.Keys(p.grouping)) {
		req = req.Grouping(k, p.grouping[k])
	}
	return req.PushContext(ctx)
}
