package cloudmetrics

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	obstracing "github.com/smallbiznis/carlot/internal/observability/tracing"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

// RemoteWritePusher posts a snappy-compressed prompb.WriteRequest to a
// Prometheus remote_write endpoint.
type RemoteWritePusher struct {
	endpoint string
	client   *resty.Client
	now      func() time.Time
}

func NewRemoteWritePusher(endpoint, authToken string) *RemoteWritePusher {
	client := resty.NewWithClient(obstracing.WrapHTTPClient(&http.Client{Timeout: pushTimeout})).
		SetHeader("Content-Type", "application/x-protobuf").
		SetHeader("Content-Encoding", "snappy").
		SetHeader("X-Prometheus-Remote-Write-Version", "0.1.0")
	if token := strings.TrimSpace(authToken); token != "" {
		client.SetAuthToken(token)
	}
	return &RemoteWritePusher{endpoint: endpoint, client: client, now: time.Now}
}

func (p *RemoteWritePusher) Push(ctx context.Context, gatherer prometheus.Gatherer) error {
	if p == nil || gatherer == nil {
		return nil
	}
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	series := toTimeSeries(families, p.now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	payload, err := proto.Marshal(protoadapt.MessageV2Of(&prompb.WriteRequest{Timeseries: series}))
	if err != nil {
		return fmt.Errorf("encode write request: %w", err)
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(snappy.Encode(nil, payload)).
		Post(p.endpoint)
	if err != nil {
		return fmt.Errorf("remote write: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("remote write returned %s", resp.Status())
	}
	return nil
}

// toTimeSeries flattens counters and gauges into one series each and
// histograms into their _bucket, _sum and _count series. Summaries are
// skipped.
func toTimeSeries(families []*dto.MetricFamily, ts int64) []prompb.TimeSeries {
	var out []prompb.TimeSeries
	add := func(name string, m *dto.Metric, value float64, extra ...prompb.Label) {
		labels := make([]prompb.Label, 0, len(m.GetLabel())+len(extra)+1)
		labels = append(labels, prompb.Label{Name: "__name__", Value: name})
		for _, l := range m.GetLabel() {
			labels = append(labels, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
		}
		labels = append(labels, extra...)
		slices.SortFunc(labels, func(a, b prompb.Label) int { return strings.Compare(a.Name, b.Name) })
		out = append(out, prompb.TimeSeries{
			Labels:  labels,
			Samples: []prompb.Sample{{Value: value, Timestamp: ts}},
		})
	}

	for _, fam := range families {
		name := fam.GetName()
		for _, m := range fam.GetMetric() {
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				if c := m.GetCounter(); c != nil {
					add(name, m, c.GetValue())
				}
			case dto.MetricType_GAUGE:
				if g := m.GetGauge(); g != nil {
					add(name, m, g.GetValue())
				}
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				if h == nil {
					continue
				}
				for _, b := range h.GetBucket() {
					le := strconv.FormatFloat(b.GetUpperBound(), 'g', -1, 64)
					add(name+"_bucket", m, float64(b.GetCumulativeCount()), prompb.Label{Name: "le", Value: le})
				}
				add(name+"_bucket", m, float64(h.GetSampleCount()), prompb.Label{Name: "le", Value: "+Inf"})
				add(name+"_sum", m, h.GetSampleSum())
				add(name+"_count", m, float64(h.GetSampleCount()))
			}
		}
	}
	return out
}
