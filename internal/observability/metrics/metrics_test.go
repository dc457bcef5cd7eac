package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("source", "csv"),
		attribute.String("lot_number", "38112233"),
		attribute.String("outcome", "created"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	require.Contains(t, keys, attribute.Key("source"))
	require.Contains(t, keys, attribute.Key("outcome"))
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordRows(ctx, "csv", "created", 3)
	m.RecordFeedFetch(ctx, "new", 200)
	m.RecordFeedBytes(ctx, "new", 10)
	m.RecordAnomalies(ctx, "iqr", "too_high", 1)
	m.ObserveRun(ctx, "import", time.Second, false)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "carlot-test"}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordRows(context.Background(), "csv", "updated", 2)
}
