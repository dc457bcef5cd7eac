// Package anomaly scores inventory prices against comparable cars and
// reports the outliers.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carlot/internal/clock"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Repo    domain.Repository
	Log     *zap.Logger
	Clock   clock.Clock
	GenID   *snowflake.Node
	Ingest  *metrics.IngestMetrics `optional:"true"`
	Metrics *metrics.Metrics       `optional:"true"`
}

type Detector struct {
	db      *gorm.DB
	repo    domain.Repository
	log     *zap.Logger
	clock   clock.Clock
	genID   *snowflake.Node
	ingest  *metrics.IngestMetrics
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewDetector(p Params) *Detector {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Detector{
		db:      p.DB,
		repo:    p.Repo,
		log:     log.Named("anomaly"),
		clock:   clk,
		genID:   p.GenID,
		ingest:  p.Ingest,
		metrics: p.Metrics,
		tracer:  otel.Tracer("carlot/anomaly"),
	}
}

// Options select the cars and tune the method.
type Options struct {
	Method         string
	Params         MethodParams
	Filter         domain.SampleFilter
	SeverityFilter float64
	Limit          int
}

// Result is the outcome of a single method, already filtered and ordered
// by descending severity.
type Result struct {
	Method   string
	Stats    Stats
	Findings []Finding
}

// Detect loads the samples and scores them with the named method.
func (d *Detector) Detect(ctx context.Context, opts Options) (Result, error) {
	m, err := Lookup(opts.Method)
	if err != nil {
		return Result{}, err
	}
	ctx, span := d.tracer.Start(ctx, "anomaly.detect", trace.WithAttributes(attribute.String("method", m.Name())))
	defer span.End()

	samples, err := d.samples(ctx, opts.Filter)
	if err != nil {
		return Result{}, err
	}

	findings, stats, err := m.Detect(samples, opts.Params)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", m.Name(), err)
	}
	d.record(ctx, m.Name(), findings)

	sortFindings(findings)
	findings = filterFindings(findings, opts.SeverityFilter, opts.Limit)

	d.log.Info("anomaly detection finished",
		zap.String("method", m.Name()),
		zap.Int("total_cars", stats.TotalCars),
		zap.Int("groups", stats.Groups),
		zap.Int("groups_skipped", stats.GroupsSkipped),
		zap.Int("anomalies", stats.AnomalyCount),
		zap.Int("reported", len(findings)),
	)
	return Result{Method: m.Name(), Stats: stats, Findings: findings}, nil
}

// Summary runs every method. Flagged cars below the severity filter (as a
// sum across methods) are dropped and the list is cut to limit.
func (d *Detector) Summary(ctx context.Context, opts Options) (SummaryReport, error) {
	ctx, span := d.tracer.Start(ctx, "anomaly.summary")
	defer span.End()

	samples, err := d.samples(ctx, opts.Filter)
	if err != nil {
		return SummaryReport{}, err
	}
	report, err := Summarize(ctx, samples, opts.Params)
	if err != nil {
		return SummaryReport{}, err
	}
	for _, c := range report.Flagged {
		for _, f := range c.Findings {
			d.record(ctx, f.Method, []Finding{f})
		}
	}

	kept := report.Flagged[:0]
	for _, c := range report.Flagged {
		if c.SeveritySum < opts.SeverityFilter {
			continue
		}
		kept = append(kept, c)
	}
	if opts.Limit > 0 && len(kept) > opts.Limit {
		kept = kept[:opts.Limit]
	}
	report.Flagged = kept

	for name, msg := range report.Errors {
		d.log.Warn("anomaly method failed", zap.String("method", name), zap.String("error", msg))
	}
	d.log.Info("anomaly summary finished",
		zap.Int("total_unique", report.TotalUnique),
		zap.Int("high_confidence", report.HighConfidence),
	)
	return report, nil
}

// Save persists findings under method. With overwrite, earlier findings of
// the same method are replaced in the same transaction.
func (d *Detector) Save(ctx context.Context, method string, findings []Finding, overwrite bool, runID int64) (int, error) {
	if method == MethodSummary {
		return 0, ErrSummaryNotSave
	}
	if d.genID == nil {
		return 0, errors.New("anomaly: id generator is not configured")
	}
	now := d.clock.Now()
	rows := make([]domain.PriceAnomaly, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, domain.PriceAnomaly{
			ID:           d.genID.Generate().Int64(),
			CarID:        f.Sample.CarID,
			LotNumber:    f.Sample.LotNumber,
			Method:       f.Method,
			AnomalyType:  f.Type,
			Severity:     f.Severity,
			Price:        f.Sample.Price,
			ExpectedLow:  f.ExpectedLow,
			ExpectedHigh: f.ExpectedHigh,
			GroupKey:     f.GroupKey,
			Score:        f.Score,
			RunID:        runID,
			DetectedAt:   now,
		})
	}
	if err := d.repo.SaveAnomalies(ctx, d.db, []string{method}, overwrite, rows); err != nil {
		return 0, fmt.Errorf("save anomalies: %w", err)
	}
	d.log.Info("anomalies saved",
		zap.String("method", method),
		zap.Int("count", len(rows)),
		zap.Bool("overwrite", overwrite),
	)
	return len(rows), nil
}

// List returns persisted findings, most severe first.
func (d *Detector) List(ctx context.Context, filter domain.AnomalyFilter) ([]domain.PriceAnomaly, error) {
	return d.repo.ListAnomalies(ctx, d.db, filter)
}

func (d *Detector) samples(ctx context.Context, filter domain.SampleFilter) ([]Sample, error) {
	samples, err := d.repo.ListPriceSamples(ctx, d.db, filter)
	if err != nil {
		return nil, fmt.Errorf("load price samples: %w", err)
	}
	if len(samples) == 0 {
		return nil, ErrNoCars
	}
	return samples, nil
}

func (d *Detector) record(ctx context.Context, method string, findings []Finding) {
	counts := map[string]int{}
	for _, f := range findings {
		counts[f.Type]++
	}
	for typ, n := range counts {
		d.ingest.AddAnomalies(method, typ, n)
		d.metrics.RecordAnomalies(ctx, method, typ, n)
	}
}

func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return findings[i].Severity > findings[j].Severity
		}
		return findings[i].Sample.CarID < findings[j].Sample.CarID
	})
}

func filterFindings(findings []Finding, minSeverity float64, limit int) []Finding {
	out := findings[:0]
	for _, f := range findings {
		if f.Severity < minSeverity {
			continue
		}
		out = append(out, f)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
