package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/smallbiznis/carlot/internal/anomaly"
	"github.com/smallbiznis/carlot/internal/config"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/runlock"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const commandDetectAnomalies = "detect-anomalies"

func detectAnomaliesCommand() *cli.Command {
	d := config.DefaultPipelineConfig().Anomaly
	return &cli.Command{
		Name:  commandDetectAnomalies,
		Usage: "Flag cars priced far from comparable cars",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "method", Value: d.Method, Usage: "iqr, zscore, manufacturer_baseline, year_depreciation or summary"},
			&cli.StringSliceFlag{Name: "group-by", Usage: "grouping fields (default manufacturer,model,year)"},
			&cli.IntFlag{Name: "min-group-size", Value: d.MinGroupSize, Usage: "smallest group that gets scored"},
			&cli.FloatFlag{Name: "k", Value: d.K, Usage: "IQR fence multiplier"},
			&cli.FloatFlag{Name: "threshold", Usage: "z-score or ratio threshold (0 uses the method default)"},
			&cli.StringFlag{Name: "output-format", Value: anomaly.FormatTable, Usage: strings.Join(anomaly.Formats, ", ")},
			&cli.StringFlag{Name: "output", Usage: "write the report to FILE instead of stdout"},
			&cli.FloatFlag{Name: "severity-filter", Value: d.SeverityFilter, Usage: "minimum severity reported"},
			&cli.IntFlag{Name: "limit", Usage: "report at most N findings"},
			&cli.BoolFlag{Name: "save-to-db", Usage: "persist the findings"},
			&cli.BoolFlag{Name: "overwrite", Usage: "replace stored findings of the same method"},
			&cli.StringFlag{Name: "manufacturer", Usage: "only score this manufacturer"},
			&cli.StringFlag{Name: "category", Usage: "only score this category"},
			&cli.IntFlag{Name: "min-year", Usage: "only score cars from this year on"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			pipe, err := loadPipeline(cmd)
			if err != nil {
				return err
			}
			opts, err := anomalyOptions(cmd, pipe.Anomaly)
			if err != nil {
				return err
			}
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			save := cmd.Bool("save-to-db")

			return withRuntime(ctx, commandDetectAnomalies, !save, func(ctx context.Context, rt *runtime) error {
				report, err := runDetection(ctx, rt.detector(), opts)
				if errors.Is(err, anomaly.ErrNoCars) {
					fmt.Fprintln(stdout(cmd), "No cars found in database.")
					return nil
				}
				if err != nil {
					return err
				}
				report.GeneratedAt = rt.clock.Now()

				if err := writeReport(ctx, cmd, format, report); err != nil {
					return err
				}
				if !save {
					return nil
				}
				return runlock.Run(ctx, rt.locker, commandDetectAnomalies, func(ctx context.Context) error {
					return saveFindings(ctx, rt, report, cmd.Bool("overwrite"))
				})
			})
		},
	}
}

func anomalyOptions(cmd *cli.Command, d config.AnomalyDefaults) (anomaly.Options, error) {
	method := strings.ToLower(strings.TrimSpace(cmd.String("method")))
	if !cmd.IsSet("method") && d.Method != "" {
		method = d.Method
	}
	if method != anomaly.MethodSummary {
		m, err := anomaly.Lookup(method)
		if err != nil {
			return anomaly.Options{}, err
		}
		method = m.Name()
	}

	groupBy := d.GroupBy
	if cmd.IsSet("group-by") {
		groupBy = splitFields(cmd.StringSlice("group-by"))
	}
	if len(groupBy) == 0 {
		groupBy = anomaly.DefaultGroupBy
	}
	if err := anomaly.ValidateGroupBy(groupBy); err != nil {
		return anomaly.Options{}, err
	}

	params := anomaly.MethodParams{
		GroupBy:      groupBy,
		MinGroupSize: d.MinGroupSize,
		K:            d.K,
		Threshold:    d.Threshold,
	}
	if cmd.IsSet("min-group-size") || params.MinGroupSize <= 0 {
		params.MinGroupSize = int(cmd.Int("min-group-size"))
	}
	if cmd.IsSet("k") || params.K <= 0 {
		params.K = cmd.Float("k")
	}
	if cmd.IsSet("threshold") {
		params.Threshold = cmd.Float("threshold")
	}
	severity := d.SeverityFilter
	if cmd.IsSet("severity-filter") {
		severity = cmd.Float("severity-filter")
	}

	return anomaly.Options{
		Method: method,
		Params: params,
		Filter: domain.SampleFilter{
			Manufacturer: strings.TrimSpace(cmd.String("manufacturer")),
			Category:     strings.TrimSpace(cmd.String("category")),
			MinYear:      int(cmd.Int("min-year")),
		},
		SeverityFilter: severity,
		Limit:          int(cmd.Int("limit")),
	}, nil
}

// splitFields accepts both repeated flags and comma lists.
func splitFields(values []string) []string {
	var out []string
	for _, v := range values {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				out = append(out, f)
			}
		}
	}
	return out
}

// outputFormat honours --output-format and otherwise guesses from the
// --output extension.
func outputFormat(cmd *cli.Command) (string, error) {
	format := strings.ToLower(strings.TrimSpace(cmd.String("output-format")))
	if !cmd.IsSet("output-format") {
		if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(cmd.String("output"))), "."); slices.Contains(anomaly.Formats, ext) {
			format = ext
		}
	}
	if !slices.Contains(anomaly.Formats, format) {
		return "", fmt.Errorf("%w: %q", anomaly.ErrUnknownFormat, format)
	}
	return format, nil
}

func runDetection(ctx context.Context, d *anomaly.Detector, opts anomaly.Options) (anomaly.Report, error) {
	if opts.Method == anomaly.MethodSummary {
		summary, err := d.Summary(ctx, opts)
		if err != nil {
			return anomaly.Report{}, err
		}
		return anomaly.Report{Summary: &summary}, nil
	}
	result, err := d.Detect(ctx, opts)
	if err != nil {
		return anomaly.Report{}, err
	}
	return anomaly.Report{Result: &result}, nil
}

func writeReport(ctx context.Context, cmd *cli.Command, format string, report anomaly.Report) error {
	w := stdout(cmd)
	path := strings.TrimSpace(cmd.String("output"))
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := anomaly.Write(ctx, w, format, report); err != nil {
		return err
	}
	if path != "" {
		fmt.Fprintf(stdout(cmd), "Report written to %s\n", path)
	}
	return nil
}

// saveFindings persists the report under a run record. A summary is
// stored per underlying method.
func saveFindings(ctx context.Context, rt *runtime, report anomaly.Report, overwrite bool) error {
	byMethod := map[string][]anomaly.Finding{}
	var methods []string
	if report.Result != nil {
		methods = []string{report.Result.Method}
		byMethod[report.Result.Method] = report.Result.Findings
	} else {
		methods = report.Summary.Methods
		for _, c := range report.Summary.Flagged {
			for _, f := range c.Findings {
				byMethod[f.Method] = append(byMethod[f.Method], f)
			}
		}
	}

	runs := rt.runs()
	run, err := runs.Start(ctx, commandDetectAnomalies, "")
	if err != nil {
		return fmt.Errorf("start run record: %w", err)
	}
	detector := rt.detector()
	var saved int
	var saveErr error
	for _, method := range methods {
		n, err := detector.Save(ctx, method, byMethod[method], overwrite, run.ID)
		if err != nil {
			saveErr = errors.Join(saveErr, fmt.Errorf("save %s: %w", method, err))
			continue
		}
		saved += n
	}
	runs.Finish(ctx, run, domain.RunOutcome{Created: int64(saved), Err: saveErr})
	if saveErr != nil {
		return saveErr
	}
	rt.log.Info("anomalies persisted", zap.Int("saved", saved), zap.Int64("run_id", run.ID))
	fmt.Fprintf(os.Stderr, "Saved %d anomalies to database.\n", saved)
	return nil
}
