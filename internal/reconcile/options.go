package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/carlot/internal/config"
)

type Policy string

const (
	// PolicyUpsert inserts new lots and rewrites existing ones.
	PolicyUpsert Policy = "upsert"
	// PolicyInsertOnly inserts new lots and leaves existing ones untouched.
	PolicyInsertOnly Policy = "insert-only"
)

// ParsePolicy accepts the policy names used by flags and pipeline.yml.
func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(PolicyUpsert):
		return PolicyUpsert, nil
	case string(PolicyInsertOnly), "insert_only", "insertonly":
		return PolicyInsertOnly, nil
	default:
		return "", fmt.Errorf("unknown import policy %q", raw)
	}
}

type Options struct {
	ChunkSize       int
	CreateBatchSize int
	UpdateBatchSize int
	DeleteBatchSize int
	Policy          Policy
	DryRun          bool
	Progress        bool
	ProgressEvery   int
	// MaxRows stops reading after this many rows. Zero reads everything.
	MaxRows     int
	MaxWarnings int
	// Schema routes writes through SET LOCAL search_path on postgres.
	Schema string
	// OnProgress receives progress snapshots when Progress is set. Without
	// it progress goes to the logger.
	OnProgress func(Summary)
}

// OptionsFromPipeline seeds options with the pipeline.yml import defaults.
func OptionsFromPipeline(d config.ImportDefaults) Options {
	policy, err := ParsePolicy(d.Policy)
	if err != nil {
		policy = PolicyUpsert
	}
	return Options{
		ChunkSize:       d.ChunkSize,
		CreateBatchSize: d.CreateBatchSize,
		UpdateBatchSize: d.UpdateBatchSize,
		DeleteBatchSize: d.DeleteBatchSize,
		ProgressEvery:   d.ProgressEvery,
		MaxWarnings:     d.MaxWarnings,
		Policy:          policy,
	}
}

var ErrInvalidOptions = errors.New("invalid reconcile options")

func (o Options) withDefaults() Options {
	d := OptionsFromPipeline(config.DefaultPipelineConfig().Import)
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.CreateBatchSize <= 0 {
		o.CreateBatchSize = d.CreateBatchSize
	}
	if o.UpdateBatchSize <= 0 {
		o.UpdateBatchSize = d.UpdateBatchSize
	}
	if o.DeleteBatchSize <= 0 {
		o.DeleteBatchSize = d.DeleteBatchSize
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = d.ProgressEvery
	}
	if o.MaxWarnings <= 0 {
		o.MaxWarnings = d.MaxWarnings
	}
	if o.Policy == "" {
		o.Policy = PolicyUpsert
	}
	return o
}

func (o Options) validate() error {
	if o.MaxRows < 0 {
		return fmt.Errorf("%w: max rows must not be negative", ErrInvalidOptions)
	}
	switch o.Policy {
	case PolicyUpsert, PolicyInsertOnly:
	default:
		return fmt.Errorf("%w: policy %q", ErrInvalidOptions, o.Policy)
	}
	return nil
}
