package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PipelineConfig carries tunables that operators adjust without a redeploy.
type PipelineConfig struct {
	Import    ImportDefaults   `mapstructure:"import"`
	Anomaly   AnomalyDefaults  `mapstructure:"anomaly"`
	Scheduler SchedulerOptions `mapstructure:"scheduler"`
}

type ImportDefaults struct {
	ChunkSize       int    `mapstructure:"chunkSize"`
	CreateBatchSize int    `mapstructure:"createBatchSize"`
	UpdateBatchSize int    `mapstructure:"updateBatchSize"`
	DeleteBatchSize int    `mapstructure:"deleteBatchSize"`
	ProgressEvery   int    `mapstructure:"progressEvery"`
	MaxWarnings     int    `mapstructure:"maxWarnings"`
	Policy          string `mapstructure:"policy"`
}

type AnomalyDefaults struct {
	Method         string   `mapstructure:"method"`
	GroupBy        []string `mapstructure:"groupBy"`
	MinGroupSize   int      `mapstructure:"minGroupSize"`
	K              float64  `mapstructure:"k"`
	Threshold      float64  `mapstructure:"threshold"`
	SeverityFilter float64  `mapstructure:"severityFilter"`
}

type SchedulerOptions struct {
	Interval          time.Duration   `mapstructure:"interval"`
	Jobs              map[string]bool `mapstructure:"jobs"`
	ExpireAuctionDays int             `mapstructure:"expireAuctionDays"`
	// Protect lists table.column references whose cars are never expired.
	Protect []string `mapstructure:"protect"`
	Schemas []string `mapstructure:"schemas"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Import: ImportDefaults{
			ChunkSize:       500,
			CreateBatchSize: 100,
			UpdateBatchSize: 100,
			DeleteBatchSize: 1000,
			ProgressEvery:   1000,
			MaxWarnings:     10,
			Policy:          "upsert",
		},
		Anomaly: AnomalyDefaults{
			Method:         "iqr",
			GroupBy:        []string{"manufacturer", "model", "year"},
			MinGroupSize:   5,
			K:              1.5,
			SeverityFilter: 1.0,
		},
		Scheduler: SchedulerOptions{
			Interval: 24 * time.Hour,
			Jobs: map[string]bool{
				"daily_import":     true,
				"detect_anomalies": true,
				"expire_auctions":  false,
			},
		},
	}
}

type PipelineConfigHolder struct {
	current atomic.Value // holds PipelineConfig
}

// NewPipelineConfigHolder reads pipeline.yml from path, or from the default
// search paths when path is empty, and keeps it fresh on file changes.
func NewPipelineConfigHolder(path string) (*PipelineConfigHolder, error) {
	v := viper.New()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pipeline")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/carlot/config")
		v.AddConfigPath("/etc/carlot")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CARLOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		found = false
	}

	cfg, err := decodePipelineConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &PipelineConfigHolder{}
	holder.current.Store(cfg)

	if !found {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		// zap.L is the process logger by the time a reload fires.
		log := zap.L().Named("pipeline-config")
		updated, err := decodePipelineConfig(v)
		if err != nil {
			log.Warn("invalid pipeline config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pipeline config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticPipelineConfigHolder wraps a fixed config, for tests and CLI overrides.
func NewStaticPipelineConfigHolder(cfg PipelineConfig) *PipelineConfigHolder {
	holder := &PipelineConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func (h *PipelineConfigHolder) Get() PipelineConfig {
	if h == nil {
		return DefaultPipelineConfig()
	}
	return h.current.Load().(PipelineConfig)
}

func decodePipelineConfig(v *viper.Viper) (PipelineConfig, error) {
	var cfg PipelineConfig
	if err := v.UnmarshalKey("pipeline", &cfg); err != nil {
		return PipelineConfig{}, err
	}
	cfg = cfg.withDefaults()
	if err := validatePipelineConfig(cfg); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, nil
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	d := DefaultPipelineConfig()
	if c.Import.ChunkSize <= 0 {
		c.Import.ChunkSize = d.Import.ChunkSize
	}
	if c.Import.CreateBatchSize <= 0 {
		c.Import.CreateBatchSize = d.Import.CreateBatchSize
	}
	if c.Import.UpdateBatchSize <= 0 {
		c.Import.UpdateBatchSize = d.Import.UpdateBatchSize
	}
	if c.Import.DeleteBatchSize <= 0 {
		c.Import.DeleteBatchSize = d.Import.DeleteBatchSize
	}
	if c.Import.ProgressEvery <= 0 {
		c.Import.ProgressEvery = d.Import.ProgressEvery
	}
	if c.Import.MaxWarnings <= 0 {
		c.Import.MaxWarnings = d.Import.MaxWarnings
	}
	if strings.TrimSpace(c.Import.Policy) == "" {
		c.Import.Policy = d.Import.Policy
	}
	if strings.TrimSpace(c.Anomaly.Method) == "" {
		c.Anomaly.Method = d.Anomaly.Method
	}
	if len(c.Anomaly.GroupBy) == 0 {
		c.Anomaly.GroupBy = d.Anomaly.GroupBy
	}
	if c.Anomaly.MinGroupSize <= 0 {
		c.Anomaly.MinGroupSize = d.Anomaly.MinGroupSize
	}
	if c.Anomaly.K <= 0 {
		c.Anomaly.K = d.Anomaly.K
	}
	if c.Anomaly.SeverityFilter <= 0 {
		c.Anomaly.SeverityFilter = d.Anomaly.SeverityFilter
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = d.Scheduler.Interval
	}
	if c.Scheduler.Jobs == nil {
		c.Scheduler.Jobs = d.Scheduler.Jobs
	}
	return c
}

func validatePipelineConfig(cfg PipelineConfig) error {
	switch cfg.Import.Policy {
	case "upsert", "insert-only":
	default:
		return fmt.Errorf("pipeline.import.policy %q is not supported", cfg.Import.Policy)
	}
	if cfg.Anomaly.SeverityFilter > 5 {
		return errors.New("pipeline.anomaly.severityFilter cannot exceed 5")
	}
	if cfg.Scheduler.Interval < time.Minute {
		return errors.New("pipeline.scheduler.interval must be at least 1m")
	}
	return nil
}

// JobEnabled reports whether the scheduler should run the named job.
func (o SchedulerOptions) JobEnabled(name string) bool {
	if o.Jobs == nil {
		return false
	}
	return o.Jobs[name]
}
