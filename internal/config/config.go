// Package config loads a benchmark run description from YAML.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/eegbench/internal/codec"
	"github.com/danielpatrickdp/eegbench/internal/dataset"
	"github.com/danielpatrickdp/eegbench/internal/datasize"
	"github.com/danielpatrickdp/eegbench/internal/emissions"
	"github.com/danielpatrickdp/eegbench/internal/errkind"
	"github.com/danielpatrickdp/eegbench/internal/evaluation"
	"github.com/danielpatrickdp/eegbench/internal/paradigm"
	"github.com/danielpatrickdp/eegbench/internal/pipeline"
	"github.com/danielpatrickdp/eegbench/internal/split"
)

var validate = validator.New()

// #region types
// Config is the top-level run description.
type Config struct {
	Evaluation EvaluationConfig            `yaml:"evaluation"`
	Paradigm   paradigm.ImageryConfig      `yaml:"paradigm"`
	Datasets   []DatasetConfig             `yaml:"datasets" validate:"required,min=1,dive"`
	Pipelines  []PipelineConfig            `yaml:"pipelines" validate:"required,min=1,dive"`
	ParamGrid  map[string]map[string][]any `yaml:"param_grid"`
	Store      StoreConfig                 `yaml:"store"`
	Emissions  EmissionsConfig             `yaml:"emissions"`
	Logging    LoggingConfig               `yaml:"logging"`
	Estimator  EstimatorConfig             `yaml:"estimator"`
}

// EvaluationConfig mirrors evaluation.Config.
type EvaluationConfig struct {
	Kind              string         `yaml:"kind" validate:"required,oneof=WithinSession CrossSession CrossSubject"`
	NFolds            int            `yaml:"n_folds" validate:"min=2"`
	Seed              uint64         `yaml:"seed"`
	TestSize          float64        `yaml:"test_size" validate:"gt=0,lt=1"`
	GridFolds         int            `yaml:"grid_folds" validate:"min=2"`
	DataSize          *datasize.Spec `yaml:"data_size"`
	ReturnEpochs      bool           `yaml:"return_epochs"`
	ReturnRaws        bool           `yaml:"return_raws"`
	MNELabels         bool           `yaml:"mne_labels"`
	Overwrite         bool           `yaml:"overwrite"`
	AdditionalColumns []string       `yaml:"additional_columns"`
	ModelsRoot        string         `yaml:"models_root"`
	Subjects          []int          `yaml:"subjects" validate:"dive,min=1"`
}

// DatasetConfig describes a synthetic dataset.
type DatasetConfig struct {
	Paradigm       string   `yaml:"paradigm"`
	Events         []string `yaml:"events"`
	Channels       []string `yaml:"channels"`
	Subjects       int      `yaml:"subjects" validate:"min=0"`
	Sessions       int      `yaml:"sessions" validate:"min=0"`
	Runs           int      `yaml:"runs" validate:"min=0"`
	TrialsPerClass int      `yaml:"trials_per_class" validate:"min=0"`
	Seed           uint64   `yaml:"seed"`
}

// PipelineConfig names either a chain of registered estimator kinds or a
// pipeline served by a remote estimator server.
type PipelineConfig struct {
	Name   string         `yaml:"name" validate:"required,excludes=/"`
	Steps  []string       `yaml:"steps" validate:"required_without=Remote"`
	Params map[string]any `yaml:"params"`
	Remote string         `yaml:"remote"` // pipeline name on the estimator server
}

type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// EmissionsConfig enables the constant-power emissions estimate.
type EmissionsConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Watts       float64 `yaml:"watts" validate:"required_if=Enabled true,gte=0"`
	GramsPerKWh float64 `yaml:"grams_per_kwh" validate:"required_if=Enabled true,gte=0"`
}

type LoggingConfig struct {
	Format string `yaml:"format" validate:"oneof=text json"`
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
}

type EstimatorConfig struct {
	Addr string `yaml:"addr"`
}

// #endregion types

// #region defaults
// DefaultConfig returns a within-session run of the reference pipeline
// on one synthetic dataset.
func DefaultConfig() *Config {
	def := evaluation.DefaultConfig(split.WithinSession)
	return &Config{
		Evaluation: EvaluationConfig{
			Kind:      string(def.Kind),
			NFolds:    def.NFolds,
			Seed:      def.Seed,
			TestSize:  def.TestSize,
			GridFolds: def.GridFolds,
		},
		Datasets:  []DatasetConfig{{}},
		Pipelines: []PipelineConfig{{Name: "lv+nm", Steps: []string{"log_variance", "nearest_mean"}}},
		Store:     StoreConfig{Path: "eegbench.db"},
		Logging:   LoggingConfig{Format: "text", Level: "info"},
		Estimator: EstimatorConfig{Addr: "localhost:50051"},
	}
}

// #endregion defaults

// #region load
// Load reads path over DefaultConfig, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over DefaultConfig. Lists in the document replace the
// default lists.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Datasets, cfg.Pipelines = nil, nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", errkind.ErrConfiguration, err)
	}
	def := DefaultConfig()
	if len(cfg.Datasets) == 0 {
		cfg.Datasets = def.Datasets
	}
	if len(cfg.Pipelines) == 0 {
		cfg.Pipelines = def.Pipelines
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Store.Path = envOr("EEGBENCH_DB", c.Store.Path)
	c.Estimator.Addr = envOr("EEGBENCH_ESTIMATOR_ADDR", c.Estimator.Addr)
}

// Validate checks struct tags, then the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", errkind.ErrConfiguration, err)
	}
	if c.Evaluation.DataSize != nil {
		if _, err := datasize.New(*c.Evaluation.DataSize); err != nil {
			return err
		}
	}
	kinds := pipeline.Kinds()
	seen := map[string]bool{}
	for _, p := range c.Pipelines {
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate pipeline name %q", errkind.ErrConfiguration, p.Name)
		}
		seen[p.Name] = true
		if p.Remote != "" && len(p.Steps) > 0 {
			return fmt.Errorf("%w: pipeline %q sets both steps and remote", errkind.ErrConfiguration, p.Name)
		}
		for _, s := range p.Steps {
			if !slices.Contains(kinds, s) {
				return fmt.Errorf("%w: pipeline %q: unknown step kind %q (have %s)",
					errkind.ErrConfiguration, p.Name, s, strings.Join(kinds, ", "))
			}
		}
	}
	for name := range c.ParamGrid {
		if !seen[name] {
			return fmt.Errorf("%w: param_grid names unknown pipeline %q", errkind.ErrConfiguration, name)
		}
	}
	return nil
}

// #endregion load

// #region build
// EngineConfig converts to the engine configuration.
func (c *Config) EngineConfig() evaluation.Config {
	e := c.Evaluation
	return evaluation.Config{
		Kind:              split.Kind(e.Kind),
		NFolds:            e.NFolds,
		Seed:              e.Seed,
		TestSize:          e.TestSize,
		GridFolds:         e.GridFolds,
		DataSize:          e.DataSize,
		ReturnEpochs:      e.ReturnEpochs,
		ReturnRaws:        e.ReturnRaws,
		MNELabels:         e.MNELabels,
		Overwrite:         e.Overwrite,
		AdditionalColumns: slices.Clone(e.AdditionalColumns),
		ModelsRoot:        e.ModelsRoot,
		Subjects:          slices.Clone(e.Subjects),
	}
}

// BuildDatasets instantiates the configured synthetic datasets.
func (c *Config) BuildDatasets() []dataset.Dataset {
	out := make([]dataset.Dataset, len(c.Datasets))
	for i, d := range c.Datasets {
		out[i] = dataset.NewFake(dataset.FakeConfig{
			Paradigm:       d.Paradigm,
			Events:         d.Events,
			Channels:       d.Channels,
			Subjects:       d.Subjects,
			Sessions:       d.Sessions,
			Runs:           d.Runs,
			TrialsPerClass: d.TrialsPerClass,
			Seed:           d.Seed,
		})
	}
	return out
}

// BuildParadigm returns the imagery paradigm with a passthrough filter.
func (c *Config) BuildParadigm() (*paradigm.Imagery, error) {
	return paradigm.NewImagery(c.Paradigm, nil)
}

// BuildEmissions returns the configured tracker, or a disabled one.
func (c *Config) BuildEmissions() (emissions.Tracker, error) {
	if !c.Emissions.Enabled {
		return emissions.Disabled{}, nil
	}
	return emissions.NewPowerTracker(c.Emissions.Watts, c.Emissions.GramsPerKWh)
}

// BuildPipelines instantiates every pipeline. Remote pipelines share client,
// which may be nil when none are configured.
func (c *Config) BuildPipelines(client *codec.Client) (map[string]pipeline.Estimator, error) {
	out := make(map[string]pipeline.Estimator, len(c.Pipelines))
	for _, pc := range c.Pipelines {
		est, err := pc.build(client, c.Estimator.Addr)
		if err != nil {
			return nil, fmt.Errorf("%w: pipeline %q: %v", errkind.ErrConfiguration, pc.Name, err)
		}
		out[pc.Name] = est
	}
	return out, nil
}

// HasRemote reports whether any pipeline runs on an estimator server.
func (c *Config) HasRemote() bool {
	return slices.ContainsFunc(c.Pipelines, func(p PipelineConfig) bool { return p.Remote != "" })
}

func (pc PipelineConfig) build(client *codec.Client, addr string) (pipeline.Estimator, error) {
	var est pipeline.Estimator
	if pc.Remote != "" {
		est = codec.NewRemote(client, addr, pc.Remote)
	} else {
		steps := make([]pipeline.Estimator, len(pc.Steps))
		for i, kind := range pc.Steps {
			s, err := pipeline.NewKind(kind)
			if err != nil {
				return nil, err
			}
			steps[i] = s
		}
		p, err := pipeline.Make(steps...)
		if err != nil {
			return nil, err
		}
		est = p
	}
	if len(pc.Params) > 0 {
		tun, ok := est.(pipeline.Tunable)
		if !ok {
			return nil, fmt.Errorf("%T takes no parameters", est)
		}
		if err := tun.SetParams(pc.Params); err != nil {
			return nil, err
		}
	}
	return est, nil
}

// #endregion build

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
