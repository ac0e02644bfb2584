package evaluation

import (
	"fmt"

	"github.com/danielpatrickdp/eegbench/internal/datasize"
	"github.com/danielpatrickdp/eegbench/internal/paradigm"
	"github.com/danielpatrickdp/eegbench/internal/split"
)

// #region config
// Config holds evaluation protocol parameters.
type Config struct {
	Kind      split.Kind
	NFolds    int     // within-session cross-validation folds
	Seed      uint64  // folds, holdouts, grid search and sub-sampling
	TestSize  float64 // within-session holdout fraction in learning-curve mode
	GridFolds int     // inner folds of a grid search

	DataSize *datasize.Spec // nil disables learning-curve mode

	ReturnEpochs bool
	ReturnRaws   bool
	MNELabels    bool // take labels from epoch event names; needs ReturnEpochs

	Overwrite         bool     // drop stored results of the evaluated pipelines first
	AdditionalColumns []string // every record must carry these extra columns
	ModelsRoot        string   // empty disables model persistence
	Subjects          []int    // empty evaluates every subject
}

// DefaultConfig returns the standard protocol for kind.
func DefaultConfig(kind split.Kind) Config {
	return Config{
		Kind:      kind,
		NFolds:    5,
		Seed:      42,
		TestSize:  0.2,
		GridFolds: 3,
	}
}

// validate fills zero defaults and rejects inconsistent settings.
func (c *Config) validate() (*datasize.Policy, error) {
	kind, err := split.ParseKind(string(c.Kind))
	if err != nil {
		return nil, err
	}
	c.Kind = kind
	def := DefaultConfig(kind)
	if c.NFolds == 0 {
		c.NFolds = def.NFolds
	}
	if c.TestSize == 0 {
		c.TestSize = def.TestSize
	}
	if c.GridFolds == 0 {
		c.GridFolds = def.GridFolds
	}
	if c.NFolds < 2 {
		return nil, fmt.Errorf("%w: n_folds %d, need at least 2", ErrConfiguration, c.NFolds)
	}
	if c.GridFolds < 2 {
		return nil, fmt.Errorf("%w: grid folds %d, need at least 2", ErrConfiguration, c.GridFolds)
	}
	if c.TestSize <= 0 || c.TestSize >= 1 {
		return nil, fmt.Errorf("%w: test size %g outside (0,1)", ErrConfiguration, c.TestSize)
	}
	if err := c.options().Validate(); err != nil {
		return nil, err
	}
	if c.MNELabels && !c.ReturnEpochs {
		return nil, fmt.Errorf("%w: mne_labels requires return_epochs", ErrConfiguration)
	}
	if c.DataSize == nil {
		return nil, nil
	}
	return datasize.New(*c.DataSize)
}

func (c Config) options() paradigm.Options {
	return paradigm.Options{ReturnEpochs: c.ReturnEpochs, ReturnRaws: c.ReturnRaws}
}

// #endregion config
