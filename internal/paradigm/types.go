package paradigm

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
	"github.com/danielpatrickdp/eegbench/internal/errkind"
)

// #region paradigm
// Paradigm turns a dataset into labelled examples.
type Paradigm interface {
	Name() string
	// Accepts reports whether the dataset carries what the paradigm needs.
	Accepts(ds dataset.Dataset) error
	GetData(ctx context.Context, ds dataset.Dataset, subjects []int, opts Options) (*Data, error)
}

// #endregion paradigm

// #region options
// Options selects the return format. At most one flag may be set; with
// neither set the examples are returned as a dense tensor.
type Options struct {
	ReturnEpochs bool
	ReturnRaws   bool
}

// Validate rejects mutually exclusive format flags.
func (o Options) Validate() error {
	if o.ReturnEpochs && o.ReturnRaws {
		return fmt.Errorf("%w: return_epochs and return_raws are mutually exclusive", errkind.ErrConfiguration)
	}
	return nil
}

// #endregion options

// #region data
// Epoch is one windowed example kept in structured form.
type Epoch struct {
	Row   dataset.Row
	Label string
	Data  dataset.Tensor // (channels, times[, filters])
}

// Data is the paradigm output. X, Labels and Meta are always filled and
// aligned; Epochs or Raws are added in those modes.
type Data struct {
	X      dataset.Tensor
	Labels []string
	Meta   dataset.Metadata
	Epochs []Epoch
	Raws   []dataset.Recording
}

// Len is the number of examples.
func (d *Data) Len() int { return len(d.Labels) }

// Check verifies the row alignment invariant.
func (d *Data) Check() error {
	if len(d.Meta) != len(d.Labels) {
		return fmt.Errorf("metadata has %d rows, labels %d", len(d.Meta), len(d.Labels))
	}
	if len(d.X.Shape) > 0 && d.X.Len() != len(d.Labels) {
		return fmt.Errorf("X has %d rows, labels %d", d.X.Len(), len(d.Labels))
	}
	if d.Epochs != nil && len(d.Epochs) != len(d.Labels) {
		return fmt.Errorf("epochs has %d rows, labels %d", len(d.Epochs), len(d.Labels))
	}
	return nil
}

// #endregion data

// #region filter
// Filter band-limits one channel. Concrete filter designs are supplied by the caller.
type Filter interface {
	Apply(signal []float64, sfreq, low, high float64) []float64
}

// Passthrough returns the signal unchanged.
type Passthrough struct{}

func (Passthrough) Apply(signal []float64, _, _, _ float64) []float64 { return signal }

// #endregion filter
