package evaluation

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/eegbench/internal/errkind"
)

// Sentinels shared with the rest of the module.
var (
	ErrConfiguration       = errkind.ErrConfiguration
	ErrDatasetIncompatible = errkind.ErrDatasetIncompatible
	ErrInsufficientSamples = errkind.ErrInsufficientSamples
	ErrNoResults           = errkind.ErrNoResults
)

// ErrNonFiniteScore fails a unit whose pipeline scored NaN or ±Inf.
var ErrNonFiniteScore = errors.New("score is not finite")

// #region unit-error
// UnitError is a recoverable failure of one unit of work. The run logs it
// and moves on.
type UnitError struct {
	Dataset     string
	Subject     int
	Session     string
	Pipeline    string
	DataSize    float64
	Permutation int
	Stage       string
	Err         error
}

func (e *UnitError) Error() string {
	s := fmt.Sprintf("%s subject %d", e.Dataset, e.Subject)
	if e.Session != "" {
		s += " session " + e.Session
	}
	s += " pipeline " + e.Pipeline
	if e.Permutation >= 0 {
		s += fmt.Sprintf(" size %g perm %d", e.DataSize, e.Permutation)
	}
	return fmt.Sprintf("%s: %s: %v", s, e.Stage, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// #endregion unit-error
