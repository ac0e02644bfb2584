// Package errkind holds the sentinel errors shared across the benchmark.
// Callers classify failures with errors.Is.
package errkind

import "errors"

var (
	// ErrConfiguration is fatal and raised before any work starts.
	ErrConfiguration = errors.New("configuration error")

	// ErrDatasetIncompatible rejects a whole dataset for an evaluation kind.
	ErrDatasetIncompatible = errors.New("dataset incompatible with evaluation")

	// ErrInsufficientSamples is recoverable: a unit asked for more rows than a fold holds.
	ErrInsufficientSamples = errors.New("insufficient samples")

	// ErrNoResults marks a run that was expected to produce records and produced none.
	ErrNoResults = errors.New("no results")
)
