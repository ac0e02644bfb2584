package runlog

import "time"

// #region failure-entry
// FailureEntry is a single row in the unit_errors table.
type FailureEntry struct {
	RunID       string
	Dataset     string
	Subject     int
	Session     string
	Pipeline    string
	DataSize    float64 // -1 outside learning-curve mode
	Permutation int     // -1 outside learning-curve mode
	Stage       string  // "fit" | "score" | "persist" | "sample" | "store"
	Error       string
	CreatedAt   time.Time
}

// #endregion failure-entry
