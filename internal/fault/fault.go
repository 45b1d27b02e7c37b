// Package fault defines the error and warning taxonomy shared by every
// pipeline stage.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Stage names used in errors, warnings and logs.
const (
	StageReset     = "reset"
	StageIndex     = "index"
	StageAggregate = "aggregate"
	StageRoads     = "roads"
	StageIslands   = "islands"
	StageTrails    = "trails"
	StageExport    = "export"
)

// DataError reports a data-availability problem for one dataset at one
// stage: a missing source, an empty result after spatial restriction, or a
// source that cannot be read.
type DataError struct {
	Stage   string
	Dataset string
	Err     error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%s: dataset %s: %v", e.Stage, e.Dataset, e.Err)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError wraps err as a data-availability error.
func NewDataError(stage, dataset string, err error) *DataError {
	return &DataError{Stage: stage, Dataset: dataset, Err: err}
}

// PreconditionError reports that a stage's required upstream outputs are
// missing from the workspace.
type PreconditionError struct {
	Stage   string
	Missing []string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: missing upstream outputs: %s", e.Stage, strings.Join(e.Missing, ", "))
}

// WorkspaceError reports that the output workspace could not be deleted,
// recreated or opened. It is always fatal.
type WorkspaceError struct {
	Op  string
	Err error
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("workspace %s: %v", e.Op, e.Err)
}

func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// IsData reports whether err (or any error in its chain) is a DataError.
func IsData(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}

// IsPrecondition reports whether err (or any error in its chain) is a
// PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsWorkspace reports whether err (or any error in its chain) is a
// WorkspaceError.
func IsWorkspace(err error) bool {
	var we *WorkspaceError
	return errors.As(err, &we)
}

// Warning is a non-fatal, reportable data-quality condition.
type Warning struct {
	Stage   string   `json:"stage"`
	Dataset string   `json:"dataset"`
	Message string   `json:"message"`
	Count   int      `json:"count"`
	IDs     []string `json:"ids,omitempty"`
}

func (w Warning) String() string {
	if w.Count > 0 {
		return fmt.Sprintf("[%s/%s] %s (%d)", w.Stage, w.Dataset, w.Message, w.Count)
	}
	return fmt.Sprintf("[%s/%s] %s", w.Stage, w.Dataset, w.Message)
}
