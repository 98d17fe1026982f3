package query

import (
	"errors"

	"github.com/vegasq/tripmean/dataset"
	"github.com/vegasq/tripmean/exec"
)

var (
	// ErrSchemaMismatch is returned when the dataset lacks a column the
	// query needs, or stores it with an unusable type. No data is read.
	ErrSchemaMismatch = dataset.ErrSchemaMismatch

	// ErrExecutionFailure is returned when the execution plan fails. No
	// partial result is produced.
	ErrExecutionFailure = exec.ErrExecutionFailure

	// ErrInvalidTimeRange is returned for timestamp text that cannot be
	// parsed.
	ErrInvalidTimeRange = errors.New("invalid time range")

	// ErrTimeout is returned when the caller deadline expires before the
	// plan completes. The plan keeps running and its output is discarded.
	ErrTimeout = errors.New("query timed out")

	// ErrInvalidArgument is returned when BuildTimeFilter gets no bounds.
	ErrInvalidArgument = errors.New("invalid argument")
)
