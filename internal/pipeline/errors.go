package pipeline

import (
	"context"
	"errors"

	"github.com/planetlabs/treeq/internal/config"
	"github.com/planetlabs/treeq/internal/crs"
	"github.com/planetlabs/treeq/internal/source"
)

var (
	ErrIncompatibleSchema = errors.New("incompatible layer schemas")
	ErrMapping            = errors.New("column mapping failed")
	ErrEmptyDataset       = errors.New("dataset has no valid rows")
	ErrWriteValidation    = errors.New("output validation failed")
)

// Kind names the class of a dataset failure in reports.
type Kind string

const (
	KindFetch              Kind = "FetchError"
	KindParse              Kind = "ParseError"
	KindIncompatibleSchema Kind = "IncompatibleSchemaError"
	KindMapping            Kind = "MappingError"
	KindReprojection       Kind = "ReprojectionError"
	KindEmptyDataset       Kind = "EmptyDatasetError"
	KindWriteValidation    Kind = "WriteValidationError"
	KindCanceled           Kind = "Canceled"
	KindOther              Kind = "Error"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{source.ErrFetch, KindFetch},
	{source.ErrParse, KindParse},
	{ErrIncompatibleSchema, KindIncompatibleSchema},
	{ErrMapping, KindMapping},
	{config.ErrInvalidMapping, KindMapping},
	{crs.ErrReprojection, KindReprojection},
	{ErrEmptyDataset, KindEmptyDataset},
	{ErrWriteValidation, KindWriteValidation},
}

// KindOf classifies an error returned by a pipeline step.  The first matching
// sentinel wins, so a fetch that failed because of a cancellation is still a
// FetchError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindOther
}
