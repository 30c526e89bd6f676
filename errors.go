package simidx

import (
	"errors"
	"fmt"

	"github.com/hupe1980/simidx/ann"
	"github.com/hupe1980/simidx/catalog"
)

var (
	// ErrNotFound is returned when an item does not exist in the store.
	ErrNotFound = errors.New("item not found")

	// ErrProjectNotFound is returned when an operation references a project
	// that has never been created.
	ErrProjectNotFound = errors.New("project not found")

	// ErrInvalidProjectID is returned when a project identifier does not
	// match the accepted syntax.
	ErrInvalidProjectID = errors.New("invalid project id")

	// ErrInvalidItemID is returned when an item identifier is empty, too
	// long, or contains path separators.
	ErrInvalidItemID = errors.New("invalid item id")

	// ErrZeroVector is returned when an embedding with zero L2 norm is
	// inserted or used as a query. Cosine similarity is undefined for it.
	ErrZeroVector = errors.New("embedding has zero norm")

	// ErrCapacityExceeded is returned when an insert would grow the store
	// beyond its configured maximum number of items.
	ErrCapacityExceeded = errors.New("store capacity exceeded")

	// ErrClosed is returned when an operation is attempted on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrPayloadTooLarge is returned when a media payload exceeds the
	// configured size limit.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrUnsupportedMedia is returned when a payload's content type has no
	// registered file extension.
	ErrUnsupportedMedia = errors.New("unsupported media type")

	// ErrURLNotSupported is returned when the configured blob store cannot
	// mint signed URLs.
	ErrURLNotSupported = errors.New("blob store cannot sign urls")
)

// ErrDimensionMismatch is returned when the dimension of a vector does not
// match the dimension the store was opened with.
type ErrDimensionMismatch struct {
	// Expected is the dimension the store was opened with.
	Expected int

	// Actual is the dimension of the offending vector.
	Actual int

	cause error
}

// Error implements the error interface.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Unwrap returns the underlying cause, if any.
func (e *ErrDimensionMismatch) Unwrap() error {
	return e.cause
}

// translateError maps errors surfaced by the catalog and index packages to
// the store's public error values so callers only match against one set.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, catalog.ErrProjectNotFound):
		return fmt.Errorf("%w: %w", ErrProjectNotFound, err)
	case errors.Is(err, ann.ErrZeroVector):
		return fmt.Errorf("%w: %w", ErrZeroVector, err)
	case errors.Is(err, ann.ErrCapacityExceeded):
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	}

	var dimErr *ann.ErrDimensionMismatch
	if errors.As(err, &dimErr) {
		return &ErrDimensionMismatch{Expected: dimErr.Expected, Actual: dimErr.Actual, cause: err}
	}

	return err
}
