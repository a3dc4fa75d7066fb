package pdfdocx

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Sentinel error kinds. Components wrap these so callers can test with errors.Is.
var (
	// ErrExtractionFailure is the cause of every failed image strategy.
	ErrExtractionFailure = errors.New("image extraction failed")

	// ErrInferenceFailure is returned when no table topology could be determined.
	ErrInferenceFailure = errors.New("table topology could not be inferred")

	// ErrTimeout is returned when a rendering strategy exceeds its budget.
	ErrTimeout = errors.New("rendering strategy timed out")

	// ErrNoEmbeddedObject is returned by direct decoding when the region wraps no object.
	ErrNoEmbeddedObject = errors.New("region has no embedded object")

	// ErrNoRasterizer is returned when the decoder cannot render pages.
	ErrNoRasterizer = errors.New("page rasterizer unavailable")
)

// InvalidRegionError reports a malformed merge request. It is an input error
// and is never retried.
type InvalidRegionError struct {
	Reason string
	Cell   *CellCoord // Offending coordinate, nil when the request itself is malformed
	Bounds GridBounds
}

func (e *InvalidRegionError) Error() string {
	if e.Cell != nil {
		return fmt.Sprintf("invalid merge region: %s: cell (%d,%d) outside %dx%d grid",
			e.Reason, e.Cell.Row, e.Cell.Col, e.Bounds.Rows, e.Bounds.Cols)
	}
	return "invalid merge region: " + e.Reason
}

// StrategyError records why a single extraction strategy produced nothing.
type StrategyError struct {
	Strategy string
	Err      error
}

// ExtractionFailure is returned by the image pipeline when no strategy yields
// a usable candidate. It carries every per-strategy cause.
type ExtractionFailure struct {
	Region PageRegion
	Causes []StrategyError
}

func (e *ExtractionFailure) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		parts = append(parts, c.Strategy+": "+c.Err.Error())
	}
	return fmt.Sprintf("%s on page %d: %s", ErrExtractionFailure, e.Region.Page, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrExtractionFailure.
func (e *ExtractionFailure) Unwrap() error { return ErrExtractionFailure }

// TimedOut reports whether any strategy failed because of its timeout.
func (e *ExtractionFailure) TimedOut() bool {
	for _, c := range e.Causes {
		if errors.Is(c.Err, ErrTimeout) {
			return true
		}
	}
	return false
}

// InferenceFailure is returned when neither ruling nor text clustering produced
// a valid grid for a table region.
type InferenceFailure struct {
	Region PageRegion
	Reason string
}

func (e *InferenceFailure) Error() string {
	return fmt.Sprintf("%s on page %d: %s", ErrInferenceFailure, e.Region.Page, e.Reason)
}

// Unwrap lets errors.Is match ErrInferenceFailure.
func (e *InferenceFailure) Unwrap() error { return ErrInferenceFailure }
