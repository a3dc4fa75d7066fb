package pdfdocx

import (
	"math"
	"sort"
)

// calculateMedian calculates the median value of a float64 slice
func calculateMedian(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// average calculates the mean of a float64 slice
func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculateStdDev calculates the standard deviation of a float64 slice
func calculateStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	mean := average(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}

// rectsOverlap checks if two rectangles overlap
func rectsOverlap(r1, r2 Rect) bool {
	return !(r1.X1 <= r2.X0 || r2.X1 <= r1.X0 || r1.Y1 <= r2.Y0 || r2.Y1 <= r1.Y0)
}

// expandRect expands a rectangle by the given amount in all directions
func expandRect(rect Rect, amount float64) Rect {
	return Rect{
		X0: rect.X0 - amount,
		Y0: rect.Y0 - amount,
		X1: rect.X1 + amount,
		Y1: rect.Y1 + amount,
	}
}

// mergeRects merges two rectangles into their bounding box
func mergeRects(r1, r2 Rect) Rect {
	return Rect{
		X0: math.Min(r1.X0, r2.X0),
		Y0: math.Min(r1.Y0, r2.Y0),
		X1: math.Max(r1.X1, r2.X1),
		Y1: math.Max(r1.Y1, r2.Y1),
	}
}

// clamp restricts a value to a range
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// horizontalDistance returns the gap between two boxes along x, zero when
// they overlap horizontally.
func horizontalDistance(r1, r2 Rect) float64 {
	if r1.X1 < r2.X0 {
		return r2.X0 - r1.X1
	}
	if r2.X1 < r1.X0 {
		return r1.X0 - r2.X1
	}
	return 0
}

// sortLinesReadingOrder sorts lines top-to-bottom, then left-to-right.
// Lines whose tops are within half a line height are treated as one row.
func sortLinesReadingOrder(lines []TextLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		a, b := lines[i].Box, lines[j].Box
		tol := math.Min(lines[i].Height(), lines[j].Height()) * 0.5
		if math.Abs(a.Y0-b.Y0) > tol {
			return a.Y0 < b.Y0
		}
		if a.X0 != b.X0 {
			return a.X0 < b.X0
		}
		return lines[i].Text() < lines[j].Text()
	})
}
