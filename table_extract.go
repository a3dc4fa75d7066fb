package pdfdocx

import (
	"math"
	"sort"

	"github.com/tidwall/rtree"
)

// rulingSet holds the horizontal and vertical rulings of one table region,
// normalised so that X0 <= X1 and Y0 <= Y1.
type rulingSet struct {
	horizontal []LineSegment
	vertical   []LineSegment
	index      rtree.RTreeG[LineSegment]
	settings   TableSettings
}

// collectRulings keeps the axis-aligned rulings touching the region, joins
// collinear pieces and indexes them for coverage queries.
func collectRulings(region Rect, rulings []LineSegment, settings TableSettings) *rulingSet {
	area := expandRect(region, settings.SnapTolerance)
	rs := &rulingSet{settings: settings}

	for _, seg := range rulings {
		b := seg.Bounds()
		if b.X1 < area.X0 || b.X0 > area.X1 || b.Y1 < area.Y0 || b.Y0 > area.Y1 {
			continue
		}
		switch seg.Orientation() {
		case Horizontal:
			y := b.CenterY()
			rs.horizontal = append(rs.horizontal, LineSegment{
				X0: math.Max(b.X0, area.X0), X1: math.Min(b.X1, area.X1),
				Y0: y, Y1: y, Width: seg.Width,
			})
		case Vertical:
			x := b.CenterX()
			rs.vertical = append(rs.vertical, LineSegment{
				X0: x, X1: x,
				Y0: math.Max(b.Y0, area.Y0), Y1: math.Min(b.Y1, area.Y1), Width: seg.Width,
			})
		}
	}

	rs.horizontal = filterByLength(joinCollinear(rs.horizontal, Horizontal, settings), settings.EdgeMinLength)
	rs.vertical = filterByLength(joinCollinear(rs.vertical, Vertical, settings), settings.EdgeMinLength)

	for _, seg := range rs.horizontal {
		rs.index.Insert([2]float64{seg.X0, seg.Y0}, [2]float64{seg.X1, seg.Y1}, seg)
	}
	for _, seg := range rs.vertical {
		rs.index.Insert([2]float64{seg.X0, seg.Y0}, [2]float64{seg.X1, seg.Y1}, seg)
	}
	return rs
}

// joinCollinear snaps segments on the same line together and joins pieces
// whose gap is within the join tolerance.
func joinCollinear(segs []LineSegment, o Orientation, settings TableSettings) []LineSegment {
	if len(segs) == 0 {
		return nil
	}

	pos := func(s LineSegment) float64 {
		if o == Horizontal {
			return s.Y0
		}
		return s.X0
	}
	start := func(s LineSegment) float64 {
		if o == Horizontal {
			return s.X0
		}
		return s.Y0
	}
	end := func(s LineSegment) float64 {
		if o == Horizontal {
			return s.X1
		}
		return s.Y1
	}

	sorted := make([]LineSegment, len(segs))
	copy(sorted, segs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if pos(sorted[i]) != pos(sorted[j]) {
			return pos(sorted[i]) < pos(sorted[j])
		}
		return start(sorted[i]) < start(sorted[j])
	})

	// Group by position within snap tolerance, then join along the axis
	var result []LineSegment
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && pos(sorted[j])-pos(sorted[j-1]) <= settings.SnapTolerance {
			j++
		}
		group := make([]LineSegment, j-i)
		copy(group, sorted[i:j])

		var sum float64
		for _, s := range group {
			sum += pos(s)
		}
		p := sum / float64(len(group))

		sort.SliceStable(group, func(a, b int) bool { return start(group[a]) < start(group[b]) })

		lo, hi := start(group[0]), end(group[0])
		flush := func() {
			if o == Horizontal {
				result = append(result, LineSegment{X0: lo, X1: hi, Y0: p, Y1: p})
			} else {
				result = append(result, LineSegment{X0: p, X1: p, Y0: lo, Y1: hi})
			}
		}
		for _, s := range group[1:] {
			if start(s) <= hi+settings.JoinTolerance {
				hi = math.Max(hi, end(s))
				continue
			}
			flush()
			lo, hi = start(s), end(s)
		}
		flush()
		i = j
	}
	return result
}

// filterByLength drops segments shorter than minLength.
func filterByLength(segs []LineSegment, minLength float64) []LineSegment {
	if minLength <= 0 {
		return segs
	}
	result := segs[:0]
	for _, s := range segs {
		if s.Length() >= minLength {
			result = append(result, s)
		}
	}
	return result
}

// boundaries clusters ruling positions into sorted row or column boundaries.
func (rs *rulingSet) boundaries(o Orientation) []float64 {
	var values []float64
	if o == Horizontal {
		for _, s := range rs.horizontal {
			values = append(values, s.Y0)
		}
	} else {
		for _, s := range rs.vertical {
			values = append(values, s.X0)
		}
	}
	return dropDegenerate(clusterPositions(values, rs.settings.SnapTolerance), rs.settings.MinCellSize)
}

// clusterPositions merges sorted positions closer than tol into their mean.
func clusterPositions(values []float64, tol float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var result []float64
	sum, n, last := sorted[0], 1, sorted[0]
	for _, v := range sorted[1:] {
		if v-last <= tol {
			sum += v
			n++
			last = v
			continue
		}
		result = append(result, sum/float64(n))
		sum, n, last = v, 1, v
	}
	return append(result, sum/float64(n))
}

// dropDegenerate removes boundaries that would leave a row or column thinner
// than minSize.
func dropDegenerate(bounds []float64, minSize float64) []float64 {
	if len(bounds) < 2 {
		return bounds
	}
	result := []float64{bounds[0]}
	for _, b := range bounds[1:] {
		if b-result[len(result)-1] < minSize {
			continue
		}
		result = append(result, b)
	}
	return result
}

// covered reports whether rulings of orientation o at position pos cover
// enough of the span [from, to] to act as a cell separator.
func (rs *rulingSet) covered(o Orientation, pos, from, to float64) bool {
	length := to - from
	if length <= 0 {
		return true
	}
	tol := rs.settings.SnapTolerance

	var minPt, maxPt [2]float64
	if o == Horizontal {
		minPt, maxPt = [2]float64{from, pos - tol}, [2]float64{to, pos + tol}
	} else {
		minPt, maxPt = [2]float64{pos - tol, from}, [2]float64{pos + tol, to}
	}

	type interval struct{ lo, hi float64 }
	var parts []interval
	rs.index.Search(minPt, maxPt, func(_, _ [2]float64, s LineSegment) bool {
		if s.Orientation() != o {
			return true
		}
		var lo, hi float64
		if o == Horizontal {
			if math.Abs(s.Y0-pos) > tol {
				return true
			}
			lo, hi = s.X0, s.X1
		} else {
			if math.Abs(s.X0-pos) > tol {
				return true
			}
			lo, hi = s.Y0, s.Y1
		}
		lo, hi = math.Max(lo, from), math.Min(hi, to)
		if hi > lo {
			parts = append(parts, interval{lo, hi})
		}
		return true
	})

	sort.Slice(parts, func(i, j int) bool { return parts[i].lo < parts[j].lo })
	var total, curLo, curHi float64
	for i, p := range parts {
		if i == 0 || p.lo > curHi {
			total += curHi - curLo
			curLo, curHi = p.lo, p.hi
			continue
		}
		curHi = math.Max(curHi, p.hi)
	}
	total += curHi - curLo

	return total >= length*rs.settings.RulingCoverage
}
