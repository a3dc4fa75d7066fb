package pdfdocx

import (
	"math"
	"sort"
)

// rotationBucket quantises rotated text angles so that slightly skewed glyphs
// share a group.
const rotationBucket = 15.0

// uprightTolerance is how far from 0 or 180 degrees text still reads as
// upright.
const uprightTolerance = 10.0

// normalizeAngle maps degrees into [0, 360).
func normalizeAngle(degrees float64) float64 {
	degrees = math.Mod(degrees, 360)
	if degrees < 0 {
		degrees += 360
	}
	return degrees
}

// isUpright reports whether text at the angle reads horizontally, including
// upside-down text.
func isUpright(degrees float64) bool {
	d := normalizeAngle(degrees)
	return d < uprightTolerance || d > 360-uprightTolerance || math.Abs(d-180) < uprightTolerance
}

// quantizeAngle returns the rotation group of an angle: 0 for upright text,
// otherwise the nearest multiple of rotationBucket.
func quantizeAngle(degrees float64) float64 {
	if isUpright(degrees) {
		return 0
	}
	return normalizeAngle(math.Round(normalizeAngle(degrees)/rotationBucket) * rotationBucket)
}

// readingAxes returns the unit vector text advances along at the angle and the
// vector successive lines advance along, in page coordinates with y pointing
// down.
func readingAxes(degrees float64) (along, across [2]float64) {
	rad := degrees * math.Pi / 180
	sin, cos := math.Sincos(rad)
	return [2]float64{cos, -sin}, [2]float64{sin, cos}
}

// project returns the extent of a box along an axis.
func project(r Rect, axis [2]float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range [4][2]float64{{r.X0, r.Y0}, {r.X1, r.Y0}, {r.X0, r.Y1}, {r.X1, r.Y1}} {
		v := p[0]*axis[0] + p[1]*axis[1]
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	return lo, hi
}

func projectCentre(r Rect, axis [2]float64) float64 {
	return r.CenterX()*axis[0] + r.CenterY()*axis[1]
}

// splitRotated separates upright runs from rotated ones and groups the
// rotated runs into lines, one group per angle.
func splitRotated(runs []Run) ([]Run, []TextLine) {
	upright := make([]Run, 0, len(runs))
	var rotated []TextLine
	for _, group := range detectTextRotation(runs) {
		if group.angle == 0 {
			upright = append(upright, group.runs...)
			continue
		}
		rotated = append(rotated, groupRunsIntoRotatedLines(group.runs, group.angle)...)
	}
	return upright, rotated
}

type rotationGroup struct {
	angle float64
	runs  []Run
}

// detectTextRotation groups runs by quantised angle, largest group first.
// Runs keep their input order within a group.
func detectTextRotation(runs []Run) []rotationGroup {
	index := map[float64]int{}
	var groups []rotationGroup
	for _, r := range runs {
		angle := quantizeAngle(r.Rotation)
		i, ok := index[angle]
		if !ok {
			i = len(groups)
			index[angle] = i
			groups = append(groups, rotationGroup{angle: angle})
		}
		groups[i].runs = append(groups[i].runs, r)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if len(groups[i].runs) != len(groups[j].runs) {
			return len(groups[i].runs) > len(groups[j].runs)
		}
		return groups[i].angle < groups[j].angle
	})
	return groups
}

// groupRunsIntoRotatedLines groups runs written at the angle into lines.
// Runs whose centres are within 0.8 font sizes across the reading direction
// share a line; lines are ordered the way successive lines advance and runs
// within a line along the reading direction. Every rotated line ends with a
// hard break, since it never continues upright text.
func groupRunsIntoRotatedLines(runs []Run, angle float64) []TextLine {
	if len(runs) == 0 {
		return nil
	}
	along, across := readingAxes(angle)

	sorted := make([]Run, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return projectCentre(sorted[i].Box, across) < projectCentre(sorted[j].Box, across)
	})

	var groups [][]Run
	var current []Run
	var centre float64
	for _, r := range sorted {
		c := projectCentre(r.Box, across)
		if len(current) > 0 && math.Abs(c-centre) < math.Max(r.FontSize, 1)*0.8 {
			current = append(current, r)
			continue
		}
		if len(current) > 0 {
			groups = append(groups, current)
		}
		current = []Run{r}
		centre = c
	}
	groups = append(groups, current)

	lines := make([]TextLine, 0, len(groups))
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool {
			return projectCentre(g[i].Box, along) < projectCentre(g[j].Box, along)
		})
		line := lineFromRuns(g)
		line.HardBreak = true
		lines = append(lines, line)
	}
	return lines
}

// mergeRotatedLines places rotated lines among the ordered upright lines by
// their top edge. The upright line preceding a rotated one gets a hard break.
func mergeRotatedLines(lines, rotated []TextLine) []TextLine {
	if len(rotated) == 0 {
		return lines
	}
	sort.SliceStable(rotated, func(i, j int) bool {
		if rotated[i].Box.Y0 != rotated[j].Box.Y0 {
			return rotated[i].Box.Y0 < rotated[j].Box.Y0
		}
		return rotated[i].Box.X0 < rotated[j].Box.X0
	})

	merged := make([]TextLine, 0, len(lines)+len(rotated))
	next := 0
	for _, r := range rotated {
		for next < len(lines) && lines[next].Box.Y0 <= r.Box.Y0 {
			merged = append(merged, lines[next])
			next++
		}
		if n := len(merged); n > 0 {
			merged[n-1].HardBreak = true
		}
		merged = append(merged, r)
	}
	return append(merged, lines[next:]...)
}
