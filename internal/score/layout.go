// Package score models the measure list produced by the external score
// renderer. The annotator never parses notation itself; it only reads the
// geometry exposed here.
package score

import (
	"errors"
	"math"

	"scoremark/internal/geometry"
)

// ErrEmptyLayout is returned when a layout has no measures.
var ErrEmptyLayout = errors.New("score: layout has no measures")

// staffHeight is the height of a five-line staff in renderer units.
const staffHeight = 4.0

// Entry is a staff entry (a note or chord) with its absolute position.
type Entry struct {
	X float64 `json:"x"`
	// Y is optional; zero means the vertical middle of the staff.
	Y float64 `json:"y,omitempty"`
}

// Staff is one staff of one measure as laid out by the renderer.
type Staff struct {
	MeasureNumber int            `json:"measureNumber"`
	Position      geometry.Point `json:"position"`
	Width         float64        `json:"width"`
	Entries       []Entry        `json:"staffEntries"`
}

// Left returns the x coordinate of the staff's left edge.
func (s Staff) Left() float64 {
	return s.Position.X
}

// Right returns the x coordinate of the staff's right edge.
func (s Staff) Right() float64 {
	return s.Position.X + s.Width
}

// Rect returns the staff's bounding rectangle in renderer units.
func (s Staff) Rect() geometry.Rect {
	return geometry.Rect{X: s.Position.X, Y: s.Position.Y, Width: s.Width, Height: staffHeight}
}

// EntryPoint returns the absolute position of entry i.
func (s Staff) EntryPoint(i int) geometry.Point {
	e := s.Entries[i]
	y := e.Y
	if y == 0 {
		y = s.Position.Y + staffHeight/2
	}
	return geometry.Point{X: e.X, Y: y}
}

// Measure holds the staves of a single measure, top to bottom.
type Measure []Staff

// Number returns the renderer's measure number.
func (m Measure) Number() int {
	if len(m) == 0 {
		return 0
	}
	return m[0].MeasureNumber
}

// Left returns the left edge of the measure's own bounding rectangle.
func (m Measure) Left() float64 {
	if len(m) == 0 {
		return 0
	}
	return m[0].Left()
}

// Right returns the right edge of the measure's own bounding rectangle.
func (m Measure) Right() float64 {
	if len(m) == 0 {
		return 0
	}
	return m[0].Right()
}

// Layout is the renderer's measure list.
type Layout struct {
	Measures []Measure `json:"measureList"`
}

// First returns the number of the first measure. Depending on the source
// format this is 0 or 1.
func (l *Layout) First() int {
	if len(l.Measures) == 0 {
		return 0
	}
	return l.Measures[0].Number()
}

// Last returns the number of the last measure.
func (l *Layout) Last() int {
	if len(l.Measures) == 0 {
		return 0
	}
	return l.Measures[len(l.Measures)-1].Number()
}

// InRange reports whether n lies within [First, Last].
func (l *Layout) InRange(n int) bool {
	return len(l.Measures) > 0 && n >= l.First() && n <= l.Last()
}

// Measure returns measure number n. The measure list always starts at index
// 0, so when numbering starts at 1 the index is shifted by one.
func (l *Layout) Measure(n int) (Measure, bool) {
	if !l.InRange(n) {
		return nil, false
	}
	idx := n
	if l.First() != 0 {
		idx = n - 1
	}
	if idx < 0 || idx >= len(l.Measures) {
		return nil, false
	}
	return l.Measures[idx], true
}

// MeasureNumbers returns every measure number from First to Last.
func (l *Layout) MeasureNumbers() []int {
	if len(l.Measures) == 0 {
		return nil
	}
	nums := make([]int, 0, l.Last()-l.First()+1)
	for n := l.First(); n <= l.Last(); n++ {
		nums = append(nums, n)
	}
	return nums
}

// Bounds returns the union of all staff rectangles.
func (l *Layout) Bounds() geometry.Rect {
	var r geometry.Rect
	for _, m := range l.Measures {
		for _, st := range m {
			r = r.Union(st.Rect())
		}
	}
	return r
}

// Hit is the result of a nearest-note lookup.
type Hit struct {
	Measure int
	Staff   int
	Note    int
	Point   geometry.Point
}

// NearestNote returns the staff entry closest to p whose horizontal and
// vertical distances are both within maxDist.
func (l *Layout) NearestNote(p, maxDist geometry.Point) (Hit, bool) {
	best := Hit{}
	bestDist := math.Inf(1)
	for _, m := range l.Measures {
		for s, st := range m {
			for i := range st.Entries {
				ep := st.EntryPoint(i)
				if math.Abs(ep.X-p.X) > maxDist.X || math.Abs(ep.Y-p.Y) > maxDist.Y {
					continue
				}
				if d := ep.Distance(p); d < bestDist {
					bestDist = d
					best = Hit{Measure: st.MeasureNumber, Staff: s, Note: i, Point: ep}
				}
			}
		}
	}
	return best, !math.IsInf(bestDist, 1)
}

// Score pairs a score identifier (its file path) with its rendered layout.
type Score struct {
	ID     string
	Layout *Layout
}
