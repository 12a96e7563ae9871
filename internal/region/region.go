// Package region turns per-note labels into the few rectangles needed to
// show them: runs of equally labelled notes are merged per staff and the
// staves of a measure are reconciled into one set of horizontal extents.
package region

import (
	"math"

	"scoremark/internal/annotation"
	"scoremark/internal/score"
)

// DefaultPadding is added to a note's x so adjacent noteheads leave no gap.
const DefaultPadding = 1.25

// Run is a stretch of consecutive notes on one staff sharing a label.
type Run struct {
	StartX float64
	EndX   float64
	Label  annotation.Label
}

// Region is a horizontal extent of a measure, spanning all its staves.
// Whole regions cover the measure's own rectangle.
type Region struct {
	Measure int
	StartX  float64
	EndX    float64
	Label   annotation.Label
	Whole   bool
}

// Deriver computes regions. The zero value uses no padding; use New for the
// default.
type Deriver struct {
	Padding float64
}

// New returns a deriver with DefaultPadding.
func New() *Deriver {
	return &Deriver{Padding: DefaultPadding}
}

// Staff merges the labels of one staff into runs, left to right. None
// stretches are holes. A run that starts at the first note starts at the
// staff's left edge; the last run always reaches the right edge.
func (d *Deriver) Staff(st score.Staff, labels []annotation.Label) []Run {
	var runs []Run
	var cur *Run
	for i, e := range st.Entries {
		l := annotation.None
		if i < len(labels) {
			l = labels[i]
		}
		if cur != nil && l == cur.Label {
			cur.EndX = e.X + d.Padding
			continue
		}
		if cur != nil {
			cur.EndX = math.Max(cur.EndX, e.X)
			runs = append(runs, *cur)
			cur = nil
		}
		if l == annotation.None {
			continue
		}
		start := e.X
		if i == 0 {
			start = st.Left()
		}
		cur = &Run{StartX: start, EndX: e.X + d.Padding, Label: l}
	}
	if cur != nil {
		cur.EndX = st.Right()
		runs = append(runs, *cur)
	}
	return runs
}

// Measure derives the regions of one measure from its labels, one row per
// staff.
//
// A uniform measure yields a single whole region, or nothing when it is
// uniformly None. Otherwise the staves' runs are paired by position when
// both staves have the same number of runs; when they differ, the staff
// with more runs is used as is.
func (d *Deriver) Measure(m score.Measure, rows [][]annotation.Label) []Region {
	if len(m) == 0 {
		return nil
	}
	n := m.Number()
	if l, ok := annotation.UniformRows(rows); ok {
		if l == annotation.None {
			return nil
		}
		return []Region{{Measure: n, StartX: m.Left(), EndX: m.Right(), Label: l, Whole: true}}
	}

	perStaff := make([][]Run, len(m))
	for s, st := range m {
		var labels []annotation.Label
		if s < len(rows) {
			labels = rows[s]
		}
		perStaff[s] = d.Staff(st, labels)
	}

	var regions []Region
	emit := func(start, end float64, l annotation.Label) {
		if l == annotation.None {
			return
		}
		regions = append(regions, Region{Measure: n, StartX: start, EndX: end, Label: l})
	}

	if len(perStaff) == 1 {
		for _, r := range perStaff[0] {
			emit(r.StartX, r.EndX, r.Label)
		}
		return regions
	}

	top, bottom := perStaff[0], perStaff[1]
	switch {
	case len(top) == len(bottom):
		for i := range top {
			l := bottom[i].Label
			if top[i].Label == bottom[i].Label {
				l = top[i].Label
			}
			emit(math.Min(top[i].StartX, bottom[i].StartX), math.Max(top[i].EndX, bottom[i].EndX), l)
		}
	case len(top) > len(bottom):
		for _, r := range top {
			emit(r.StartX, r.EndX, r.Label)
		}
	default:
		for _, r := range bottom {
			emit(r.StartX, r.EndX, r.Label)
		}
	}
	return regions
}

// Score derives the regions of every measure of the layout, in measure
// order. It does not modify rec.
func (d *Deriver) Score(layout *score.Layout, rec *annotation.Record) []Region {
	if layout == nil || rec == nil {
		return nil
	}
	var regions []Region
	for _, n := range layout.MeasureNumbers() {
		m, ok := layout.Measure(n)
		if !ok {
			continue
		}
		regions = append(regions, d.Measure(m, rec.Measures[n])...)
	}
	return regions
}
