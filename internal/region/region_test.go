package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoremark/internal/annotation"
	"scoremark/internal/geometry"
	"scoremark/internal/score"
)

const (
	N = annotation.None
	E = annotation.Easy
	M = annotation.Medium
	H = annotation.Hard
)

func staff(measure int, x, y, width float64, xs ...float64) score.Staff {
	st := score.Staff{MeasureNumber: measure, Position: geometry.Point{X: x, Y: y}, Width: width}
	for _, ex := range xs {
		st.Entries = append(st.Entries, score.Entry{X: ex})
	}
	return st
}

func TestStaffRunLength(t *testing.T) {
	t.Parallel()
	st := staff(1, 5, 0, 100, 10, 20, 30, 40, 50, 60, 70, 80, 90)

	runs := New().Staff(st, []annotation.Label{E, E, E, N, N, N, H, H, H})
	require.Len(t, runs, 2)
	assert.Equal(t, Run{StartX: 5, EndX: 40, Label: E}, runs[0])
	assert.Equal(t, Run{StartX: 70, EndX: 105, Label: H}, runs[1])
}

func TestStaffRuns(t *testing.T) {
	t.Parallel()
	st := staff(1, 0, 0, 50, 10, 20, 30, 40)

	tests := []struct {
		name   string
		labels []annotation.Label
		want   []Run
	}{
		{"all none", []annotation.Label{N, N, N, N}, nil},
		{"leading none", []annotation.Label{N, M, M, M}, []Run{{20, 50, M}}},
		{"trailing none", []annotation.Label{E, E, N, N}, []Run{{0, 30, E}}},
		{"alternating", []annotation.Label{E, H, E, H}, []Run{{0, 20, E}, {20, 30, H}, {30, 40, E}, {40, 50, H}}},
		{"hole in the middle", []annotation.Label{E, N, N, E}, []Run{{0, 20, E}, {40, 50, E}}},
		{"missing labels are none", []annotation.Label{H}, []Run{{0, 20, H}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, New().Staff(st, tt.labels))
		})
	}
}

func TestStaffRunKeepsPaddingWhenNotesAreClose(t *testing.T) {
	t.Parallel()
	st := staff(1, 0, 0, 10, 2, 3)
	runs := New().Staff(st, []annotation.Label{E, H})
	require.Len(t, runs, 2)
	assert.Equal(t, 3.25, runs[0].EndX)
}

func TestMeasureUniformFastPath(t *testing.T) {
	t.Parallel()
	m := score.Measure{
		staff(4, 100, 10, 40, 105, 115, 125),
		staff(4, 100, 20, 40, 110, 130),
	}

	regions := New().Measure(m, [][]annotation.Label{{M, M, M}, {M, M}})
	assert.Equal(t, []Region{{Measure: 4, StartX: 100, EndX: 140, Label: M, Whole: true}}, regions)

	assert.Empty(t, New().Measure(m, [][]annotation.Label{{N, N, N}, {N, N}}))
}

func TestMeasureReconciliation(t *testing.T) {
	t.Parallel()
	top := staff(2, 0, 10, 40, 10, 20, 30)
	bottom := staff(2, 0, 20, 40, 12, 28)
	m := score.Measure{top, bottom}

	tests := []struct {
		name string
		rows [][]annotation.Label
		want []Region
	}{
		{
			name: "equal run counts pair up",
			rows: [][]annotation.Label{{E, E, H}, {E, H}},
			want: []Region{
				{Measure: 2, StartX: 0, EndX: 30, Label: E},
				{Measure: 2, StartX: 28, EndX: 40, Label: H},
			},
		},
		{
			name: "disagreeing pair takes the lower staff label",
			rows: [][]annotation.Label{{E, E, E}, {H, H}},
			want: []Region{{Measure: 2, StartX: 0, EndX: 40, Label: H}},
		},
		{
			name: "staff with more runs wins",
			rows: [][]annotation.Label{{E, N, H}, {E, E}},
			want: []Region{
				{Measure: 2, StartX: 0, EndX: 20, Label: E},
				{Measure: 2, StartX: 30, EndX: 40, Label: H},
			},
		},
		{
			name: "lower staff can win",
			rows: [][]annotation.Label{{N, N, N}, {E, H}},
			want: []Region{
				{Measure: 2, StartX: 0, EndX: 28, Label: E},
				{Measure: 2, StartX: 28, EndX: 40, Label: H},
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, New().Measure(m, tt.rows))
		})
	}
}

func TestMeasureSingleStaff(t *testing.T) {
	t.Parallel()
	m := score.Measure{staff(0, 0, 0, 30, 5, 15, 25)}
	regions := New().Measure(m, [][]annotation.Label{{N, annotation.KeyJ, annotation.KeyJ}})
	assert.Equal(t, []Region{{Measure: 0, StartX: 15, EndX: 30, Label: annotation.KeyJ}}, regions)
	assert.Nil(t, New().Measure(nil, nil))
}

func TestScoreIsIdempotent(t *testing.T) {
	t.Parallel()
	layout := &score.Layout{Measures: []score.Measure{
		{staff(1, 0, 10, 40, 10, 20, 30), staff(1, 0, 20, 40, 12, 28)},
		{staff(2, 40, 10, 40, 50, 60, 70), staff(2, 40, 20, 40, 52, 68)},
		{staff(3, 80, 10, 40, 90, 100, 110), staff(3, 80, 20, 40, 92, 108)},
	}}
	rec := annotation.NewRecord(layout, 0)
	rec.Measures[1] = [][]annotation.Label{{E, E, E}, {E, E}}
	rec.Measures[2] = [][]annotation.Label{{E, N, H}, {H, H}}
	before := rec.Clone()

	d := New()
	first := d.Score(layout, rec)
	second := d.Score(layout, rec)
	assert.Equal(t, first, second)
	assert.Equal(t, before, rec)

	require.Len(t, first, 3)
	assert.True(t, first[0].Whole)
	assert.Equal(t, 2, first[1].Measure)
	assert.Equal(t, 2, first[2].Measure)

	assert.Nil(t, d.Score(nil, rec))
}
