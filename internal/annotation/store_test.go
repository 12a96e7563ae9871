package annotation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoremark/internal/kvstore"
	"scoremark/internal/score"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T, kv kvstore.Store) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1700000000000)}
	return NewStore(kv, WithClock(clock.Now)), clock
}

func testScore(first, count int) *score.Score {
	return &score.Score{ID: "/scores/etude.musicxml", Layout: testLayout(first, count)}
}

func TestGetInitializesAndPersists(t *testing.T) {
	t.Parallel()
	kv := kvstore.NewMemory()
	s, clock := newTestStore(t, kv)
	sc := testScore(1, 3)

	rec := s.Get(sc)
	assert.Equal(t, clock.now.UnixMilli(), rec.StartTime)
	assert.False(t, rec.Annotated(1))

	data, err := kv.Get(sc.ID)
	require.NoError(t, err)
	var stored Record
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, rec, &stored)

	// Callers get copies.
	rec.Measures[1][0][0] = Hard
	assert.Equal(t, None, s.Get(sc).Measures[1][0][0])
}

func TestSetMeasureRangeRoundTrip(t *testing.T) {
	t.Parallel()
	kv := kvstore.NewMemory()
	s, _ := newTestStore(t, kv)
	sc := testScore(1, 6)

	s.SetMeasureRange(sc, []int{5}, Hard)
	rec := s.Get(sc)
	for _, row := range rec.Measures[5] {
		for _, l := range row {
			assert.Equal(t, Hard, l)
		}
	}
	assert.True(t, s.IsMeasureUniform(sc, 5))

	// A fresh store over the same storage sees the same record.
	reopened, _ := newTestStore(t, kv)
	assert.Equal(t, rec, reopened.Get(sc))
}

func TestSetMeasureRangeSkipsOutOfRange(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, kvstore.NewMemory())
	sc := testScore(1, 3)

	s.SetMeasureRange(sc, []int{0, 2, 4, -1}, Easy)
	rec := s.Get(sc)
	assert.Equal(t, []int{1, 2, 3}, rec.MeasureNumbers())
	assert.True(t, rec.Annotated(2))
	assert.False(t, rec.Annotated(1))
	assert.False(t, rec.Annotated(3))
}

func TestSetNoteIgnoresBadIndices(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, kvstore.NewMemory())
	sc := testScore(0, 2)
	before := s.Get(sc)

	s.SetNote(sc, 9, 0, 0, Easy)
	s.SetNote(sc, 0, 2, 0, Easy)
	s.SetNote(sc, 0, 1, 2, Easy)
	s.SetNote(sc, 0, -1, 0, Easy)
	s.SetNote(sc, 0, 0, 0, Label(200))
	assert.Equal(t, before, s.Get(sc))

	s.SetNote(sc, 0, 1, 1, Easy)
	assert.Equal(t, [][]Label{{None, None, None}, {None, Easy}}, s.MeasureLabels(sc, 0))
}

func TestSetRange(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, kvstore.NewMemory())
	sc := testScore(1, 2)

	// Measure 2 starts at x=30: notes at 33, 42, 51 and 35, 48.
	s.SetRange(sc, 2, 0, 40, 60, KeyW)
	s.SetRange(sc, 2, 1, 35, 35, KeyW)
	s.SetRange(sc, 2, 5, 0, 100, KeyW)
	assert.Equal(t, [][]Label{{None, KeyW, KeyW}, {KeyW, None}}, s.MeasureLabels(sc, 2))
	assert.False(t, s.IsMeasureUniform(sc, 2))
}

func TestClearResetsEverything(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t, kvstore.NewMemory())
	sc := testScore(1, 2)

	s.SetMeasureRange(sc, []int{1, 2}, Medium)
	clock.Advance(5 * time.Second)
	s.RecordElapsed(sc)
	s.SetIrregular(sc, 1, []IrregularBox{{X: 1, Width: 2, Height: 40, Color: "#FFBE33"}})
	require.NotZero(t, s.Get(sc).AnnotationTime)

	clock.Advance(time.Second)
	s.Clear(sc)
	rec := s.Get(sc)
	assert.False(t, rec.Annotated(1))
	assert.False(t, rec.Annotated(2))
	assert.Zero(t, rec.AnnotationTime)
	assert.Equal(t, clock.now.UnixMilli(), rec.StartTime)
	assert.Empty(t, s.Irregular(sc))
}

func TestRecordElapsed(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t, kvstore.NewMemory())
	sc := testScore(1, 1)
	t0 := clock.now.UnixMilli()
	require.Equal(t, t0, s.Get(sc).StartTime)

	clock.Advance(1000 * time.Millisecond)
	s.RecordElapsed(sc)
	rec := s.Get(sc)
	assert.Equal(t, int64(1000), rec.AnnotationTime)
	assert.Equal(t, t0+1000, rec.StartTime)

	// A clock going backwards never subtracts time.
	clock.Advance(-5 * time.Second)
	s.RecordElapsed(sc)
	assert.Equal(t, int64(1000), s.Get(sc).AnnotationTime)
}

func TestBeginSessionSkipsIdleTime(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t, kvstore.NewMemory())
	sc := testScore(1, 1)
	s.Get(sc)

	clock.Advance(48 * time.Hour)
	s.BeginSession(sc)
	clock.Advance(2 * time.Second)
	s.RecordElapsed(sc)
	assert.Equal(t, int64(2000), s.Get(sc).AnnotationTime)
}

func TestIsFullyAnnotated(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, kvstore.NewMemory())
	sc := testScore(1, 3)

	s.SetMeasureRange(sc, []int{1, 2}, Easy)
	assert.False(t, s.IsFullyAnnotated(sc))
	s.SetNote(sc, 3, 0, 0, Hard)
	assert.False(t, s.IsFullyAnnotated(sc))
	s.SetMeasureRange(sc, []int{3}, Hard)
	assert.True(t, s.IsFullyAnnotated(sc))

	last, ok := s.LastAnnotated(sc)
	require.True(t, ok)
	assert.Equal(t, 3, last)
}

func TestUniformLabel(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, kvstore.NewMemory())
	sc := testScore(0, 2)

	l, ok := s.UniformLabel(sc, 0)
	assert.True(t, ok)
	assert.Equal(t, None, l)

	s.SetMeasureRange(sc, []int{1}, Medium)
	l, ok = s.UniformLabel(sc, 1)
	assert.True(t, ok)
	assert.Equal(t, Medium, l)

	_, ok = s.UniformLabel(sc, 2)
	assert.False(t, ok)
}

func TestMarkCorrupted(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, kvstore.NewMemory())
	sc := testScore(1, 2)
	s.MarkCorrupted(sc)
	assert.True(t, s.Get(sc).IsCorrupted)
}

func TestMalformedRecordIsReinitialized(t *testing.T) {
	t.Parallel()
	kv := kvstore.NewMemory()
	sc := testScore(1, 2)
	require.NoError(t, kv.Put(sc.ID, []byte(`{"measure-1": `)))
	require.NoError(t, kv.Put(IrregularKey(sc.ID), []byte(`nope`)))

	s, _ := newTestStore(t, kv)
	rec := s.Get(sc)
	assert.Equal(t, []int{1, 2}, rec.MeasureNumbers())
	assert.False(t, rec.Annotated(1))
	assert.Empty(t, s.Irregular(sc))

	data, err := kv.Get(sc.ID)
	require.NoError(t, err)
	var stored Record
	require.NoError(t, json.Unmarshal(data, &stored))
}

func TestMismatchedRecordIsReshaped(t *testing.T) {
	t.Parallel()
	kv := kvstore.NewMemory()
	sc := testScore(1, 2)
	require.NoError(t, kv.Put(sc.ID, []byte(`{
		"measure-1": {"staff-0": {"note-0": "hard"}},
		"measure-9": {"staff-0": {"note-0": "easy"}},
		"isCorrupted": false, "startTime": 5, "annotationTime": 77}`)))

	s, _ := newTestStore(t, kv)
	rec := s.Get(sc)
	assert.Equal(t, [][]Label{{Hard, None, None}, {None, None}}, rec.Measures[1])
	assert.NotContains(t, rec.Measures, 9)
	assert.Equal(t, int64(77), rec.AnnotationTime)
}

func TestRestoreMeasure(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, kvstore.NewMemory())
	sc := testScore(1, 1)

	s.RestoreMeasure(sc, 1, [][]Label{{Easy, Medium}, {Hard, Hard, Hard}, {KeyA}})
	assert.Equal(t, [][]Label{{Easy, Medium, None}, {Hard, Hard}}, s.MeasureLabels(sc, 1))

	s.RestoreMeasure(sc, 1, nil)
	assert.False(t, s.Get(sc).Annotated(1))
}

func TestIrregularBoxes(t *testing.T) {
	t.Parallel()
	kv := kvstore.NewMemory()
	s, _ := newTestStore(t, kv)
	sc := testScore(1, 3)

	box := IrregularBox{X: 120, Y: 100, Height: 40, Width: 90, YMiddle: 140, HeightMiddle: 60, Color: "#FF4633"}
	s.SetIrregular(sc, 2, []IrregularBox{box})
	s.SetIrregular(sc, 8, []IrregularBox{box})
	assert.Equal(t, IrregularRecord{2: {box}}, s.Irregular(sc))

	data, err := kv.Get(IrregularKey(sc.ID))
	require.NoError(t, err)
	assert.JSONEq(t, `{"2":[{"x":120,"y":100,"height":40,"width":90,"yMiddle":140,"heightMiddle":60,"color":"#FF4633"}]}`, string(data))

	s.Forget(sc.ID)
	assert.Equal(t, IrregularRecord{2: {box}}, s.Irregular(sc))

	s.DropIrregular(sc, 2)
	assert.Empty(t, s.Irregular(sc))
}

func TestReloadAfterEviction(t *testing.T) {
	t.Parallel()
	kv := kvstore.NewMemory()
	s, _ := newTestStore(t, kv)
	sc := testScore(1, 2)

	s.SetNote(sc, 2, 1, 0, KeyL)
	s.Forget(sc.ID)
	assert.Equal(t, KeyL, s.MeasureLabels(sc, 2)[1][0])
}

type failingKV struct {
	kvstore.Store
}

func (failingKV) Put(string, []byte) error { return errors.New("disk full") }

func TestPersistFailureKeepsSessionAlive(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, failingKV{kvstore.NewMemory()})
	sc := testScore(1, 2)

	s.SetMeasureRange(sc, []int{1}, Easy)
	assert.True(t, s.Get(sc).Annotated(1))
}

func TestNilScoreIsHarmless(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, kvstore.NewMemory())
	s.SetMeasureRange(nil, []int{1}, Easy)
	s.Clear(&score.Score{ID: "x", Layout: &score.Layout{}})
	assert.Empty(t, s.Get(nil).Measures)
	assert.False(t, s.IsFullyAnnotated(nil))
	_, ok := s.LastAnnotated(nil)
	assert.False(t, ok)
}
