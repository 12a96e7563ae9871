// Package session drives one annotation session over one score: it turns
// navigation, labelling and pointer gestures into store mutations and keeps
// the overlay in step with the stored labels.
package session

import (
	"errors"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"scoremark/internal/annotation"
	"scoremark/internal/bridge"
	"scoremark/internal/geometry"
	"scoremark/internal/logging"
	"scoremark/internal/overlay"
	"scoremark/internal/region"
	"scoremark/internal/score"
)

// ErrNoMeasures is returned when a controller is created for an empty score.
var ErrNoMeasures = errors.New("session: score has no measures")

// DefaultMaxDistance bounds pointer hit-testing, in renderer units.
const DefaultMaxDistance = 5.0

// Modifier is the set of modifier keys held during an input event.
type Modifier uint8

const (
	Shift Modifier = 1 << iota
	Alt
	Ctrl
)

// Has reports whether all modifiers of f are held.
func (m Modifier) Has(f Modifier) bool {
	return m&f == f
}

// Persister receives finished annotations and completion changes.
type Persister interface {
	SaveToJSON(scoreID string, payload any) error
	MarkAnnotated(scoreID string, complete bool) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithPalette replaces the default label colors.
func WithPalette(p *annotation.Palette) Option {
	return func(c *Controller) { c.palette = p }
}

// WithMaxDistance sets how far from a note a pointer event may land.
func WithMaxDistance(d float64) Option {
	return func(c *Controller) { c.maxDistance = d }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithoutTiming opens the score without starting or accruing editing time.
// Exports use it so that reading a score leaves its record untouched.
func WithoutTiming() Option {
	return func(c *Controller) { c.untimed = true }
}

type drag struct {
	mod   Modifier
	hit   score.Hit
	point geometry.Point
}

// Controller is the state of one annotation session. It is created when a
// score is loaded and discarded when another score is opened. It is not
// safe for concurrent use.
type Controller struct {
	id       string
	sc       *score.Score
	store    *annotation.Store
	deriver  *region.Deriver
	overlay  *overlay.Renderer
	persist  Persister
	palette  *annotation.Palette
	log      *slog.Logger
	history  history
	pressed  *drag
	position int
	active   annotation.Label
	hidden   bool
	complete bool
	untimed  bool

	maxDistance float64
}

// New starts a session on sc and draws its overlay.
func New(sc *score.Score, store *annotation.Store, deriver *region.Deriver, renderer *overlay.Renderer, persist Persister, opts ...Option) (*Controller, error) {
	if sc == nil || sc.Layout == nil || len(sc.Layout.Measures) == 0 {
		return nil, ErrNoMeasures
	}
	c := &Controller{
		id:          uuid.NewString(),
		sc:          sc,
		store:       store,
		deriver:     deriver,
		overlay:     renderer,
		persist:     persist,
		palette:     annotation.DefaultPalette,
		maxDistance: DefaultMaxDistance,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.Module(c.log, "session").With("session", c.id, "score", sc.ID)

	if !c.untimed {
		c.store.BeginSession(sc)
	}
	c.Reload()
	c.log.Info("session started", "measures", len(sc.Layout.Measures), "position", c.position)
	return c, nil
}

// ID returns the session identifier used in logs.
func (c *Controller) ID() string { return c.id }

// Score returns the annotated score.
func (c *Controller) Score() *score.Score { return c.sc }

// Position returns the measure number under the cursor.
func (c *Controller) Position() int { return c.position }

// Active returns the label used by pointer drags.
func (c *Controller) Active() annotation.Label { return c.active }

// Hidden reports whether the selection box is hidden.
func (c *Controller) Hidden() bool { return c.hidden }

// Complete reports whether every note carries a label.
func (c *Controller) Complete() bool { return c.complete }

// Layer returns the overlay shapes.
func (c *Controller) Layer() *overlay.Layer { return c.overlay.Layer() }

// Record returns a copy of the stored record.
func (c *Controller) Record() *annotation.Record { return c.store.Get(c.sc) }

// CanUndo and CanRedo report whether the history has anything to apply.
func (c *Controller) CanUndo() bool { return len(c.history.undo) > 0 }
func (c *Controller) CanRedo() bool { return len(c.history.redo) > 0 }

func (c *Controller) layout() *score.Layout { return c.sc.Layout }

func (c *Controller) drawSelection() {
	c.overlay.EraseAllSelections()
	if c.hidden {
		return
	}
	c.overlay.DrawMeasureBoxes([]int{c.position}, c.overlay.Config().Selection, c.layout())
}

func (c *Controller) moveTo(n int) {
	c.position = max(c.layout().First(), min(n, c.layout().Last()))
	c.hidden = false
	c.drawSelection()
}

// Advance moves the cursor one measure right, stopping at the last measure.
func (c *Controller) Advance() {
	c.moveTo(c.position + 1)
}

// Retreat moves the cursor one measure left, stopping at the first measure.
func (c *Controller) Retreat() {
	c.moveTo(c.position - 1)
}

// Label applies l to the measure under the cursor and advances. With Shift
// or Alt held it only makes l the active label for pointer drags.
func (c *Controller) Label(l annotation.Label, mod Modifier) {
	if !l.Valid() {
		return
	}
	c.active = l
	if mod.Has(Shift) || mod.Has(Alt) {
		return
	}
	c.labelMeasures([]int{c.position}, l)
	c.Advance()
}

func (c *Controller) labelMeasures(measures []int, l annotation.Label) {
	c.store.RecordElapsed(c.sc)
	before := c.snapshot(measures)
	c.store.SetMeasureRange(c.sc, measures, l)
	for _, n := range measures {
		c.store.DropIrregular(c.sc, n)
	}
	c.commit(before, measures)
}

// commit records the change from before to the current state of measures,
// redraws them and checks for completion.
func (c *Controller) commit(before []measureState, measures []int) {
	after := c.snapshot(measures)
	c.history.push(edit{before: before, after: after})
	for _, n := range measures {
		c.redrawMeasure(n)
	}
	c.checkCompletion()
}

// Backspace clears the measure under the cursor and retreats.
func (c *Controller) Backspace() {
	measures := []int{c.position}
	if c.store.Get(c.sc).Annotated(c.position) || len(c.store.Irregular(c.sc)[c.position]) > 0 {
		c.labelMeasures(measures, annotation.None)
	}
	c.Retreat()
}

// Clear resets every label of the score and moves the cursor to the first
// measure. History is dropped.
func (c *Controller) Clear() {
	c.store.Clear(c.sc)
	c.overlay.EraseAll()
	c.history = history{}
	c.checkCompletion()
	c.position = c.layout().First()
	c.drawSelection()
	c.log.Info("annotations cleared")
}

// ToggleHidden hides or shows the selection box. Committed shapes stay.
func (c *Controller) ToggleHidden() {
	c.hidden = !c.hidden
	if c.hidden {
		c.overlay.EraseAllSelections()
		return
	}
	c.drawSelection()
}

// MarkCorrupted flags the score; saving then writes a sentinel payload.
func (c *Controller) MarkCorrupted() {
	c.store.MarkCorrupted(c.sc)
	c.log.Warn("score marked corrupted")
}

// Press starts a pointer drag at p, in renderer units. Only Shift and Alt
// drags exist, and only with an active label other than None.
func (c *Controller) Press(p geometry.Point, mod Modifier) {
	c.pressed = nil
	if !mod.Has(Shift) && !mod.Has(Alt) {
		return
	}
	if c.active == annotation.None {
		return
	}
	hit, ok := c.nearest(p)
	if !ok {
		c.log.Debug("drag abandoned, no note near press", "x", p.X, "y", p.Y)
		return
	}
	kind := Shift
	if mod.Has(Alt) {
		kind = Alt
	}
	c.pressed = &drag{mod: kind, hit: hit, point: p}
}

// Release ends a pointer drag at p.
func (c *Controller) Release(p geometry.Point, mod Modifier) {
	start := c.pressed
	c.pressed = nil
	if start == nil || !mod.Has(start.mod) {
		return
	}
	hit, ok := c.nearest(p)
	if !ok {
		c.log.Debug("drag abandoned, no note near release", "x", p.X, "y", p.Y)
		return
	}
	end := &drag{mod: start.mod, hit: hit, point: p}
	if end.hit.Measure < start.hit.Measure ||
		(end.hit.Measure == start.hit.Measure && end.point.X < start.point.X) {
		start, end = end, start
	}

	var touched []int
	if start.mod == Alt {
		touched = c.dragNotes(start, end)
	} else {
		touched = c.dragMeasures(start.hit.Measure, end.hit.Measure)
	}
	c.log.Debug("drag applied", "from", start.hit.Measure, "to", end.hit.Measure, "label", c.active.String())
	c.moveTo(touched[len(touched)-1] + 1)
}

func (c *Controller) nearest(p geometry.Point) (score.Hit, bool) {
	return c.layout().NearestNote(p, geometry.Point{X: c.maxDistance, Y: c.maxDistance})
}

func measureSpan(first, last int) []int {
	out := make([]int, 0, last-first+1)
	for n := first; n <= last; n++ {
		out = append(out, n)
	}
	return out
}

func (c *Controller) dragMeasures(first, last int) []int {
	measures := measureSpan(first, last)
	c.labelMeasures(measures, c.active)
	return measures
}

// dragNotes labels the notes between the two pointer positions: from the
// press x to the end of its measure, every measure in between, and from
// the start of the release measure to the release x. The edge measures
// keep irregular boxes.
func (c *Controller) dragNotes(start, end *drag) []int {
	first, last := start.hit.Measure, end.hit.Measure
	measures := measureSpan(first, last)

	c.store.RecordElapsed(c.sc)
	before := c.snapshot(measures)
	color := c.palette.Color(c.active)

	for _, n := range measures {
		m, ok := c.layout().Measure(n)
		if !ok {
			continue
		}
		xMin, xMax := math.Inf(-1), math.Inf(1)
		boxMin, boxMax := m.Left(), m.Right()
		if n == first {
			xMin, boxMin = start.point.X, start.point.X
		}
		if n == last {
			xMax, boxMax = end.point.X, end.point.X
		}
		if n != first && n != last {
			c.store.SetMeasureRange(c.sc, []int{n}, c.active)
			c.store.DropIrregular(c.sc, n)
			continue
		}
		for s := range m {
			c.store.SetRange(c.sc, n, s, xMin, xMax, c.active)
		}
		boxes := c.store.Irregular(c.sc)[n]
		boxes = append(boxes, c.overlay.IrregularBoxes(m, boxMin, boxMax, color)...)
		c.store.SetIrregular(c.sc, n, boxes)
	}
	c.commit(before, measures)
	return measures
}

// redrawMeasure repaints the committed and irregular shapes of measure n
// from the store.
func (c *Controller) redrawMeasure(n int) {
	c.overlay.EraseForMeasure(n)
	c.overlay.EraseIrregular(n)
	c.drawMeasure(n, c.store.Irregular(c.sc)[n])
}

// drawMeasure paints the derived regions of measure n with its irregular
// boxes on top.
func (c *Controller) drawMeasure(n int, irregular []annotation.IrregularBox) {
	m, ok := c.layout().Measure(n)
	if !ok {
		return
	}
	for _, r := range c.deriver.Measure(m, c.store.MeasureLabels(c.sc, n)) {
		color := c.palette.Color(r.Label)
		if r.Whole {
			c.overlay.DrawMeasureBoxes([]int{n}, color, c.layout())
			continue
		}
		c.overlay.DrawRegion(n, r.StartX, r.EndX, color, c.layout())
	}
	if len(irregular) > 0 {
		c.overlay.ReplayIrregular(n, irregular)
	}
}

// checkCompletion notifies the persister when the score becomes fully
// annotated or stops being so.
func (c *Controller) checkCompletion() {
	full := c.store.IsFullyAnnotated(c.sc)
	if full == c.complete {
		return
	}
	c.complete = full
	c.log.Info("completion changed", "complete", full)
	if err := c.persist.MarkAnnotated(c.sc.ID, full); err != nil {
		c.log.Error("marking annotation status failed", "error", err)
	}
}

// Reload rebuilds the whole overlay from the store, after a score load or
// a re-layout. The cursor goes one past the last annotated measure.
func (c *Controller) Reload() {
	c.overlay.EraseAll()
	irregular := c.store.Irregular(c.sc)
	for _, n := range c.layout().MeasureNumbers() {
		c.drawMeasure(n, irregular[n])
	}
	c.complete = c.store.IsFullyAnnotated(c.sc)
	c.pressed = nil

	c.position = c.layout().First()
	if last, ok := c.store.LastAnnotated(c.sc); ok {
		c.position = min(last+1, c.layout().Last())
	}
	c.drawSelection()
}

// SetLayout swaps in a new layout for the same score and reloads.
func (c *Controller) SetLayout(layout *score.Layout) {
	if layout == nil || len(layout.Measures) == 0 {
		return
	}
	c.sc.Layout = layout
	c.Reload()
}

// Save accounts the elapsed time and hands the record, or the corrupted
// sentinel, to the persister.
func (c *Controller) Save() {
	if !c.untimed {
		c.store.RecordElapsed(c.sc)
	}
	rec := c.store.Get(c.sc)
	var payload any = rec
	if rec.IsCorrupted {
		payload = bridge.CorruptedPayload
	}
	if err := c.persist.SaveToJSON(c.sc.ID, payload); err != nil {
		c.log.Error("saving annotations failed", "error", err)
	}
}

// Close saves and clears the overlay. The controller must not be used
// afterwards.
func (c *Controller) Close() {
	c.Save()
	c.overlay.EraseAll()
	c.log.Info("session closed", "annotation_ms", c.store.Get(c.sc).AnnotationTime)
}
