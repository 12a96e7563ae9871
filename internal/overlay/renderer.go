package overlay

import (
	"math"
	"strings"

	"scoremark/internal/annotation"
	"scoremark/internal/geometry"
	"scoremark/internal/score"
)

// Config holds the overlay geometry.
type Config struct {
	// Scale converts renderer units to pixels.
	Scale float64
	// StaffHeight is the highlighted height of a staff in renderer units.
	StaffHeight float64
	// Opacity is the fill alpha used when shapes are composited.
	Opacity   float64
	Selection annotation.Color
}

// DefaultConfig returns the stock geometry.
func DefaultConfig() Config {
	return Config{
		Scale:       10,
		StaffHeight: 4,
		Opacity:     0.25,
		Selection:   annotation.SelectionColor,
	}
}

// Renderer draws and erases shapes on a layer.
type Renderer struct {
	cfg   Config
	layer *Layer
}

// NewRenderer returns a renderer drawing on a fresh layer. Zero fields of
// cfg take their defaults.
func NewRenderer(cfg Config) *Renderer {
	def := DefaultConfig()
	if cfg.Scale <= 0 {
		cfg.Scale = def.Scale
	}
	if cfg.StaffHeight <= 0 {
		cfg.StaffHeight = def.StaffHeight
	}
	if cfg.Opacity <= 0 || cfg.Opacity > 1 {
		cfg.Opacity = def.Opacity
	}
	if cfg.Selection == "" {
		cfg.Selection = def.Selection
	}
	return &Renderer{cfg: cfg, layer: NewLayer()}
}

// Config returns the effective configuration.
func (r *Renderer) Config() Config {
	return r.cfg
}

// Layer returns the surface the renderer draws on.
func (r *Renderer) Layer() *Layer {
	return r.layer
}

func (r *Renderer) isSelection(c annotation.Color) bool {
	return strings.EqualFold(string(c), string(r.cfg.Selection))
}

// StaffBoxes returns, in pixels, the boxes highlighting [startX, endX] of a
// measure: per staff, the staff box and the box bridging the gap down to
// the next staff. Empty boxes are left out.
func (r *Renderer) StaffBoxes(m score.Measure, startX, endX float64) []geometry.Rect {
	var boxes []geometry.Rect
	for _, b := range r.staffPairs(m, startX, endX) {
		for _, rect := range []geometry.Rect{b.staff, b.gap} {
			if !rect.Empty() {
				boxes = append(boxes, rect)
			}
		}
	}
	return boxes
}

type staffPair struct {
	staff geometry.Rect
	gap   geometry.Rect
}

func (r *Renderer) staffPairs(m score.Measure, startX, endX float64) []staffPair {
	pairs := make([]staffPair, 0, len(m))
	width := endX - startX
	for s, st := range m {
		p := staffPair{
			staff: geometry.Rect{X: startX, Y: st.Position.Y, Width: width, Height: r.cfg.StaffHeight},
		}
		if s+1 < len(m) {
			top := st.Position.Y + r.cfg.StaffHeight
			gap := math.Max(m[s+1].Position.Y-top, 0)
			p.gap = geometry.Rect{X: startX, Y: top, Width: width, Height: gap}
		}
		p.staff = p.staff.Scale(r.cfg.Scale)
		p.gap = p.gap.Scale(r.cfg.Scale)
		pairs = append(pairs, p)
	}
	return pairs
}

// DrawMeasureBoxes highlights every staff of each named measure. The
// selection color draws selection shapes; any other color replaces the
// measure's committed shapes.
func (r *Renderer) DrawMeasureBoxes(measures []int, color annotation.Color, layout *score.Layout) {
	if layout == nil {
		return
	}
	kind := Committed
	if r.isSelection(color) {
		kind = Selection
	}
	for _, n := range measures {
		m, ok := layout.Measure(n)
		if !ok {
			continue
		}
		if kind == Committed {
			r.EraseForMeasure(n)
		}
		for _, rect := range r.StaffBoxes(m, m.Left(), m.Right()) {
			r.layer.Add(Shape{Rect: rect, Color: color, Kind: kind, Measure: n})
		}
	}
}

// DrawRegion highlights [startX, endX] of a measure as committed shapes.
func (r *Renderer) DrawRegion(measure int, startX, endX float64, color annotation.Color, layout *score.Layout) {
	if layout == nil || endX <= startX {
		return
	}
	m, ok := layout.Measure(measure)
	if !ok {
		return
	}
	for _, rect := range r.StaffBoxes(m, startX, endX) {
		r.layer.Add(Shape{Rect: rect, Color: color, Kind: Committed, Measure: measure})
	}
}

// DrawIrregularBox draws one pixel-unit box in the irregular namespace.
func (r *Renderer) DrawIrregularBox(x, y, height, width float64, color annotation.Color, measure int) {
	rect := geometry.Rect{X: x, Y: y, Width: width, Height: height}
	if rect.Empty() {
		return
	}
	r.layer.Add(Shape{Rect: rect, Color: color, Kind: Irregular, Measure: measure})
}

// IrregularBoxes describes [startX, endX] of a measure as persisted
// irregular boxes, one per staff.
func (r *Renderer) IrregularBoxes(m score.Measure, startX, endX float64, color annotation.Color) []annotation.IrregularBox {
	pairs := r.staffPairs(m, startX, endX)
	boxes := make([]annotation.IrregularBox, 0, len(pairs))
	for _, p := range pairs {
		boxes = append(boxes, annotation.IrregularBox{
			X:            p.staff.X,
			Y:            p.staff.Y,
			Height:       p.staff.Height,
			Width:        p.staff.Width,
			YMiddle:      p.staff.Bottom(),
			HeightMiddle: p.gap.Height,
			Color:        color,
		})
	}
	return boxes
}

// ReplayIrregular draws persisted boxes verbatim: each box and its middle
// companion.
func (r *Renderer) ReplayIrregular(measure int, boxes []annotation.IrregularBox) {
	for _, b := range boxes {
		r.DrawIrregularBox(b.X, b.Y, b.Height, b.Width, b.Color, measure)
		r.DrawIrregularBox(b.X, b.YMiddle, b.HeightMiddle, b.Width, b.Color, measure)
	}
}

// EraseAll removes every shape.
func (r *Renderer) EraseAll() {
	r.layer.Reset()
}

// EraseForMeasure removes the committed shapes of measure n.
func (r *Renderer) EraseForMeasure(n int) {
	r.layer.Remove(func(s Shape) bool { return s.Kind == Committed && s.Measure == n })
}

// EraseIrregular removes the irregular shapes of measure n.
func (r *Renderer) EraseIrregular(n int) {
	r.layer.Remove(func(s Shape) bool { return s.Kind == Irregular && s.Measure == n })
}

// EraseAllSelections removes the selection shapes.
func (r *Renderer) EraseAllSelections() {
	r.layer.Remove(func(s Shape) bool { return s.Kind == Selection })
}
