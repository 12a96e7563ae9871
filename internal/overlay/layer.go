// Package overlay keeps the highlight shapes drawn over the rendered score.
//
// Shapes live in a Layer in pixel units. The terminal view and the PNG
// exporter only read the layer; all drawing and erasing goes through a
// Renderer.
package overlay

import (
	"scoremark/internal/annotation"
	"scoremark/internal/geometry"
)

// Kind separates the erase namespaces of shapes.
type Kind uint8

const (
	// Committed shapes show persisted annotations, tagged by measure.
	Committed Kind = iota
	// Selection shapes mark the cursor.
	Selection
	// Irregular shapes replay hand-drawn sub-measure boxes.
	Irregular
)

func (k Kind) String() string {
	switch k {
	case Committed:
		return "committed"
	case Selection:
		return "selection"
	case Irregular:
		return "irregular"
	default:
		return "unknown"
	}
}

// Shape is one filled rectangle.
type Shape struct {
	Rect    geometry.Rect
	Color   annotation.Color
	Kind    Kind
	Measure int
}

// Layer is an ordered list of shapes; later shapes paint over earlier ones.
type Layer struct {
	shapes []Shape
}

// NewLayer returns an empty layer.
func NewLayer() *Layer {
	return &Layer{}
}

// Add appends a shape.
func (l *Layer) Add(s Shape) {
	l.shapes = append(l.shapes, s)
}

// Shapes returns a copy of the shapes in paint order.
func (l *Layer) Shapes() []Shape {
	return append([]Shape(nil), l.shapes...)
}

// Len returns the number of shapes.
func (l *Layer) Len() int {
	return len(l.shapes)
}

// Count returns the number of shapes of the given kind.
func (l *Layer) Count(kind Kind) int {
	n := 0
	for _, s := range l.shapes {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// Remove drops every shape matching fn and returns how many were dropped.
func (l *Layer) Remove(fn func(Shape) bool) int {
	kept := l.shapes[:0]
	for _, s := range l.shapes {
		if !fn(s) {
			kept = append(kept, s)
		}
	}
	removed := len(l.shapes) - len(kept)
	for i := len(kept); i < len(l.shapes); i++ {
		l.shapes[i] = Shape{}
	}
	l.shapes = kept
	return removed
}

// Reset drops every shape.
func (l *Layer) Reset() {
	l.shapes = nil
}
