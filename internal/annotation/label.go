// Package annotation owns the canonical per-note label state of every score
// and its persistence.
package annotation

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Label is the difficulty or category tag assigned to a note.
type Label uint8

const (
	None Label = iota
	Easy
	Medium
	Hard
	KeyQ
	KeyW
	KeyE
	KeyR
	KeyT
	KeyY
	KeyU
	KeyI
	KeyO
	KeyP
	KeyA
	KeyS
	KeyD
	KeyF
	KeyG
	KeyH
	KeyJ
	KeyK
	KeyL

	numLabels
)

var labelNames = [numLabels]string{
	None:   "None",
	Easy:   "easy",
	Medium: "medium",
	Hard:   "hard",
	KeyQ:   "KeyQ",
	KeyW:   "KeyW",
	KeyE:   "KeyE",
	KeyR:   "KeyR",
	KeyT:   "KeyT",
	KeyY:   "KeyY",
	KeyU:   "KeyU",
	KeyI:   "KeyI",
	KeyO:   "KeyO",
	KeyP:   "KeyP",
	KeyA:   "KeyA",
	KeyS:   "KeyS",
	KeyD:   "KeyD",
	KeyF:   "KeyF",
	KeyG:   "KeyG",
	KeyH:   "KeyH",
	KeyJ:   "KeyJ",
	KeyK:   "KeyK",
	KeyL:   "KeyL",
}

// Labels returns every label, None first.
func Labels() []Label {
	out := make([]Label, 0, numLabels)
	for l := None; l < numLabels; l++ {
		out = append(out, l)
	}
	return out
}

func (l Label) String() string {
	if l < numLabels {
		return labelNames[l]
	}
	return "Label(" + strconv.Itoa(int(l)) + ")"
}

// Valid reports whether l is one of the defined labels.
func (l Label) Valid() bool {
	return l < numLabels
}

// ParseLabel returns the label with the given persisted name.
func ParseLabel(name string) (Label, error) {
	for l, n := range labelNames {
		if n == name {
			return Label(l), nil
		}
	}
	return None, fmt.Errorf("unknown label %q", name)
}

func (l Label) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid label %d", l)
	}
	return []byte(labelNames[l]), nil
}

func (l *Label) UnmarshalText(text []byte) error {
	parsed, err := ParseLabel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Color is a "#rrggbb" display color.
type Color string

// SelectionColor marks the cursor box. It doubles as the color of None.
const SelectionColor Color = "#b7bbbd"

// RGBA parses the hex color.
func (c Color) RGBA() (color.RGBA, error) {
	s := strings.TrimPrefix(string(c), "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", string(c))
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", string(c), err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// normalized lowercases the color so "#FF4633" and "#ff4633" compare equal.
func (c Color) normalized() Color {
	return Color(strings.ToLower(string(c)))
}

// Palette maps every label to a distinct display color.
type Palette struct {
	colors  map[Label]Color
	inverse map[Color]Label
}

// NewPalette validates and builds a palette. None must be present and no
// two labels may share a color, so a rendered color always identifies its
// label.
func NewPalette(colors map[Label]Color) (*Palette, error) {
	if _, ok := colors[None]; !ok {
		return nil, fmt.Errorf("palette has no color for None")
	}
	p := &Palette{
		colors:  make(map[Label]Color, len(colors)),
		inverse: make(map[Color]Label, len(colors)),
	}
	for l, c := range colors {
		if !l.Valid() {
			return nil, fmt.Errorf("palette: invalid label %d", l)
		}
		if _, err := c.RGBA(); err != nil {
			return nil, fmt.Errorf("palette: %s: %w", l, err)
		}
		key := c.normalized()
		if other, dup := p.inverse[key]; dup {
			return nil, fmt.Errorf("palette: %s and %s share color %s", other, l, c)
		}
		p.colors[l] = c
		p.inverse[key] = l
	}
	return p, nil
}

// Color returns the display color of l, or the None color for labels the
// palette does not know.
func (p *Palette) Color(l Label) Color {
	if c, ok := p.colors[l]; ok {
		return c
	}
	return p.colors[None]
}

// Label returns the label drawn with color c.
func (p *Palette) Label(c Color) (Label, bool) {
	l, ok := p.inverse[c.normalized()]
	return l, ok
}

// DefaultPalette is the fixed label/color table of the annotator.
var DefaultPalette = mustPalette(map[Label]Color{
	None:   SelectionColor,
	Easy:   "#33FF42",
	Medium: "#FFBE33",
	Hard:   "#FF4633",
	KeyQ:   "#f08080",
	KeyW:   "#808000",
	KeyE:   "#FFFF00",
	KeyR:   "#ff00ff",
	KeyT:   "#9acd32",
	KeyY:   "#2e8b57",
	KeyU:   "#00ffff",
	KeyI:   "#34ebc9",
	KeyO:   "#ffe4b5",
	KeyP:   "#8f34eb",
	KeyA:   "#720026",
	KeyS:   "#2f4f4f",
	KeyD:   "#43AA8B",
	KeyF:   "#DAF7A6",
	KeyG:   "#ff1493",
	KeyH:   "#577590",
	KeyJ:   "#800080",
	KeyK:   "#2C2D72",
	KeyL:   "#B4C5E4",
})

func mustPalette(colors map[Label]Color) *Palette {
	p, err := NewPalette(colors)
	if err != nil {
		panic(err)
	}
	return p
}

// KeyLabels maps keyboard keys to the label they apply.
var KeyLabels = map[string]Label{
	"1": Easy, "2": Medium, "3": Hard,
	"q": KeyQ, "w": KeyW, "e": KeyE, "r": KeyR, "t": KeyT, "y": KeyY,
	"u": KeyU, "i": KeyI, "o": KeyO, "p": KeyP, "a": KeyA, "s": KeyS,
	"d": KeyD, "f": KeyF, "g": KeyG, "h": KeyH, "j": KeyJ, "k": KeyK,
	"l": KeyL,
}

// KeyOrder lists KeyLabels' keys in legend order.
var KeyOrder = []string{
	"1", "2", "3",
	"q", "w", "e", "r", "t", "y", "u", "i", "o", "p",
	"a", "s", "d", "f", "g", "h", "j", "k", "l",
}
