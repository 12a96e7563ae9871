package main

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"scoremark/internal/annotation"
	"scoremark/internal/overlay"
	"scoremark/internal/score"
)

// Canvas rasterizes a score layout and its overlay shapes into terminal
// cells.
type Canvas struct {
	layout     *score.Layout
	shapes     []overlay.Shape
	scale      float64 // overlay pixels per renderer unit
	cellWidth  float64 // renderer units per column
	cellHeight float64 // renderer units per row
}

// NewCanvas copies the shapes so later overlay changes do not leak in.
// Selection shapes are moved to the end so they paint over committed ones.
func NewCanvas(layout *score.Layout, shapes []overlay.Shape, scale, cellWidth, cellHeight float64) *Canvas {
	ordered := append([]overlay.Shape(nil), shapes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Kind != overlay.Selection && ordered[j].Kind == overlay.Selection
	})
	if scale <= 0 {
		scale = 1
	}
	if cellWidth <= 0 {
		cellWidth = 1
	}
	if cellHeight <= 0 {
		cellHeight = 1
	}
	return &Canvas{layout: layout, shapes: ordered, scale: scale, cellWidth: cellWidth, cellHeight: cellHeight}
}

// Size returns the number of columns and rows needed to show the whole
// score.
func (c *Canvas) Size() (int, int) {
	if c.layout == nil {
		return 0, 0
	}
	b := c.layout.Bounds()
	return int(math.Ceil(b.Right()/c.cellWidth)) + 1, int(math.Ceil(b.Bottom()/c.cellHeight)) + 1
}

func (c *Canvas) col(x float64) int {
	return int(math.Floor(x / c.cellWidth))
}

func (c *Canvas) row(y float64) int {
	return int(math.Floor(y / c.cellHeight))
}

// grid is a window onto the rasterized score.
type grid struct {
	runes  [][]rune
	colors [][]annotation.Color
	offX   int
	offY   int
}

func newGrid(width, height, offX, offY int) *grid {
	g := &grid{offX: offX, offY: offY}
	g.runes = make([][]rune, height)
	g.colors = make([][]annotation.Color, height)
	for i := range g.runes {
		g.runes[i] = []rune(strings.Repeat(" ", width))
		g.colors[i] = make([]annotation.Color, width)
	}
	return g
}

func (g *grid) inside(col, row int) (int, int, bool) {
	x, y := col-g.offX, row-g.offY
	if y < 0 || y >= len(g.runes) || x < 0 || x >= len(g.runes[y]) {
		return 0, 0, false
	}
	return x, y, true
}

func (g *grid) set(col, row int, r rune) {
	if x, y, ok := g.inside(col, row); ok {
		g.runes[y][x] = r
	}
}

func (g *grid) paint(col, row int, color annotation.Color) {
	if x, y, ok := g.inside(col, row); ok {
		g.colors[y][x] = color
	}
}

func (g *grid) text(col, row int, s string) {
	for i, r := range s {
		g.set(col+i, row, r)
	}
}

// rasterize draws the visible window starting at (offX, offY).
func (c *Canvas) rasterize(width, height, offX, offY int) *grid {
	g := newGrid(width, height, offX, offY)
	if c.layout == nil {
		return g
	}

	for _, s := range c.shapes {
		r := s.Rect.Scale(1 / c.scale)
		if r.Empty() {
			continue
		}
		x0, x1 := c.col(r.X), int(math.Ceil(r.Right()/c.cellWidth))
		y0, y1 := c.row(r.Y), int(math.Ceil(r.Bottom()/c.cellHeight))
		for row := y0; row < y1; row++ {
			for col := x0; col < x1; col++ {
				g.paint(col, row, s.Color)
			}
		}
	}

	for _, m := range c.layout.Measures {
		for s, st := range m {
			rect := st.Rect()
			top, bottom := c.row(rect.Y), c.row(rect.Bottom())
			left, right := c.col(st.Left()), c.col(st.Right())
			for row := top; row <= bottom; row++ {
				for col := left; col < right; col++ {
					g.set(col, row, runeStaff)
				}
				g.set(left, row, runeBarline)
			}
			for i := range st.Entries {
				p := st.EntryPoint(i)
				g.set(c.col(p.X), c.row(p.Y), runeNotehead)
			}
			if s == 0 {
				g.text(left+1, top-1, strconv.Itoa(st.MeasureNumber))
			}
		}
	}
	return g
}

// Render returns the colored rows of the visible window.
func (c *Canvas) Render(width, height, offX, offY int) []string {
	g := c.rasterize(width, height, offX, offY)
	rows := make([]string, len(g.runes))
	for i, line := range g.runes {
		var b strings.Builder
		start := 0
		for j := 1; j <= len(line); j++ {
			if j < len(line) && g.colors[i][j] == g.colors[i][start] {
				continue
			}
			b.WriteString(styleFor(g.colors[i][start]).Render(string(line[start:j])))
			start = j
		}
		rows[i] = b.String()
	}
	return rows
}

// RenderPlain returns the rows without colors.
func (c *Canvas) RenderPlain(width, height, offX, offY int) []string {
	g := c.rasterize(width, height, offX, offY)
	rows := make([]string, len(g.runes))
	for i, line := range g.runes {
		rows[i] = strings.TrimRight(string(line), " ")
	}
	return rows
}

var plainStyle = lipgloss.NewStyle()

func styleFor(color annotation.Color) lipgloss.Style {
	if color == "" {
		return plainStyle
	}
	return lipgloss.NewStyle().
		Background(lipgloss.Color(string(color))).
		Foreground(lipgloss.Color("#000000"))
}

// legend renders the key map as colored swatches, clipped to width.
func legend(palette *annotation.Palette, active annotation.Label, width int) string {
	parts := make([]string, 0, len(annotation.KeyOrder))
	for _, key := range annotation.KeyOrder {
		l := annotation.KeyLabels[key]
		text := " " + key + " "
		if l == active {
			text = "[" + key + "]"
		}
		parts = append(parts, styleFor(palette.Color(l)).Render(text))
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(strings.Join(parts, " "))
}
