package score

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"scoremark/internal/geometry"
)

// LayoutSuffix is appended to a score path (without its extension) to find
// the layout exported by the notation engine.
const LayoutSuffix = ".layout.json"

// Renderer is the external score renderer contract.
type Renderer interface {
	Load(scoreID string) error
	Render() error
	MeasureList() *Layout
	NearestNote(p, maxDist geometry.Point) (Hit, bool)
}

// FileRenderer serves layouts previously exported next to the score files.
type FileRenderer struct {
	path   string
	layout *Layout
}

// NewFileRenderer creates a renderer with nothing loaded.
func NewFileRenderer() *FileRenderer {
	return &FileRenderer{}
}

// LayoutPath returns the layout file that belongs to a score.
func LayoutPath(scoreID string) string {
	return strings.TrimSuffix(scoreID, filepath.Ext(scoreID)) + LayoutSuffix
}

// Load reads the layout for scoreID.
func (r *FileRenderer) Load(scoreID string) error {
	path := LayoutPath(scoreID)
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open layout %s: %w", path, err)
	}
	defer file.Close()

	layout, err := DecodeLayout(file)
	if err != nil {
		return fmt.Errorf("decode layout %s: %w", path, err)
	}
	r.path = path
	r.layout = layout
	return nil
}

// Render re-reads the layout from disk so that a re-layout by the engine
// (for instance after a resize) is picked up. A layout that fails
// validation leaves the current one in place.
func (r *FileRenderer) Render() error {
	if r.path == "" {
		return fmt.Errorf("render: no score loaded")
	}
	file, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("render %s: %w", r.path, err)
	}
	defer file.Close()

	layout, err := DecodeLayout(file)
	if err != nil {
		return fmt.Errorf("render %s: %w", r.path, err)
	}
	r.layout = layout
	return nil
}

// MeasureList returns the current layout, or nil before Load.
func (r *FileRenderer) MeasureList() *Layout {
	return r.layout
}

// NearestNote hit-tests against the current layout.
func (r *FileRenderer) NearestNote(p, maxDist geometry.Point) (Hit, bool) {
	if r.layout == nil {
		return Hit{}, false
	}
	return r.layout.NearestNote(p, maxDist)
}

// DecodeLayout parses a layout and checks that it has at least one measure
// and that every measure has one or two staves.
func DecodeLayout(rd io.Reader) (*Layout, error) {
	var layout Layout
	if err := json.NewDecoder(rd).Decode(&layout); err != nil {
		return nil, err
	}
	if len(layout.Measures) == 0 {
		return nil, ErrEmptyLayout
	}
	for i, m := range layout.Measures {
		if len(m) == 0 || len(m) > 2 {
			return nil, fmt.Errorf("measure index %d has %d staves", i, len(m))
		}
	}
	return &layout, nil
}
