package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/atotto/clipboard"

	"scoremark/internal/geometry"
	"scoremark/internal/overlay"
	"scoremark/internal/score"
	"scoremark/internal/session"
)

// overlayConfig builds the overlay geometry from the settings.
func (d *deps) overlayConfig() overlay.Config {
	cfg := overlay.DefaultConfig()
	cfg.Scale = d.settings.Overlay.UnitScale
	cfg.StaffHeight = d.settings.Overlay.StaffHeight
	cfg.Opacity = d.settings.Overlay.Opacity
	return cfg
}

// startSession loads and renders a score and starts a controller on it.
func (d *deps) startSession(scoreID string, persist session.Persister, opts ...session.Option) (*session.Controller, error) {
	if err := d.renderer.Load(scoreID); err != nil {
		return nil, err
	}
	if err := d.renderer.Render(); err != nil {
		return nil, err
	}
	sc := &score.Score{ID: scoreID, Layout: d.renderer.MeasureList()}
	opts = append([]session.Option{
		session.WithMaxDistance(d.settings.Pointer.MaxDistance),
		session.WithLogger(d.log),
	}, opts...)
	return session.New(sc, d.store, d.deriver, overlay.NewRenderer(d.overlayConfig()), persist, opts...)
}

func (m *model) openScore(scoreID string) {
	ctrl, err := m.startSession(scoreID, m.bridge)
	if err != nil {
		m.log.Error("opening score failed", "score", scoreID, "error", err)
		m.errorMessage = fmt.Sprintf("cannot open %s: %v", filepath.Base(scoreID), err)
		if m.ctrl == nil {
			m.mode = ModeEmpty
			return
		}
		// keep re-renders on the score still open
		if err := m.renderer.Load(m.ctrl.Score().ID); err != nil {
			m.log.Warn("reloading previous layout failed", "score", m.ctrl.Score().ID, "error", err)
		}
		return
	}
	if m.ctrl != nil {
		prev := m.ctrl.Score().ID
		m.ctrl.Close()
		if prev != scoreID {
			m.store.Forget(prev)
		}
	}
	m.ctrl = ctrl
	m.mode = ModeNormal
	m.scrollX, m.scrollY = 0, 0
	m.ensureSelectionVisible()
	m.successMessage = "Opened " + filepath.Base(scoreID)
}

// switchFile saves and opens the score picked by pick. At either end of
// the file list it only saves.
func (m *model) switchFile(pick func(string) (string, error)) {
	if m.ctrl == nil {
		return
	}
	current := m.ctrl.Score().ID
	next, err := pick(current)
	if err != nil {
		m.errorMessage = err.Error()
		return
	}
	if next == current {
		m.ctrl.Save()
		m.successMessage = "No more files"
		return
	}
	m.openScore(next)
}

// canvasHeight is the number of rows left for the score.
func (m *model) canvasHeight() int {
	return max(1, m.height-statusLines)
}

func (m *model) canvasWidth() int {
	return max(1, m.width)
}

// unitsAt converts a terminal cell to renderer units at the cell's centre.
func (m *model) unitsAt(cellX, cellY int) geometry.Point {
	v := m.settings.View
	return geometry.Point{
		X: (float64(cellX+m.scrollX) + 0.5) * v.CellWidth,
		Y: (float64(cellY+m.scrollY) + 0.5) * v.CellHeight,
	}
}

// cellOf converts renderer units to a cell of the unscrolled grid.
func cellOf(x, y, cellWidth, cellHeight float64) (int, int) {
	return int(x / cellWidth), int(y / cellHeight)
}

func (m *model) copyRecord() error {
	if m.ctrl == nil {
		return fmt.Errorf("no score open")
	}
	data, err := json.MarshalIndent(m.ctrl.Record(), "", "    ")
	if err != nil {
		return err
	}
	return clipboard.WriteAll(string(data))
}

// committedShapes drops the selection box.
func committedShapes(shapes []overlay.Shape) []overlay.Shape {
	out := make([]overlay.Shape, 0, len(shapes))
	for _, s := range shapes {
		if s.Kind != overlay.Selection {
			out = append(out, s)
		}
	}
	return out
}
