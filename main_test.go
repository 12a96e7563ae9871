package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoremark/internal/annotation"
	"scoremark/internal/bridge"
	"scoremark/internal/config"
	"scoremark/internal/kvstore"
	"scoremark/internal/logging"
	"scoremark/internal/region"
	"scoremark/internal/score"
	"scoremark/internal/session"
)

// Two measures of two staves; entries sit in the middle of their staff.
const testLayout = `{"measureList": [
  [
    {"measureNumber": 1, "position": {"x": 0, "y": 10}, "width": 30, "staffEntries": [{"x": 5}, {"x": 15}]},
    {"measureNumber": 1, "position": {"x": 0, "y": 20}, "width": 30, "staffEntries": [{"x": 10}]}
  ],
  [
    {"measureNumber": 2, "position": {"x": 30, "y": 10}, "width": 30, "staffEntries": [{"x": 35}, {"x": 45}]},
    {"measureNumber": 2, "position": {"x": 30, "y": 20}, "width": 30, "staffEntries": [{"x": 40}]}
  ]
]}`

// countingRenderer counts re-renders.
type countingRenderer struct {
	*score.FileRenderer
	renders int
}

func (r *countingRenderer) Render() error {
	r.renders++
	return r.FileRenderer.Render()
}

type harness struct {
	dir      string
	local    *bridge.Local
	renderer *countingRenderer
	kv       kvstore.Store
	model    model
}

func writeScore(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("<score-partwise/>"), 0o644))
	require.NoError(t, os.WriteFile(score.LayoutPath(path), []byte(testLayout), 0o644))
	return path
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	first := writeScore(t, dir, "etude.musicxml")
	writeScore(t, dir, "prelude.musicxml")

	log := logging.Discard()
	local, err := bridge.OpenLocal(dir, filepath.Join(dir, "annotations"), log)
	require.NoError(t, err)

	settings := &config.Settings{
		ScoreDirectory:      dir,
		AnnotationDirectory: filepath.Join(dir, "annotations"),
		Confirmations:       true,
		ResizeDelay:         time.Millisecond,
		Overlay:             config.OverlaySettings{UnitScale: 10, StaffHeight: 4, NotePadding: 1.25, Opacity: 0.25},
		View:                config.ViewSettings{CellWidth: 1, CellHeight: 2},
		Pointer:             config.PointerSettings{MaxDistance: 5},
	}
	renderer := &countingRenderer{FileRenderer: score.NewFileRenderer()}
	kv := kvstore.NewMemory()
	m := newModel(deps{
		settings: settings,
		log:      log,
		renderer: renderer,
		store:    annotation.NewStore(kv, annotation.WithLogger(log)),
		deriver:  region.New(),
		bridge:   local,
	})
	m.openScore(first)
	require.NotNil(t, m.ctrl, m.errorMessage)
	return &harness{dir: dir, local: local, renderer: renderer, kv: kv, model: m}
}

func (h *harness) send(t *testing.T, msgs ...tea.Msg) tea.Cmd {
	t.Helper()
	var cmd tea.Cmd
	for _, msg := range msgs {
		next, c := h.model.Update(msg)
		h.model = next.(model)
		cmd = c
	}
	return cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestLabelKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		key   string
		label annotation.Label
		mod   session.Modifier
		ok    bool
	}{
		{"1", annotation.Easy, 0, true},
		{"3", annotation.Hard, 0, true},
		{"q", annotation.KeyQ, 0, true},
		{"l", annotation.KeyL, 0, true},
		{"!", annotation.Easy, session.Shift, true},
		{"#", annotation.Hard, session.Shift, true},
		{"Q", annotation.KeyQ, session.Shift, true},
		{"alt+w", annotation.KeyW, session.Alt, true},
		{"alt+@", annotation.Medium, session.Alt | session.Shift, true},
		{"z", annotation.None, 0, false},
		{"C", annotation.None, session.Shift, false},
		{"4", annotation.None, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			l, mod, ok := labelKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.label, l)
			}
			assert.Equal(t, tt.mod, mod)
		})
	}
}

func TestKeyLabelsAndAdvances(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.Equal(t, 1, h.model.ctrl.Position())

	h.send(t, runes("1"))
	assert.Equal(t, 2, h.model.ctrl.Position())
	rec := h.model.ctrl.Record()
	assert.Equal(t, [][]annotation.Label{{annotation.Easy, annotation.Easy}, {annotation.Easy}}, rec.Measures[1])

	h.send(t, tea.KeyMsg{Type: tea.KeyLeft}, tea.KeyMsg{Type: tea.KeyBackspace})
	assert.False(t, h.model.ctrl.Record().Annotated(1))

	h.send(t, tea.KeyMsg{Type: tea.KeyCtrlZ})
	assert.True(t, h.model.ctrl.Record().Annotated(1))
	h.send(t, tea.KeyMsg{Type: tea.KeyCtrlY})
	assert.False(t, h.model.ctrl.Record().Annotated(1))
}

func TestShiftedKeyOnlySelects(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.send(t, runes("#"))
	assert.Equal(t, annotation.Hard, h.model.ctrl.Active())
	assert.Equal(t, 1, h.model.ctrl.Position())
	assert.False(t, h.model.ctrl.Record().Annotated(1))
	assert.Contains(t, h.model.successMessage, "hard")
}

func TestShiftDragLabelsMeasures(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.send(t, runes("@"))

	// Cell (4,5) maps to (4.5, 11) near the first note at (5, 12).
	h.send(t,
		tea.MouseMsg{X: 4, Y: 5, Shift: true, Type: tea.MouseLeft},
		tea.MouseMsg{X: 34, Y: 5, Shift: true, Type: tea.MouseRelease},
	)
	rec := h.model.ctrl.Record()
	for _, n := range []int{1, 2} {
		l, ok := rec.Uniform(n)
		assert.True(t, ok)
		assert.Equal(t, annotation.Medium, l, "measure %d", n)
	}
	assert.True(t, h.model.ctrl.Complete())
}

func TestMouseWithoutModifierDoesNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.send(t, runes("@"),
		tea.MouseMsg{X: 4, Y: 5, Type: tea.MouseLeft},
		tea.MouseMsg{X: 34, Y: 5, Type: tea.MouseRelease},
	)
	assert.False(t, h.model.ctrl.Record().Annotated(1))
}

func TestUnitsAtFollowsScroll(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	p := h.model.unitsAt(4, 5)
	assert.InDelta(t, 4.5, p.X, 1e-9)
	assert.InDelta(t, 11.0, p.Y, 1e-9)

	h.model.scrollX, h.model.scrollY = 10, 1
	p = h.model.unitsAt(4, 5)
	assert.InDelta(t, 14.5, p.X, 1e-9)
	assert.InDelta(t, 13.0, p.Y, 1e-9)
}

func TestEscapeAsksBeforeClearing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.send(t, runes("1"))

	h.send(t, tea.KeyMsg{Type: tea.KeyEscape})
	assert.Equal(t, ModeConfirm, h.model.mode)
	assert.Contains(t, h.model.View(), "Clear all annotations")

	h.send(t, runes("n"))
	assert.Equal(t, ModeNormal, h.model.mode)
	assert.True(t, h.model.ctrl.Record().Annotated(1))

	h.send(t, tea.KeyMsg{Type: tea.KeyEscape}, runes("y"))
	assert.Equal(t, ModeNormal, h.model.mode)
	assert.False(t, h.model.ctrl.Record().Annotated(1))
	assert.Equal(t, 1, h.model.ctrl.Position())
}

func TestEscapeWithoutConfirmations(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.model.settings.Confirmations = false
	h.send(t, runes("1"), tea.KeyMsg{Type: tea.KeyEscape})
	assert.Equal(t, ModeNormal, h.model.mode)
	assert.False(t, h.model.ctrl.Record().Annotated(1))
}

func TestSaveWritesAnnotationFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.send(t, runes("2"), tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Equal(t, "Saved", h.model.successMessage)

	data, err := os.ReadFile(h.local.AnnotationPath(h.model.ctrl.Score().ID))
	require.NoError(t, err)
	var rec annotation.Record
	require.NoError(t, rec.UnmarshalJSON(data))
	assert.Equal(t, annotation.Medium, rec.Measures[1][0][0])
}

func TestCorruptedScoreSavesSentinel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.send(t, tea.KeyMsg{Type: tea.KeyCtrlD}, runes("y"), tea.KeyMsg{Type: tea.KeyCtrlS})

	data, err := os.ReadFile(h.local.AnnotationPath(h.model.ctrl.Score().ID))
	require.NoError(t, err)
	assert.Equal(t, `"`+bridge.CorruptedPayload+`"`, strings.TrimSpace(string(data)))
}

func TestNextFileSavesAndOpens(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	first := h.model.ctrl.Score().ID
	h.send(t, runes("1"), runes("}"))

	assert.Equal(t, filepath.Join(h.dir, "prelude.musicxml"), h.model.ctrl.Score().ID)
	assert.FileExists(t, h.local.AnnotationPath(first))

	// The end of the list is a no-op.
	h.send(t, runes("}"))
	assert.Equal(t, filepath.Join(h.dir, "prelude.musicxml"), h.model.ctrl.Score().ID)

	h.send(t, runes("{"))
	assert.Equal(t, first, h.model.ctrl.Score().ID)
	assert.Equal(t, 2, h.model.ctrl.Position(), "cursor resumes after the annotated measure")
}

func TestSwitchingAwayDropsCachedRecord(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	first := h.model.ctrl.Score().ID
	h.send(t, runes("}"))
	require.NotEqual(t, first, h.model.ctrl.Score().ID)

	// Another writer touches the stored record while the score is closed.
	data, err := h.kv.Get(first)
	require.NoError(t, err)
	var rec annotation.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	H := annotation.Hard
	rec.Measures[2] = [][]annotation.Label{{H, H}, {H}}
	data, err = json.Marshal(&rec)
	require.NoError(t, err)
	require.NoError(t, h.kv.Put(first, data))

	h.send(t, runes("{"))
	require.Equal(t, first, h.model.ctrl.Score().ID)
	label, ok := h.model.store.UniformLabel(h.model.ctrl.Score(), 2)
	require.True(t, ok)
	assert.Equal(t, H, label)
}

func TestResizeRendersOnlyLatest(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	before := h.renderer.renders

	cmd := h.send(t, tea.WindowSizeMsg{Width: 100, Height: 30}, tea.WindowSizeMsg{Width: 120, Height: 40})
	require.NotNil(t, cmd)
	assert.Equal(t, 120, h.model.width)

	h.send(t, resizeMsg{seq: h.model.resizeSeq - 1})
	assert.Equal(t, before, h.renderer.renders)

	h.send(t, resizeMsg{seq: h.model.resizeSeq})
	assert.Equal(t, before+1, h.renderer.renders)
}

func TestToggleHiddenAndHelp(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.send(t, runes("z"))
	assert.True(t, h.model.ctrl.Hidden())
	assert.Contains(t, h.model.View(), "Selection hidden")

	h.send(t, runes("?"))
	assert.True(t, h.model.help)
	assert.Contains(t, h.model.View(), "scoremark Help")
	h.send(t, tea.KeyMsg{Type: tea.KeyEscape})
	assert.False(t, h.model.help)
	assert.True(t, h.model.ctrl.Hidden(), "escape only closed help")
}

func TestViewShowsStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	view := h.model.View()
	assert.Contains(t, view, "Mode: NORMAL")
	assert.Contains(t, view, "Measure 1/2")
	assert.Contains(t, view, string(runeNotehead))
}

func TestCtrlCQuits(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cmd := h.send(t, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, h.model.quitting)
	assert.FileExists(t, h.local.AnnotationPath(h.model.ctrl.Score().ID))
}

func TestExportTXT(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.send(t, runes("1"))

	out := filepath.Join(h.dir, "out", "etude.txt")
	require.NoError(t, h.model.writeExport(out, h.model.ctrl.Score().Layout, h.model.ctrl.Layer().Shapes(), FormatTXT))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, string(runeNotehead))
	assert.Contains(t, text, string(runeBarline))
	assert.Contains(t, text, "2", "measure numbers")
}

func TestExportPNG(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.send(t, runes("1"))
	h.model.exportCurrent(FormatPNG)
	require.Empty(t, h.model.errorMessage)
	assert.FileExists(t, filepath.Join(h.dir, "annotations", "etude.png"))
}

func TestExportPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, filepath.Join("out", "etude.png"), exportPath("out", "/scores/etude.musicxml", FormatPNG))
	assert.Equal(t, filepath.Join("out", "etude.txt"), exportPath("out", "etude.krn", FormatTXT))
}

func TestCanvasPaintsSelectionLast(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.send(t, runes("1"), tea.KeyMsg{Type: tea.KeyLeft})

	c := h.model.canvas()
	g := c.rasterize(60, 20, 0, 0)
	// Column 10 row 6 lies inside measure 1, covered by both the committed
	// and the selection shapes.
	assert.Equal(t, annotation.SelectionColor, g.colors[6][10])
}

func TestWriteStatus(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	files := []bridge.FileEntry{
		{Path: "a.musicxml", Annotated: true, TouchedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)},
		{Path: "b.musicxml"},
	}
	require.NoError(t, writeStatus(&buf, files, logging.Discard()))
	out := buf.String()
	assert.Contains(t, out, "[x] 2024-03-01 10:00 ")
	assert.Contains(t, out, "[ ] never")
	assert.Contains(t, out, "1/2 annotated")
}
