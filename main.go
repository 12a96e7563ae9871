package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scoremark/internal/annotation"
	"scoremark/internal/bridge"
	"scoremark/internal/config"
	"scoremark/internal/kvstore"
	"scoremark/internal/logging"
	"scoremark/internal/overlay"
	"scoremark/internal/region"
	"scoremark/internal/score"
	"scoremark/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// options are the flags that do not live in the settings.
type options struct {
	configFile string
	ephemeral  bool
}

func newRootCmd() *cobra.Command {
	v := config.New()
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "scoremark [score]",
		Short:         "Annotate the difficulty of music scores measure by measure",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(v, opts, args)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default ~/.config/scoremark/config.yaml)")
	flags.BoolVar(&opts.ephemeral, "ephemeral", false, "keep annotation state in memory only")
	flags.String("score-dir", "", "directory holding the scores and their layouts")
	flags.String("annotations", "", "directory receiving the annotation files")
	flags.String("db", "", "annotation database path")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	for key, flag := range map[string]string{
		"score_directory":      "score-dir",
		"annotation_directory": "annotations",
		"database_path":        "db",
		"log_level":            "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(newExportCmd(v, opts), newStatusCmd(v, opts))
	return cmd
}

// app owns the resources opened for one command run.
type app struct {
	deps
	local   *bridge.Local
	async   *bridge.Async
	kv      kvstore.Store
	logFile io.Closer
}

func setup(v *viper.Viper, opts *options) (*app, error) {
	settings, err := config.Load(v, opts.configFile)
	if err != nil {
		return nil, err
	}

	a := &app{}
	log := logging.Discard()
	if settings.LogFile != "" {
		fileLog, closer, err := logging.NewFile(settings.LogFile, settings.LogMaxSizeMB, logging.ParseLevel(settings.LogLevel))
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.logFile = closer
		log = fileLog
	}

	if opts.ephemeral {
		a.kv = kvstore.NewMemory()
	} else {
		db, err := kvstore.OpenSQLite(settings.DatabasePath, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.kv = db
	}

	a.local, err = bridge.OpenLocal(settings.ScoreDirectory, settings.AnnotationDirectory, log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.async = bridge.NewAsync(a.local, bridge.DefaultQueueSize, log)

	a.deps = deps{
		settings: settings,
		log:      log,
		renderer: score.NewFileRenderer(),
		store: annotation.NewStore(a.kv,
			annotation.WithLogger(log),
			annotation.WithCacheTTL(settings.RecordCacheTTL),
		),
		deriver: &region.Deriver{Padding: settings.Overlay.NotePadding},
		bridge:  a.async,
	}
	log.Info("scoremark started", "scores", a.local.Dir(), "ephemeral", opts.ephemeral)
	return a, nil
}

// close flushes pending bridge writes before the storage goes away.
func (a *app) close() {
	if a.async != nil {
		_ = a.async.Close()
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil && a.log != nil {
			a.log.Error("closing storage failed", "error", err)
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// resolveScore returns the score named on the command line, or the one the
// bridge suggests.
func (a *app) resolveScore(args []string) (string, error) {
	if len(args) > 0 {
		return filepath.Abs(args[0])
	}
	return a.bridge.PickLastAnnotated()
}

func runTUI(v *viper.Viper, opts *options, args []string) error {
	a, err := setup(v, opts)
	if err != nil {
		return err
	}
	defer a.close()

	m := newModel(a.deps)
	scoreID, err := a.resolveScore(args)
	switch {
	case errors.Is(err, bridge.ErrNoFiles):
		m.errorMessage = "no scores in " + a.local.Dir()
	case err != nil:
		return err
	default:
		m.openScore(scoreID)
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(model); ok && fm.ctrl != nil {
		fm.ctrl.Close()
	}
	return nil
}

func newModel(d deps) model {
	return model{
		deps:   d,
		width:  defaultWidth,
		height: defaultHeight,
		mode:   ModeEmpty,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeSeq++
		seq := m.resizeSeq
		m.clampScroll()
		return m, tea.Tick(m.settings.ResizeDelay, func(time.Time) tea.Msg {
			return resizeMsg{seq: seq}
		})

	case resizeMsg:
		if msg.seq == m.resizeSeq {
			m.relayout()
		}
		return m, nil

	case tea.MouseMsg:
		if m.ctrl == nil || m.help || m.mode != ModeNormal {
			return m, nil
		}
		m.handleMouse(msg)
		return m, nil

	case tea.KeyMsg:
		key := msg.String()
		m.errorMessage = ""
		m.successMessage = ""
		if m.help {
			return m, m.handleHelpKey(key)
		}
		if m.mode == ModeConfirm {
			return m, m.handleConfirmKey(key)
		}
		return m, m.handleKey(key)
	}
	return m, nil
}

// relayout asks the renderer for a fresh layout and rebuilds the overlay.
func (m *model) relayout() {
	if m.ctrl == nil {
		return
	}
	if err := m.renderer.Render(); err != nil {
		m.log.Warn("re-render failed, keeping the old layout", "error", err)
		return
	}
	m.ctrl.SetLayout(m.renderer.MeasureList())
	m.ensureSelectionVisible()
}

func (m *model) handleMouse(msg tea.MouseMsg) {
	var mod session.Modifier
	if msg.Shift {
		mod |= session.Shift
	}
	if msg.Alt {
		mod |= session.Alt
	}
	if msg.Ctrl {
		mod |= session.Ctrl
	}
	p := m.unitsAt(msg.X, msg.Y)
	switch msg.Type {
	case tea.MouseLeft:
		m.ctrl.Press(p, mod)
	case tea.MouseRelease:
		m.ctrl.Release(p, mod)
		m.ensureSelectionVisible()
	}
}

func (m *model) handleHelpKey(key string) tea.Cmd {
	switch key {
	case "esc", "q", "?":
		m.help = false
		m.helpScroll = 0
	case "j", "down":
		m.helpScroll = min(m.helpScroll+1, max(0, len(helpLines)-m.canvasHeight()))
	case "k", "up":
		m.helpScroll = max(m.helpScroll-1, 0)
	case "ctrl+c":
		m.help = false
		return m.handleKey(key)
	}
	return nil
}

// canvas rasterizes the current score and overlay.
func (m *model) canvas() *Canvas {
	v := m.settings.View
	scale := m.settings.Overlay.UnitScale
	if m.ctrl == nil {
		return NewCanvas(nil, nil, scale, v.CellWidth, v.CellHeight)
	}
	return NewCanvas(m.ctrl.Score().Layout, m.ctrl.Layer().Shapes(), scale, v.CellWidth, v.CellHeight)
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	if m.help {
		return m.helpView()
	}

	var b strings.Builder
	if m.ctrl == nil {
		b.WriteString(strings.Repeat("\n", m.canvasHeight()))
	} else {
		rows := m.canvas().Render(m.canvasWidth(), m.canvasHeight(), m.scrollX, m.scrollY)
		b.WriteString(strings.Join(rows, "\n"))
		b.WriteString("\n")
	}
	active := annotation.None
	if m.ctrl != nil {
		active = m.ctrl.Active()
	}
	b.WriteString(legend(annotation.DefaultPalette, active, m.canvasWidth()))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	return b.String()
}

func (m model) modeString() string {
	switch m.mode {
	case ModeNormal:
		return "NORMAL"
	case ModeConfirm:
		return "CONFIRM"
	case ModeEmpty:
		return "EMPTY"
	default:
		return "UNKNOWN"
	}
}

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4633"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#33FF42"))
)

func (m model) statusLine() string {
	status := "Mode: " + m.modeString()
	if m.mode == ModeConfirm {
		question := "Clear all annotations of this score?"
		if m.confirmAction == ConfirmCorrupted {
			question = "Mark this score as corrupted?"
		}
		return lipgloss.NewStyle().MaxWidth(m.canvasWidth()).Render(status + " | " + question + " (y/n)")
	}
	if m.ctrl != nil {
		layout := m.ctrl.Score().Layout
		status += fmt.Sprintf(" | %s | Measure %d/%d | Label: %s",
			filepath.Base(m.ctrl.Score().ID), m.ctrl.Position(), layout.Last(), m.ctrl.Active())
		if m.ctrl.Complete() {
			status += " | Complete"
		}
		if m.ctrl.Hidden() {
			status += " | Selection hidden"
		}
	}
	switch {
	case m.errorMessage != "":
		status += " | " + errorStyle.Render("ERROR: "+m.errorMessage)
	case m.successMessage != "":
		status += " | " + successStyle.Render(m.successMessage)
	default:
		status += " | ? for help | ctrl+c to quit"
	}
	return lipgloss.NewStyle().MaxWidth(m.canvasWidth()).Render(status)
}

var helpLines = []string{
	"scoremark Help",
	"==============",
	"",
	"Navigation:",
	"-----------",
	"  ←/→              Move the selection one measure",
	"  ↑/↓              Scroll the score",
	"  PgUp/PgDn        Scroll one screen",
	"  Shift+←/→        Scroll sideways",
	"  Home/End         Jump to the start/end of the score",
	"",
	"Labelling:",
	"----------",
	"  1 2 3            Label the measure easy/medium/hard and advance",
	"  q…p a…l          Label the measure with a letter category and advance",
	"  ! @ # Q…L        Only select the active label (for mouse drags)",
	"  Alt+key          Only select the active label (for mouse drags)",
	"  Backspace        Clear the measure and go back",
	"  Esc              Clear the whole score",
	"  Ctrl+Z/Ctrl+Y    Undo/redo",
	"",
	"Mouse:",
	"------",
	"  Shift+drag       Label every measure between press and release",
	"  Alt+drag         Label only the notes between press and release",
	"",
	"Files:",
	"------",
	"  Ctrl+S           Save annotations",
	"  { / }            Save and open the previous/next score",
	"  Ctrl+D           Mark the score as corrupted",
	"  Ctrl+E           Export the annotated score as PNG",
	"  c                Copy the record JSON to the clipboard",
	"",
	"General:",
	"--------",
	"  z                Hide/show the selection",
	"  ?                Toggle this help screen",
	"  Ctrl+C           Save and quit",
}

func (m model) helpView() string {
	visibleHeight := max(m.height-1, 1)
	start := min(m.helpScroll, max(0, len(helpLines)-visibleHeight))
	end := min(start+visibleHeight, len(helpLines))

	result := strings.Join(helpLines[start:end], "\n")
	result += "\n" + fmt.Sprintf("Help (%d-%d of %d lines) | j/k to scroll, Esc to close",
		start+1, end, len(helpLines))
	return result
}

func newExportCmd(v *viper.Viper, opts *options) *cobra.Command {
	var output, format string
	cmd := &cobra.Command{
		Use:   "export <score>",
		Short: "Export a score with its annotations as PNG or text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := ExportFormat(strings.ToLower(format))
			if f != FormatPNG && f != FormatTXT {
				return fmt.Errorf("unknown format %q", format)
			}
			a, err := setup(v, opts)
			if err != nil {
				return err
			}
			defer a.close()

			scoreID, err := a.resolveScore(args)
			if err != nil {
				return err
			}
			if output == "" {
				output = exportPath(a.settings.AnnotationDirectory, scoreID, f)
			}
			if err := a.export(scoreID, output, f); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default next to the annotation file)")
	cmd.Flags().StringVar(&format, "format", string(FormatPNG), "png or txt")
	return cmd
}

// nopPersister discards saves; exporting must not touch annotation files.
type nopPersister struct{}

func (nopPersister) SaveToJSON(string, any) error     { return nil }
func (nopPersister) MarkAnnotated(string, bool) error { return nil }

func (d *deps) export(scoreID, output string, format ExportFormat) error {
	ctrl, err := d.startSession(scoreID, nopPersister{}, session.WithoutTiming())
	if err != nil {
		return err
	}
	return d.writeExport(output, ctrl.Score().Layout, ctrl.Layer().Shapes(), format)
}

// writeExport renders layout and the committed shapes to output.
func (d *deps) writeExport(output string, layout *score.Layout, shapes []overlay.Shape, format ExportFormat) error {
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return err
	}
	shapes = committedShapes(shapes)
	if format == FormatTXT {
		v := d.settings.View
		return exportTXT(output, NewCanvas(layout, shapes, d.settings.Overlay.UnitScale, v.CellWidth, v.CellHeight))
	}
	return exportPNG(output, layout, shapes, annotation.DefaultPalette, d.settings.Overlay.UnitScale, d.settings.Overlay.Opacity)
}

// exportCurrent exports the open score next to its annotation file.
func (m *model) exportCurrent(format ExportFormat) {
	if m.ctrl == nil {
		return
	}
	output := exportPath(m.settings.AnnotationDirectory, m.ctrl.Score().ID, format)
	if err := m.writeExport(output, m.ctrl.Score().Layout, m.ctrl.Layer().Shapes(), format); err != nil {
		m.log.Error("export failed", "output", output, "error", err)
		m.errorMessage = "export failed: " + err.Error()
		return
	}
	m.successMessage = "Exported " + filepath.Base(output)
}

func newStatusCmd(v *viper.Viper, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List the scores of the score directory and their annotation state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(v, opts)
			if err != nil {
				return err
			}
			defer a.close()
			return writeStatus(cmd.OutOrStdout(), a.local.Files(), a.log)
		},
	}
}

func writeStatus(w io.Writer, files []bridge.FileEntry, log *slog.Logger) error {
	done := 0
	for _, f := range files {
		mark := "[ ]"
		if f.Annotated {
			mark = "[x]"
			done++
		}
		touched := "never"
		if !f.TouchedAt.IsZero() {
			touched = f.TouchedAt.Local().Format("2006-01-02 15:04")
		}
		if _, err := fmt.Fprintf(w, "%s %-16s %s\n", mark, touched, f.Path); err != nil {
			return err
		}
	}
	log.Debug("status listed", "files", len(files), "annotated", done)
	_, err := fmt.Fprintf(w, "%d/%d annotated\n", done, len(files))
	return err
}
