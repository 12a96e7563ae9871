package main

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"scoremark/internal/annotation"
	"scoremark/internal/session"
)

// labelKey resolves a key press to a label and the modifier it was typed
// with. Uppercase letters and shifted digits count as Shift.
func labelKey(key string) (annotation.Label, session.Modifier, bool) {
	var mod session.Modifier
	if rest, ok := strings.CutPrefix(key, "alt+"); ok {
		mod |= session.Alt
		key = rest
	}
	if digit, ok := shiftedDigits[key]; ok {
		mod |= session.Shift
		key = digit
	} else if len(key) == 1 && key >= "A" && key <= "Z" {
		mod |= session.Shift
		key = strings.ToLower(key)
	}
	l, ok := annotation.KeyLabels[key]
	return l, mod, ok
}

// handleKey runs a key press in normal mode.
func (m *model) handleKey(key string) tea.Cmd {
	if m.ctrl == nil {
		switch key {
		case "ctrl+c", "q":
			m.quitting = true
			return tea.Quit
		case "?":
			m.help = true
		}
		return nil
	}

	switch key {
	case "ctrl+c":
		m.ctrl.Save()
		m.quitting = true
		return tea.Quit
	case "?":
		m.help = true
		m.helpScroll = 0
	case "right":
		m.ctrl.Advance()
	case "left":
		m.ctrl.Retreat()
	case "backspace":
		m.ctrl.Backspace()
	case "esc":
		if m.settings.Confirmations {
			m.confirm(ConfirmClear)
			return nil
		}
		m.ctrl.Clear()
	case "z":
		m.ctrl.ToggleHidden()
	case "ctrl+d", "ctrl+delete":
		if m.settings.Confirmations {
			m.confirm(ConfirmCorrupted)
			return nil
		}
		m.ctrl.MarkCorrupted()
	case "ctrl+s":
		m.ctrl.Save()
		m.successMessage = "Saved"
	case "ctrl+z":
		m.ctrl.Undo()
	case "ctrl+y":
		m.ctrl.Redo()
	case "{":
		m.switchFile(m.bridge.PickPreviousFile)
	case "}":
		m.switchFile(m.bridge.PickNextFile)
	case "c":
		if err := m.copyRecord(); err != nil {
			m.errorMessage = "copy failed: " + err.Error()
		} else {
			m.successMessage = "Record copied to clipboard"
		}
	case "ctrl+e":
		m.exportCurrent(FormatPNG)
	case "up", "down", "pgup", "pgdown", "shift+left", "shift+right", "home", "end":
		m.scroll(key)
		return nil
	default:
		l, mod, ok := labelKey(key)
		if !ok {
			return nil
		}
		m.ctrl.Label(l, mod)
		if mod != 0 {
			m.successMessage = "Active label: " + l.String()
		}
	}
	m.ensureSelectionVisible()
	return nil
}

func (m *model) confirm(action ConfirmAction) {
	m.mode = ModeConfirm
	m.confirmAction = action
}

// handleConfirmKey resolves a pending confirmation.
func (m *model) handleConfirmKey(key string) tea.Cmd {
	switch key {
	case "y", "Y", "enter":
		switch m.confirmAction {
		case ConfirmClear:
			m.ctrl.Clear()
			m.successMessage = "Annotations cleared"
		case ConfirmCorrupted:
			m.ctrl.MarkCorrupted()
			m.successMessage = "Marked as corrupted"
		}
		m.ensureSelectionVisible()
	case "ctrl+c":
		m.mode = ModeNormal
		return m.handleKey(key)
	}
	m.mode = ModeNormal
	return nil
}

func (m *model) scroll(key string) {
	switch key {
	case "up":
		m.scrollY -= scrollStep
	case "down":
		m.scrollY += scrollStep
	case "pgup":
		m.scrollY -= m.canvasHeight()
	case "pgdown":
		m.scrollY += m.canvasHeight()
	case "shift+left":
		m.scrollX -= m.canvasWidth() / 2
	case "shift+right":
		m.scrollX += m.canvasWidth() / 2
	case "home":
		m.scrollX, m.scrollY = 0, 0
	case "end":
		w, h := m.canvas().Size()
		m.scrollX = w - m.canvasWidth()
		m.scrollY = h - m.canvasHeight()
	}
	m.clampScroll()
}

func (m *model) clampScroll() {
	w, h := m.canvas().Size()
	m.scrollX = max(0, min(m.scrollX, w-m.canvasWidth()))
	m.scrollY = max(0, min(m.scrollY, h-m.canvasHeight()))
}

// ensureSelectionVisible scrolls so the selected measure is on screen.
func (m *model) ensureSelectionVisible() {
	if m.ctrl == nil {
		return
	}
	measure, ok := m.ctrl.Score().Layout.Measure(m.ctrl.Position())
	if !ok {
		return
	}
	v := m.settings.View
	var top, bottom float64
	for i, st := range measure {
		r := st.Rect()
		if i == 0 {
			top = r.Y
		}
		bottom = r.Bottom()
	}
	left, topRow := cellOf(measure.Left(), top, v.CellWidth, v.CellHeight)
	right, bottomRow := cellOf(measure.Right(), bottom, v.CellWidth, v.CellHeight)
	topRow-- // measure number

	if left < m.scrollX {
		m.scrollX = left
	} else if right >= m.scrollX+m.canvasWidth() {
		m.scrollX = right - m.canvasWidth() + 1
	}
	if topRow < m.scrollY {
		m.scrollY = topRow
	} else if bottomRow >= m.scrollY+m.canvasHeight() {
		m.scrollY = bottomRow - m.canvasHeight() + 1
	}
	m.scrollX = max(0, m.scrollX)
	m.scrollY = max(0, m.scrollY)
}
