package main

import (
	"log/slog"

	"scoremark/internal/annotation"
	"scoremark/internal/bridge"
	"scoremark/internal/config"
	"scoremark/internal/region"
	"scoremark/internal/score"
	"scoremark/internal/session"
)

// deps are the long-lived collaborators shared by every session.
type deps struct {
	settings *config.Settings
	log      *slog.Logger
	renderer score.Renderer
	store    *annotation.Store
	deriver  *region.Deriver
	bridge   bridge.Bridge
}

type model struct {
	deps

	width          int
	height         int
	scrollX        int
	scrollY        int
	mode           Mode
	help           bool
	helpScroll     int
	confirmAction  ConfirmAction
	ctrl           *session.Controller
	resizeSeq      int
	errorMessage   string
	successMessage string
	quitting       bool
}

// resizeMsg fires resize_delay after a window resize; only the latest one
// re-renders.
type resizeMsg struct {
	seq int
}
