package main

type Mode int

const (
	ModeNormal Mode = iota
	ModeConfirm
	ModeEmpty
)

type ConfirmAction int

const (
	ConfirmClear ConfirmAction = iota
	ConfirmCorrupted
)

type ExportFormat string

const (
	FormatPNG ExportFormat = "png"
	FormatTXT ExportFormat = "txt"
)

const (
	statusLines   = 2 // legend and status line
	scrollStep    = 4
	defaultWidth  = 80
	defaultHeight = 24
)

// Noteheads, staff lines and barlines of the schematic score.
const (
	runeStaff    = '─'
	runeBarline  = '│'
	runeNotehead = '●'
)

// shiftedDigits maps the shifted digit keys back to their digit.
var shiftedDigits = map[string]string{
	"!": "1",
	"@": "2",
	"#": "3",
}
