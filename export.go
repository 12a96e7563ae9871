package main

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"

	"scoremark/internal/annotation"
	"scoremark/internal/overlay"
	"scoremark/internal/score"
)

var errNothingToExport = errors.New("nothing to export")

const (
	pngMargin      = 24.0
	pngLegendRow   = 22.0
	pngSwatch      = 14.0
	pngFontSize    = 12.0
	pngStaffLines  = 5
	pngNoteRadius  = 0.6 // renderer units
	pngLegendWidth = 96.0
)

// exportPath places an export next to the annotation files.
func exportPath(dir, scoreID string, format ExportFormat) string {
	stem := strings.TrimSuffix(filepath.Base(scoreID), filepath.Ext(scoreID))
	return filepath.Join(dir, stem+"."+string(format))
}

// exportPNG draws the score schematic with its overlay shapes and a legend.
// scale converts renderer units to image pixels, the same factor the
// overlay uses, so shapes are drawn as stored.
func exportPNG(filename string, layout *score.Layout, shapes []overlay.Shape, palette *annotation.Palette, scale, opacity float64) error {
	if layout == nil || len(layout.Measures) == 0 {
		return errNothingToExport
	}
	bounds := layout.Bounds()
	legendRows := (len(annotation.KeyOrder) + 7) / 8
	imageWidth := int(bounds.Right()*scale + 2*pngMargin)
	imageWidth = max(imageWidth, int(8*pngLegendWidth+2*pngMargin))
	imageHeight := int(bounds.Bottom()*scale + 2*pngMargin + float64(legendRows)*pngLegendRow)

	dc := gg.NewContext(imageWidth, imageHeight)
	dc.SetColor(color.White)
	dc.Clear()

	ttfFont, err := truetype.Parse(gomono.TTF)
	if err != nil {
		return fmt.Errorf("failed to parse font: %w", err)
	}
	dc.SetFontFace(truetype.NewFace(ttfFont, &truetype.Options{
		Size:    pngFontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	}))

	dc.Push()
	dc.Translate(pngMargin, pngMargin)

	for _, s := range shapes {
		rgba, err := s.Color.RGBA()
		if err != nil || s.Rect.Empty() {
			continue
		}
		alpha := opacity
		if s.Kind == overlay.Selection {
			alpha = 1
		}
		dc.SetRGBA(float64(rgba.R)/255, float64(rgba.G)/255, float64(rgba.B)/255, alpha)
		dc.DrawRectangle(s.Rect.X, s.Rect.Y, s.Rect.Width, s.Rect.Height)
		dc.Fill()
	}

	dc.SetColor(color.Black)
	dc.SetLineWidth(1)
	for _, m := range layout.Measures {
		for s, st := range m {
			drawStaffPNG(dc, st, scale)
			if s == 0 {
				r := st.Rect()
				dc.DrawString(strconv.Itoa(st.MeasureNumber), r.X*scale+2, r.Y*scale-4)
			}
		}
	}
	dc.Pop()

	drawLegendPNG(dc, palette, imageHeight-legendRows*int(pngLegendRow)-int(pngMargin/2))
	return dc.SavePNG(filename)
}

func drawStaffPNG(dc *gg.Context, st score.Staff, scale float64) {
	r := st.Rect().Scale(scale)
	step := r.Height / (pngStaffLines - 1)
	for i := 0; i < pngStaffLines; i++ {
		y := r.Y + float64(i)*step
		dc.DrawLine(r.X, y, r.Right(), y)
	}
	dc.DrawLine(r.X, r.Y, r.X, r.Bottom())
	dc.DrawLine(r.Right(), r.Y, r.Right(), r.Bottom())
	dc.Stroke()

	for i := range st.Entries {
		p := st.EntryPoint(i).Scale(scale)
		dc.DrawCircle(p.X, p.Y, pngNoteRadius*scale)
		dc.Fill()
	}
}

func drawLegendPNG(dc *gg.Context, palette *annotation.Palette, top int) {
	for i, key := range annotation.KeyOrder {
		l := annotation.KeyLabels[key]
		x := pngMargin + float64(i%8)*pngLegendWidth
		y := float64(top) + float64(i/8)*pngLegendRow
		if rgba, err := palette.Color(l).RGBA(); err == nil {
			dc.SetColor(rgba)
			dc.DrawRectangle(x, y, pngSwatch, pngSwatch)
			dc.Fill()
		}
		dc.SetColor(color.Black)
		dc.DrawString(key+" "+l.String(), x+pngSwatch+4, y+pngSwatch-2)
	}
}

// exportTXT writes the uncolored schematic of the whole score.
func exportTXT(filename string, canvas *Canvas) error {
	width, height := canvas.Size()
	if width == 0 || height == 0 {
		return errNothingToExport
	}
	rows := canvas.RenderPlain(width, height, 0, 0)
	return os.WriteFile(filename, []byte(strings.Join(rows, "\n")+"\n"), 0o644)
}
