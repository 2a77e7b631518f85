package main

import (
	"errors"
	"io"

	"github.com/go-pdf/fpdf"

	"seats/solver"
)

// Page geometry of the printed chart, in millimetres unless noted.
const (
	pageWidth     = 297.0
	pageHeight    = 210.0
	outlineMargin = 15.0
	seatMargin    = 5.0
	textPadding   = 5.0
	maxFontSize   = 17.0 // pt
	minFontSize   = 1.0  // pt
	chartFamily   = "chart"
)

// seatSize returns the width and height of one seat on the page.
func seatSize(depth, width int) (float64, float64) {
	w := (pageWidth - 2*outlineMargin - seatMargin*float64(width-1)) / float64(width)
	h := (pageHeight - 2*outlineMargin - seatMargin*float64(depth-1)) / float64(depth)
	return w, h
}

// fitFontSize returns the largest size up to maxFontSize at which text fits
// in avail millimetres with the current font.
func fitFontSize(pdf *fpdf.Fpdf, text string, avail float64) float64 {
	pdf.SetFontSize(maxFontSize)
	w := pdf.GetStringWidth(text)
	if w <= avail {
		return maxFontSize
	}
	return max(maxFontSize*avail/w, minFontSize)
}

// renderChartPDF draws layout on a landscape A4 page, one outlined box per
// seat with row 0 at the top. Vacant seats are struck through. fontPath names
// a TrueType font for names outside Latin-1; when empty Helvetica is used.
func renderChartPDF(w io.Writer, layout solver.Layout, fontPath string) error {
	if len(layout) == 0 || len(layout[0]) == 0 {
		return errors.New("chart: empty layout")
	}
	depth, width := len(layout), len(layout[0])

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Seat Layout", true)
	pdf.SetAutoPageBreak(false, 0)
	translate := func(s string) string { return s }
	if fontPath != "" {
		pdf.AddUTF8Font(chartFamily, "", fontPath)
		pdf.SetFont(chartFamily, "", maxFontSize)
	} else {
		pdf.SetFont("Helvetica", "", maxFontSize)
		translate = pdf.UnicodeTranslatorFromDescriptor("")
	}
	pdf.AddPage()

	seatW, seatH := seatSize(depth, width)
	for y, row := range layout {
		for x := range width {
			left := outlineMargin + (seatW+seatMargin)*float64(x)
			top := outlineMargin + (seatH+seatMargin)*float64(y)
			pdf.Rect(left, top, seatW, seatH, "D")

			var s *solver.Student
			if x < len(row) {
				s = row[x]
			}
			if s == nil || s.Name == "" {
				pdf.Line(left, top+seatH, left+seatW, top)
				continue
			}
			name := translate(s.Name)
			pdf.SetFontSize(fitFontSize(pdf, name, seatW-2*textPadding))
			pdf.SetXY(left, top)
			pdf.CellFormat(seatW, seatH, name, "", 0, "CM", false, 0, "")
		}
	}
	return pdf.Output(w)
}
