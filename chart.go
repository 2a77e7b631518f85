package main

import (
	_ "embed"
	"html/template"
	"io"

	"seats/solver"
)

//go:embed chart.html
var chartHTML string

var chartTemplate = template.Must(template.New("chart").Parse(chartHTML))

type chartSeat struct {
	Name            string
	NeedsAssistance bool
	Vacant          bool
}

type chartData struct {
	Classroom string
	Seated    int
	Rows      [][]chartSeat
}

// renderChart writes a printable seating chart. Row 0 is closest to the
// front of the room and is drawn first.
func renderChart(w io.Writer, name string, layout solver.Layout) error {
	data := chartData{Classroom: name, Rows: make([][]chartSeat, len(layout))}
	for y, row := range layout {
		data.Rows[y] = make([]chartSeat, len(row))
		for x, s := range row {
			if s == nil {
				data.Rows[y][x] = chartSeat{Vacant: true}
				continue
			}
			data.Seated++
			data.Rows[y][x] = chartSeat{Name: s.Name, NeedsAssistance: s.NeedsAssistance}
		}
	}
	return chartTemplate.Execute(w, data)
}
