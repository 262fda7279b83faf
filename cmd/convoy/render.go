package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/mattjoyce/convoy/internal/job"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

var (
	styleSucceeded = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	styleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	styleRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	styleDim       = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	styleHeader    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF"))
)

// colorEnabled is false when stdout is not a terminal or NO_COLOR is set.
var colorEnabled = detectColor()

func detectColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	info, err := os.Stdout.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func paint(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

func renderStatus(s job.Status) string {
	switch s {
	case job.StatusSucceeded:
		return paint(styleSucceeded, string(s))
	case job.StatusFailed:
		return paint(styleFailed, string(s))
	case job.StatusRunning, job.StatusQueued:
		return paint(styleRunning, string(s))
	default:
		return paint(styleDim, string(s))
	}
}

func renderHeading(s string) string {
	return paint(styleHeader, s)
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
