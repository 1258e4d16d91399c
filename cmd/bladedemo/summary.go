package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB")).
			Width(10)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

// rows returns the summary as ordered key/value pairs.
func (s summary) rows() [][2]string {
	rows := [][2]string{
		{"driver", s.Driver},
		{"device", s.Device},
		{"frames", fmt.Sprint(s.Frames)},
		{"capacity", fmt.Sprint(s.Capacity)},
		{"emitted", fmt.Sprint(s.Emitted)},
		{"passes", fmt.Sprint(s.Passes)},
	}
	if s.Sprite.Width > 0 {
		rows = append(rows, [2]string{"sprite", fmt.Sprintf("%dx%d", s.Sprite.Width, s.Sprite.Height)})
	}
	rows = append(rows, [2]string{"elapsed", s.Elapsed.Round(time.Microsecond).String()})
	return rows
}

// fill returns the fraction of particle slots that have been emitted into.
func (s summary) fill() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(min(s.Emitted, uint64(s.Capacity))) / float64(s.Capacity)
}

// printSummary writes s to w, styled for a terminal when styled is set.
func printSummary(w io.Writer, s summary, styled bool) {
	rows := s.rows()
	if !styled {
		for _, r := range rows {
			fmt.Fprintf(w, "%s: %s\n", r[0], r[1])
		}
		return
	}
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, titleStyle.Render("blade particle demo"))
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, keyStyle.Render(r[0]), valueStyle.Render(r[1])))
	}
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(30))
	lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, keyStyle.Render("fill"), bar.ViewAs(s.fill())))
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}
