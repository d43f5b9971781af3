package eval

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238"))
)

// Headers are the comparison table columns.
var Headers = []string{
	"experiment", "runs", "failed", "top1", "top3",
	"mean length", "mean length (top1)", "cost ($)", "duration",
}

// Rows formats experiments for the comparison table.
func Rows(experiments []Experiment) [][]string {
	rows := make([][]string, 0, len(experiments))
	for _, e := range experiments {
		g := e.Group
		rows = append(rows, []string{
			e.Name,
			fmt.Sprintf("%d", g.NumRuns),
			fmt.Sprintf("%d", g.FailedRuns),
			fmt.Sprintf("%.3f", g.Top1),
			fmt.Sprintf("%.3f", g.Top3),
			fmt.Sprintf("%.2f", g.MeanConversationLength),
			fmt.Sprintf("%.2f", g.MeanSuccessfulLength),
			fmt.Sprintf("%.4f", e.Cost),
			g.Duration.Round(time.Second).String(),
		})
	}
	return rows
}

// Table renders experiments as a bordered comparison table.
func Table(experiments []Experiment) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(Headers...).
		Rows(Rows(experiments)...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}
