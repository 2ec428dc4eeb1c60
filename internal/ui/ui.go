// Package ui holds terminal styling for the CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"

	"github.com/bliqhq/bliq/internal/types"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Init picks the color profile for out, honoring NO_COLOR and
// CLICOLOR_FORCE. Output that is not a terminal gets no color.
func Init(out *os.File) {
	lipgloss.SetColorProfile(termenv.NewOutput(out).EnvColorProfile())
}

// RenderAccent highlights headings and icons.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass marks success.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn marks advisory problems.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail marks errors.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted de-emphasizes secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderStatus colors a task status.
func RenderStatus(s types.Status) string {
	switch s {
	case types.StatusDone:
		return passStyle.Render(string(s))
	case types.StatusInProgress:
		return accentStyle.Render(string(s))
	}
	return string(s)
}

// RenderPriority colors a task priority.
func RenderPriority(p types.Priority) string {
	switch p {
	case types.PriorityHigh:
		return failStyle.Render(string(p))
	case types.PriorityLow:
		return mutedStyle.Render(string(p))
	}
	return string(p)
}

// ShortID trims a uuid for display.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// TaskTable renders tasks as a bordered table.
func TaskTable(tasks []*types.Task) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("ID", "STATUS", "PRIORITY", "SOURCE", "TITLE").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, task := range tasks {
		t.Row(
			ShortID(task.ID),
			RenderStatus(task.Status),
			RenderPriority(task.Priority),
			string(task.Source),
			truncate(task.Title, 60),
		)
	}
	return t.Render()
}

// PrintTask writes a task's details.
func PrintTask(w io.Writer, task *types.Task) {
	fmt.Fprintf(w, "%s %s\n", RenderAccent(ShortID(task.ID)), task.Title)
	fmt.Fprintf(w, "  Status:   %s\n", RenderStatus(task.Status))
	fmt.Fprintf(w, "  Priority: %s\n", RenderPriority(task.Priority))
	fmt.Fprintf(w, "  Source:   %s", task.Source)
	if !task.IsLocal() {
		fmt.Fprintf(w, " %s", RenderMuted(fmt.Sprintf("(%s #%s in %s)", task.SourceID, task.SourceRef, task.Collection)))
	}
	fmt.Fprintln(w)
	if len(task.Tags) > 0 {
		fmt.Fprintf(w, "  Tags:     %s\n", strings.Join(task.Tags, ", "))
	}
	fmt.Fprintf(w, "  Updated:  %s\n", task.UpdatedAt.Local().Format("2006-01-02 15:04"))
	if task.Description != "" {
		fmt.Fprintf(w, "\n%s\n", task.Description)
	}
	if len(task.Comments) > 0 {
		fmt.Fprintf(w, "\n%s\n", RenderAccent("Comments"))
		for _, c := range task.Comments {
			fmt.Fprintf(w, "  %s %s: %s\n",
				RenderMuted(c.CreatedAt.Local().Format("2006-01-02 15:04")), c.Author, c.Body)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
