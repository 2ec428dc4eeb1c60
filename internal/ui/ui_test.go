package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/bliqhq/bliq/internal/types"
)

func TestTaskTable(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	now := time.Now()
	a, _ := types.NewTask("u-1", "Write docs", now)
	b, _ := types.NewTask("u-1", strings.Repeat("long ", 30), now)
	b.Status = types.StatusDone

	out := TaskTable([]*types.Task{a, b})
	for _, want := range []string{"STATUS", ShortID(a.ID), "Write docs", "done", "…"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestPrintTask(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	task, _ := types.NewTask("u-1", "[api] Fix bug", time.Now())
	task.Source = types.SourceGitHub
	task.SourceID = "42"
	task.SourceRef = "7"
	task.Collection = "r1"
	task.Tags = []string{"api", "bug"}
	if _, err := task.AddComment("ada", "on it", types.SourceLocal, time.Now()); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	PrintTask(&buf, task)
	out := buf.String()
	for _, want := range []string{"[api] Fix bug", "github", "#7", "api, bug", "on it"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID(abc) = %q", got)
	}
	if got := ShortID("0123456789"); got != "01234567" {
		t.Errorf("ShortID = %q", got)
	}
}
