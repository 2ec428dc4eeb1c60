package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"golang.org/x/term"

	"github.com/bliqhq/bliq/internal/provider"
)

// interactive reports whether prompts can be shown.
func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// promptSecret asks for a hidden value on a terminal, or reads the first
// line of stdin otherwise.
func promptSecret(title string) (string, error) {
	if !interactive() {
		return readLine(os.Stdin)
	}
	var value string
	err := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("required")
			}
			return nil
		}).
		Value(&value).
		Run()
	return strings.TrimSpace(value), err
}

// promptPassword asks for a password twice when on a terminal.
func promptPassword() (string, error) {
	if !interactive() {
		return readLine(os.Stdin)
	}
	var first, second string
	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&first),
		huh.NewInput().Title("Confirm password").EchoMode(huh.EchoModePassword).Value(&second).
			Validate(func(s string) error {
				if s != first {
					return fmt.Errorf("passwords do not match")
				}
				return nil
			}),
	)).Run()
	return first, err
}

// promptCollections offers a multi-select of the available collections,
// with the current selection pre-checked.
func promptCollections(title string, available []provider.CollectionInfo, selected map[string]bool) ([]string, error) {
	opts := make([]huh.Option[string], 0, len(available))
	for _, c := range available {
		label := c.FullName
		if c.Private {
			label += " (private)"
		}
		opts = append(opts, huh.NewOption(label, c.ID).Selected(selected[c.ID]))
	}

	var ids []string
	err := huh.NewMultiSelect[string]().
		Title(title).
		Options(opts...).
		Value(&ids).
		Run()
	return ids, err
}

// confirm asks a yes/no question. Without a terminal it returns def.
func confirm(title string, def bool) bool {
	if !interactive() {
		return def
	}
	ok := def
	if err := huh.NewConfirm().Title(title).Value(&ok).Run(); err != nil {
		return false
	}
	return ok
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("no input on stdin")
	}
	return line, nil
}

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince accepts RFC 3339, a plain date, a duration ("48h") or
// natural language ("last monday", "2 days ago").
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	r, err := dateParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand date %q", s)
	}
	return r.Time, nil
}
