// Package migrate exports a user's tasks for backup and restores them.
//
// The JSONL format holds one task per line, exactly as the API returns it.
// The YAML export is a readable snapshot and is not meant for import.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bliqhq/bliq/internal/storage"
	"github.com/bliqhq/bliq/internal/types"
)

// maxLineSize bounds one JSONL record.
const maxLineSize = 16 << 20

// ImportOptions contains configuration for ImportJSONL
type ImportOptions struct {
	UserID string // Owner of the imported tasks
	DryRun bool   // Validate and count without writing
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Read     int
	Imported int
	Skipped  int
	Invalid  int
	Errors   []string
}

// ExportJSONL writes every task of userID to w, one per line.
func ExportJSONL(ctx context.Context, store storage.Store, userID string, w io.Writer) (int, error) {
	tasks, err := store.TasksByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load tasks: %w", err)
	}

	enc := json.NewEncoder(w)
	for i, t := range tasks {
		if err := enc.Encode(t); err != nil {
			return i, fmt.Errorf("failed to write task %s: %w", t.ID, err)
		}
	}
	return len(tasks), nil
}

// ExportJSONLFile writes the export to path atomically.
func ExportJSONLFile(ctx context.Context, store storage.Store, userID, path string) (int, error) {
	var n int
	err := writeAtomic(path, func(w io.Writer) error {
		var err error
		n, err = ExportJSONL(ctx, store, userID, w)
		return err
	})
	return n, err
}

// ReadJSONL parses tasks from r. Blank lines are ignored; a malformed
// line fails the whole read with its line number.
func ReadJSONL(r io.Reader) ([]*types.Task, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var tasks []*types.Task
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var t types.Task
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		tasks = append(tasks, &t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL: %w", err)
	}
	return tasks, nil
}

// ImportJSONL restores tasks from a JSONL file into opts.UserID's account.
// Tasks whose id or (source, source_id) already exists are skipped, so an
// import can be repeated safely. Invalid tasks are counted and reported.
func ImportJSONL(ctx context.Context, store storage.Store, path string, opts ImportOptions) (*ImportResult, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	tasks, err := ReadJSONL(file)
	if err != nil {
		return nil, err
	}

	existing, err := store.TasksByUser(ctx, opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	seen := make(map[types.DedupKey]bool, len(existing))
	for _, t := range existing {
		if key, ok := t.DedupKey(); ok {
			seen[key] = true
		}
	}

	result := &ImportResult{Read: len(tasks)}
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		t.UserID = opts.UserID
		if t.Tags == nil {
			t.Tags = []string{}
		}
		if t.Comments == nil {
			t.Comments = []types.Comment{}
		}
		if err := t.Validate(); err != nil {
			result.Invalid++
			result.Errors = append(result.Errors, fmt.Sprintf("task %s: %v", t.ID, err))
			continue
		}

		prev, err := store.GetTask(ctx, t.ID)
		if err != nil {
			return result, fmt.Errorf("failed to look up task %s: %w", t.ID, err)
		}
		key, linked := t.DedupKey()
		if prev != nil || (linked && seen[key]) {
			result.Skipped++
			continue
		}

		if !opts.DryRun {
			if err := store.PutTask(ctx, t); err != nil {
				if errors.Is(err, storage.ErrConflict) {
					result.Skipped++
					continue
				}
				return result, fmt.Errorf("failed to import task %s: %w", t.ID, err)
			}
		}
		if linked {
			seen[key] = true
		}
		result.Imported++
	}

	return result, nil
}

// Snapshot is the YAML export document.
type Snapshot struct {
	UserID     string        `yaml:"user_id"`
	ExportedAt time.Time     `yaml:"exported_at"`
	Tasks      []*types.Task `yaml:"tasks"`
}

// ExportYAML writes a snapshot of userID's tasks to w.
func ExportYAML(ctx context.Context, store storage.Store, userID string, w io.Writer) (int, error) {
	tasks, err := store.TasksByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load tasks: %w", err)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	snap := Snapshot{UserID: userID, ExportedAt: time.Now().UTC(), Tasks: tasks}
	if err := enc.Encode(snap); err != nil {
		return 0, fmt.Errorf("failed to encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("failed to encode YAML: %w", err)
	}
	return len(tasks), nil
}

// ExportYAMLFile writes the YAML snapshot to path atomically.
func ExportYAMLFile(ctx context.Context, store storage.Store, userID, path string) (int, error) {
	var n int
	err := writeAtomic(path, func(w io.Writer) error {
		var err error
		n, err = ExportYAML(ctx, store, userID, w)
		return err
	})
	return n, err
}

// writeAtomic writes through a temp file and renames it into place.
func writeAtomic(path string, fn func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
