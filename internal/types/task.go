// Package types defines the canonical records shared by the store, the
// integration registry and the sync engine.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// ParseStatus converts user input into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if st == "in_progress" || st == "inprogress" {
		st = StatusInProgress
	}
	if !st.IsValid() {
		return "", fmt.Errorf("invalid status %q (want todo, in-progress or done)", s)
	}
	return st, nil
}

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid reports whether p is one of the known priorities.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ParsePriority converts user input into a Priority.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid priority %q (want low, medium or high)", s)
	}
	return p, nil
}

// Source records where a task came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceGitHub Source = "github"
	SourceTrello Source = "trello"
)

// IsValid reports whether s is one of the known sources.
func (s Source) IsValid() bool {
	switch s {
	case SourceLocal, SourceGitHub, SourceTrello:
		return true
	}
	return false
}

// MaxTitleLength bounds task titles.
const MaxTitleLength = 500

var (
	// ErrInvalidTask is wrapped by every validation failure.
	ErrInvalidTask = errors.New("invalid task")

	// ErrIrreversibleSource is returned when an update tries to move an
	// external task back to local, or re-point it at another service.
	ErrIrreversibleSource = errors.New("task source can only move from local to an external service")
)

// Comment is a single entry in a task's append-only discussion.
type Comment struct {
	ID        string    `json:"id" yaml:"id"`
	Author    string    `json:"author" yaml:"author"`
	Body      string    `json:"body" yaml:"body"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Source    Source    `json:"source,omitempty" yaml:"source,omitempty"`
	SourceID  string    `json:"source_id,omitempty" yaml:"source_id,omitempty"`
}

// Task is the canonical work item, local or imported.
type Task struct {
	ID          string   `json:"id" yaml:"id"`
	UserID      string   `json:"user_id" yaml:"user_id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	IsMarkdown  bool     `json:"is_markdown" yaml:"is_markdown"`
	Status      Status   `json:"status" yaml:"status"`
	Priority    Priority `json:"priority" yaml:"priority"`
	Source      Source   `json:"source" yaml:"source"`

	// SourceID is the external system's stable identifier; together with
	// Source it forms the de-duplication key.
	SourceID string `json:"source_id,omitempty" yaml:"source_id,omitempty"`

	// SourceRef is the handle the provider expects on mutations (GitHub
	// issue number, Trello card id).
	SourceRef string `json:"source_ref,omitempty" yaml:"source_ref,omitempty"`

	// Collection is the id of the repository or board holding the item.
	Collection string `json:"collection,omitempty" yaml:"collection,omitempty"`

	Tags      []string  `json:"tags" yaml:"tags"`
	Comments  []Comment `json:"comments" yaml:"comments"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// DedupKey identifies an imported item independently of its local id.
type DedupKey struct {
	Source   Source
	SourceID string
}

func (k DedupKey) String() string {
	return string(k.Source) + ":" + k.SourceID
}

// DedupKey returns the task's external key. ok is false for local tasks.
func (t *Task) DedupKey() (DedupKey, bool) {
	if t.Source == SourceLocal || t.SourceID == "" {
		return DedupKey{}, false
	}
	return DedupKey{Source: t.Source, SourceID: t.SourceID}, true
}

// IsLocal reports whether the task has no external counterpart yet.
func (t *Task) IsLocal() bool {
	return t.Source == SourceLocal
}

// NewTask builds a local todo task with a fresh id.
func NewTask(userID, title string, now time.Time) (*Task, error) {
	t := &Task{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     strings.TrimSpace(title),
		Status:    StatusTodo,
		Priority:  PriorityMedium,
		Source:    SourceLocal,
		Tags:      []string{},
		Comments:  []Comment{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks field values and the source/sourceId pairing.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTask)
	}
	if t.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidTask)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if len(t.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title must be %d characters or less (got %d)", ErrInvalidTask, MaxTitleLength, len(t.Title))
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrInvalidTask, t.Status)
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrInvalidTask, t.Priority)
	}
	if !t.Source.IsValid() {
		return fmt.Errorf("%w: invalid source %q", ErrInvalidTask, t.Source)
	}
	if t.Source == SourceLocal && t.SourceID != "" {
		return fmt.Errorf("%w: local task cannot carry a source_id", ErrInvalidTask)
	}
	if t.Source != SourceLocal && t.SourceID == "" {
		return fmt.Errorf("%w: %s task requires a source_id", ErrInvalidTask, t.Source)
	}
	if t.CreatedAt.IsZero() || t.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: timestamps are required", ErrInvalidTask)
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		return fmt.Errorf("%w: updated_at precedes created_at", ErrInvalidTask)
	}
	return nil
}

// NormalizeTags trims tags, drops empties and removes duplicates while
// keeping the first occurrence.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// HasTag reports whether tag is present.
func (t *Task) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// Link describes the one-way local -> external transition applied after a
// successful push.
type Link struct {
	Source     Source
	SourceID   string
	SourceRef  string
	Collection string
}

// TaskUpdate is a partial update. Nil fields are left untouched.
type TaskUpdate struct {
	Title       *string
	Description *string
	IsMarkdown  *bool
	Status      *Status
	Priority    *Priority
	Tags        []string
	Link        *Link
}

// Apply is the single mutation path for tasks: it merges u, refreshes
// UpdatedAt and re-validates. On error the task is left unchanged.
func (t *Task) Apply(u TaskUpdate, now time.Time) error {
	next := *t
	if u.Title != nil {
		next.Title = strings.TrimSpace(*u.Title)
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.IsMarkdown != nil {
		next.IsMarkdown = *u.IsMarkdown
	}
	if u.Status != nil {
		next.Status = *u.Status
	}
	if u.Priority != nil {
		next.Priority = *u.Priority
	}
	if u.Tags != nil {
		next.Tags = NormalizeTags(u.Tags)
	}
	if u.Link != nil {
		if t.Source != SourceLocal || u.Link.Source == SourceLocal {
			return ErrIrreversibleSource
		}
		next.Source = u.Link.Source
		next.SourceID = u.Link.SourceID
		next.SourceRef = u.Link.SourceRef
		next.Collection = u.Link.Collection
	}
	next.touch(now)
	if err := next.Validate(); err != nil {
		return err
	}
	*t = next
	return nil
}

// AddComment appends a comment and refreshes UpdatedAt.
func (t *Task) AddComment(author, body string, source Source, now time.Time) (*Comment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: comment body is required", ErrInvalidTask)
	}
	if source == "" {
		source = SourceLocal
	}
	c := Comment{
		ID:        uuid.New().String(),
		Author:    author,
		Body:      body,
		CreatedAt: now,
		Source:    source,
	}
	t.Comments = append(t.Comments, c)
	t.touch(now)
	return &c, nil
}

func (t *Task) touch(now time.Time) {
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	t.UpdatedAt = now
}
