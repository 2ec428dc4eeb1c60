package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bliqhq/bliq/internal/provider"
	"github.com/bliqhq/bliq/internal/storage"
	"github.com/bliqhq/bliq/internal/types"
)

// PullResult summarizes one pull pass.
type PullResult struct {
	UserID      string            `json:"user_id"`
	Inserted    int               `json:"inserted"`
	Skipped     int               `json:"skipped"`
	Excluded    int               `json:"excluded"`
	Collections []CollectionStats `json:"collections"`
	Failures    []Failure         `json:"failures,omitempty"`
	Duration    time.Duration     `json:"duration"`
}

// CollectionStats counts what happened to one collection's items.
type CollectionStats struct {
	Service    types.Service `json:"service"`
	Collection string        `json:"collection"`
	Name       string        `json:"name"`
	Fetched    int           `json:"fetched"`
	Inserted   int           `json:"inserted"`
	Skipped    int           `json:"skipped"`
	Excluded   int           `json:"excluded"`
}

// Failure records a provider error that did not stop the pass.
type Failure struct {
	Service    types.Service `json:"service"`
	Collection string        `json:"collection,omitempty"`
	Err        string        `json:"error"`
	// Credential is set when the service rejected the token; the caller
	// should ask the user to reconnect.
	Credential bool `json:"credential"`
}

// CredentialFailures returns the services whose token was rejected.
func (r *PullResult) CredentialFailures() []types.Service {
	var out []types.Service
	for _, f := range r.Failures {
		if f.Credential {
			out = append(out, f.Service)
		}
	}
	return out
}

// Pull imports new items from every selected collection of every
// integration the user has.
//
// Items whose (source, sourceId) already exists locally are skipped, so
// repeated pulls never create duplicates. Existing tasks are never
// modified by a pull.
func (e *Engine) Pull(ctx context.Context, userID string) (*PullResult, error) {
	unlock, err := e.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	res := &PullResult{UserID: userID, Collections: []CollectionStats{}}

	integrations, err := e.registry.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(integrations) == 0 {
		res.Duration = time.Since(start)
		e.notifier.SyncCompleted(userID, res)
		return res, nil
	}

	existing, err := e.store.TasksByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	seen := make(map[types.DedupKey]struct{}, len(existing))
	for _, t := range existing {
		if key, ok := t.DedupKey(); ok {
			seen[key] = struct{}{}
		}
	}

	for _, in := range integrations {
		if err := e.pullIntegration(ctx, in, seen, res); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
	}

	res.Duration = time.Since(start)
	e.logger.Printf("Pull complete for %s: inserted=%d skipped=%d excluded=%d failures=%d (%v)",
		userID, res.Inserted, res.Skipped, res.Excluded, len(res.Failures), res.Duration.Round(time.Millisecond))
	e.notifier.SyncCompleted(userID, res)
	return res, nil
}

// pullIntegration walks the integration's selection in order. Only store
// failures and cancellation are returned.
func (e *Engine) pullIntegration(ctx context.Context, in *types.Integration, seen map[types.DedupKey]struct{}, res *PullResult) error {
	if len(in.SelectedRepos) == 0 {
		return nil
	}

	p, err := e.providers.Get(in.Service)
	if err != nil {
		res.Failures = append(res.Failures, Failure{Service: in.Service, Err: err.Error()})
		e.logger.Printf("Warning: skipping %s: %v", in.Service, err)
		return nil
	}

	for _, c := range in.SelectedRepos {
		if err := ctx.Err(); err != nil {
			return err
		}

		var items []provider.ExternalItem
		err := e.call(ctx, func(ctx context.Context) error {
			var err error
			items, err = p.ListItems(ctx, in.Token, c)
			return err
		})
		if err != nil {
			f := Failure{
				Service:    in.Service,
				Collection: c.ID,
				Err:        err.Error(),
				Credential: provider.IsCredentialError(err),
			}
			res.Failures = append(res.Failures, f)
			e.logger.Printf("Warning: failed to fetch %s %s: %v", in.Service, displayName(c), err)
			if f.Credential {
				// Every other collection would fail the same way.
				break
			}
			continue
		}

		stats, err := e.importItems(ctx, in, c, items, seen)
		res.Collections = append(res.Collections, stats)
		res.Inserted += stats.Inserted
		res.Skipped += stats.Skipped
		res.Excluded += stats.Excluded
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) importItems(ctx context.Context, in *types.Integration, c types.Collection, items []provider.ExternalItem, seen map[types.DedupKey]struct{}) (CollectionStats, error) {
	stats := CollectionStats{
		Service:    in.Service,
		Collection: c.ID,
		Name:       displayName(c),
		Fetched:    len(items),
	}
	source := in.Service.Source()

	for _, it := range items {
		if it.IsPullRequest || it.ID == "" {
			stats.Excluded++
			continue
		}

		key := types.DedupKey{Source: source, SourceID: it.ID}
		if _, ok := seen[key]; ok {
			stats.Skipped++
			continue
		}

		task := e.mapItem(in, c, it)
		if err := e.store.PutTask(ctx, task); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				// Written by another process since the set was built.
				seen[key] = struct{}{}
				stats.Skipped++
				continue
			}
			return stats, fmt.Errorf("failed to store %s item %s: %w", in.Service, it.ID, err)
		}

		seen[key] = struct{}{}
		stats.Inserted++
		e.notifier.TaskImported(task)
	}
	return stats, nil
}

// mapItem builds the local task for an external item.
func (e *Engine) mapItem(in *types.Integration, c types.Collection, it provider.ExternalItem) *types.Task {
	now := e.now()
	name := displayName(c)

	status := types.StatusTodo
	if it.Closed {
		status = types.StatusDone
	}

	tags := types.NormalizeTags(append([]string{name}, it.Labels...))

	return &types.Task{
		ID:          uuid.New().String(),
		UserID:      in.UserID,
		Title:       importTitle(name, it.Title),
		Description: it.Body,
		IsMarkdown:  in.Service == types.ServiceGitHub,
		Status:      status,
		Priority:    PriorityFromLabels(it.Labels),
		Source:      in.Service.Source(),
		SourceID:    it.ID,
		SourceRef:   it.Ref,
		Collection:  c.ID,
		Tags:        tags,
		Comments:    []types.Comment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// PriorityFromLabels derives a priority from label keywords. "high",
// "urgent" and "critical" win over "low" and "minor"; matching is a
// case-insensitive substring test.
func PriorityFromLabels(labels []string) types.Priority {
	low := false
	for _, l := range labels {
		l = strings.ToLower(l)
		if strings.Contains(l, "high") || strings.Contains(l, "urgent") || strings.Contains(l, "critical") {
			return types.PriorityHigh
		}
		if strings.Contains(l, "low") || strings.Contains(l, "minor") {
			low = true
		}
	}
	if low {
		return types.PriorityLow
	}
	return types.PriorityMedium
}

// importTitle prefixes the collection name and keeps the result within
// the title limit.
func importTitle(collection, title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "(untitled)"
	}
	out := "[" + collection + "] " + title
	if len(out) <= types.MaxTitleLength {
		return out
	}
	cut := types.MaxTitleLength
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut]
}

func displayName(c types.Collection) string {
	switch {
	case c.Name != "":
		return c.Name
	case c.FullName != "":
		return c.FullName
	}
	return c.ID
}
