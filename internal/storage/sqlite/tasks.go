package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bliqhq/bliq/internal/types"
)

const taskColumns = `id, user_id, title, description, is_markdown, status, priority,
	source, source_id, source_ref, collection, tags, comments, created_at, updated_at`

// PutTask inserts or overwrites a task.
//
// A second task with the same (user_id, source, source_id) is rejected with
// storage.ErrConflict.
func (db *DB) PutTask(ctx context.Context, task *types.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	comments := task.Comments
	if comments == nil {
		comments = []types.Comment{}
	}
	commentsJSON, err := json.Marshal(comments)
	if err != nil {
		return fmt.Errorf("failed to marshal comments: %w", err)
	}

	query := `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		title = excluded.title,
		description = excluded.description,
		is_markdown = excluded.is_markdown,
		status = excluded.status,
		priority = excluded.priority,
		source = excluded.source,
		source_id = excluded.source_id,
		source_ref = excluded.source_ref,
		collection = excluded.collection,
		tags = excluded.tags,
		comments = excluded.comments,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		task.ID,
		task.UserID,
		task.Title,
		task.Description,
		task.IsMarkdown,
		task.Status,
		task.Priority,
		task.Source,
		toNullString(task.SourceID),
		toNullString(task.SourceRef),
		toNullString(task.Collection),
		string(tagsJSON),
		string(commentsJSON),
		formatTime(task.CreatedAt),
		formatTime(task.UpdatedAt),
	)
	if err != nil {
		return wrapWriteErr("upsert task "+task.ID, err)
	}
	return nil
}

// GetTask returns the task with id, or (nil, nil) when absent.
func (db *DB) GetTask(ctx context.Context, id string) (*types.Task, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a task. Deleting a missing task is not an error.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// TasksByUser returns every task owned by userID.
func (db *DB) TasksByUser(ctx context.Context, userID string) ([]*types.Task, error) {
	return db.queryTasks(ctx, `WHERE user_id = ?`, userID)
}

// TasksByStatus returns the user's tasks in the given status.
func (db *DB) TasksByStatus(ctx context.Context, userID string, status types.Status) ([]*types.Task, error) {
	return db.queryTasks(ctx, `WHERE user_id = ? AND status = ?`, userID, status)
}

// TasksBySource returns the user's tasks from the given source.
func (db *DB) TasksBySource(ctx context.Context, userID string, source types.Source) ([]*types.Task, error) {
	return db.queryTasks(ctx, `WHERE user_id = ? AND source = ?`, userID, source)
}

func (db *DB) queryTasks(ctx context.Context, where string, args ...any) ([]*types.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at ASC, id ASC`
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*types.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(s scanner) (*types.Task, error) {
	var task types.Task
	var sourceID, sourceRef, collection, tagsJSON, commentsJSON sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(
		&task.ID,
		&task.UserID,
		&task.Title,
		&task.Description,
		&task.IsMarkdown,
		&task.Status,
		&task.Priority,
		&task.Source,
		&sourceID,
		&sourceRef,
		&collection,
		&tagsJSON,
		&commentsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	task.SourceID = sourceID.String
	task.SourceRef = sourceRef.String
	task.Collection = collection.String

	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	task.Tags = []string{}
	if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &task.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	task.Comments = []types.Comment{}
	if commentsJSON.Valid && commentsJSON.String != "" && commentsJSON.String != "null" {
		if err := json.Unmarshal([]byte(commentsJSON.String), &task.Comments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal comments: %w", err)
		}
	}

	return &task, nil
}
