package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bliqhq/bliq/internal/storage"
	"github.com/bliqhq/bliq/internal/types"
)

// PutUser inserts or overwrites a user. Emails are unique.
func (db *DB) PutUser(ctx context.Context, u *types.User) error {
	if u.ID == "" || u.Email == "" {
		return fmt.Errorf("invalid user: id and email are required")
	}
	query := `
	INSERT INTO users (id, email, name, password_hash, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		email = excluded.email,
		name = excluded.name,
		password_hash = excluded.password_hash
	`
	_, err := db.conn.ExecContext(ctx, query, u.ID, strings.ToLower(u.Email), u.Name, u.PasswordHash, formatTime(u.CreatedAt))
	if err != nil {
		return wrapWriteErr("upsert user "+u.ID, err)
	}
	return nil
}

const userColumns = `id, email, name, password_hash, created_at`

// GetUser returns the user with id, or (nil, nil) when absent.
func (db *DB) GetUser(ctx context.Context, id string) (*types.User, error) {
	return db.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByEmail looks a user up by email (case-insensitive).
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return db.getUser(ctx, `WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

func (db *DB) getUser(ctx context.Context, where string, arg string) (*types.User, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// ListUsers returns all users ordered by creation.
func (db *DB) ListUsers(ctx context.Context) ([]*types.User, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []*types.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// DeleteUser removes a user and, through cascades, everything they own.
func (db *DB) DeleteUser(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	return nil
}

func scanUser(s scanner) (*types.User, error) {
	var u types.User
	var createdAt string
	if err := s.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = t
	return &u, nil
}

const integrationColumns = `id, user_id, service, token, selected_repos, metadata, created_at, updated_at`

// PutIntegration inserts or overwrites an integration. A second record for
// the same (user_id, service) never exists: the existing row is updated
// and keeps its id and created_at, which are copied back into i.
func (db *DB) PutIntegration(ctx context.Context, i *types.Integration) error {
	if err := i.Validate(); err != nil {
		return fmt.Errorf("invalid integration: %w", err)
	}

	repos := i.SelectedRepos
	if repos == nil {
		repos = []types.Collection{}
	}
	reposJSON, err := json.Marshal(repos)
	if err != nil {
		return fmt.Errorf("failed to marshal selected repos: %w", err)
	}
	meta := i.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
	INSERT INTO integrations (` + integrationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		service = excluded.service,
		token = excluded.token,
		selected_repos = excluded.selected_repos,
		metadata = excluded.metadata,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	ON CONFLICT(user_id, service) DO UPDATE SET
		token = excluded.token,
		selected_repos = excluded.selected_repos,
		metadata = excluded.metadata,
		updated_at = excluded.updated_at
	RETURNING id, created_at
	`
	var id, createdAt string
	err = db.conn.QueryRowContext(ctx, query,
		i.ID, i.UserID, i.Service, i.Token,
		string(reposJSON), string(metaJSON),
		formatTime(i.CreatedAt), formatTime(i.UpdatedAt),
	).Scan(&id, &createdAt)
	if err != nil {
		return wrapWriteErr("upsert integration "+i.ID, err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return err
	}
	i.ID = id
	i.CreatedAt = created
	return nil
}

// GetIntegration returns the integration with id, or (nil, nil).
func (db *DB) GetIntegration(ctx context.Context, id string) (*types.Integration, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id)
	i, err := scanIntegration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return i, err
}

// DeleteIntegration removes an integration.
func (db *DB) DeleteIntegration(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM integrations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete integration %s: %w", id, err)
	}
	return nil
}

// IntegrationsByUser returns the user's integrations.
func (db *DB) IntegrationsByUser(ctx context.Context, userID string) ([]*types.Integration, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = ? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrations: %w", err)
	}
	defer rows.Close()

	out := []*types.Integration{}
	for rows.Next() {
		i, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating integrations: %w", err)
	}
	return out, nil
}

func scanIntegration(s scanner) (*types.Integration, error) {
	var i types.Integration
	var reposJSON, metaJSON sql.NullString
	var createdAt, updatedAt string
	err := s.Scan(&i.ID, &i.UserID, &i.Service, &i.Token, &reposJSON, &metaJSON, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan integration: %w", err)
	}

	i.SelectedRepos = []types.Collection{}
	if reposJSON.Valid && reposJSON.String != "" {
		if err := json.Unmarshal([]byte(reposJSON.String), &i.SelectedRepos); err != nil {
			return nil, fmt.Errorf("failed to unmarshal selected repos: %w", err)
		}
	}
	i.Metadata = map[string]string{}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &i.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if i.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if i.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

// PutQueueEntry inserts or overwrites a sync queue entry.
func (db *DB) PutQueueEntry(ctx context.Context, e *types.QueueEntry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid queue entry: %w", err)
	}
	query := `
	INSERT INTO sync_queue (id, user_id, action, entity_type, entity_id, payload, attempts, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		payload = excluded.payload,
		attempts = excluded.attempts
	`
	_, err := db.conn.ExecContext(ctx, query,
		e.ID, e.UserID, e.Action, e.EntityType, e.EntityID,
		toNullString(string(e.Payload)), e.Attempts, formatTime(e.CreatedAt),
	)
	if err != nil {
		return wrapWriteErr("upsert queue entry "+e.ID, err)
	}
	return nil
}

// DeleteQueueEntry removes a queue entry.
func (db *DB) DeleteQueueEntry(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue entry %s: %w", id, err)
	}
	return nil
}

// QueueByUser returns the user's pending entries, oldest first.
func (db *DB) QueueByUser(ctx context.Context, userID string) ([]*types.QueueEntry, error) {
	query := `
	SELECT id, user_id, action, entity_type, entity_id, payload, attempts, created_at
	FROM sync_queue
	WHERE user_id = ?
	ORDER BY created_at ASC, id ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync queue: %w", err)
	}
	defer rows.Close()

	out := []*types.QueueEntry{}
	for rows.Next() {
		var e types.QueueEntry
		var payload sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.EntityType, &e.EntityID, &payload, &e.Attempts, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync queue: %w", err)
	}
	return out, nil
}

// Stats counts the user's tasks by status and source.
func (db *DB) Stats(ctx context.Context, userID string) (*storage.Stats, error) {
	stats := storage.NewStats()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT status, source, COUNT(*) FROM tasks WHERE user_id = ? GROUP BY status, source`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status types.Status
		var source types.Source
		var n int
		if err := rows.Scan(&status, &source, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task stats: %w", err)
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.BySource[source] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task stats: %w", err)
	}

	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM integrations WHERE user_id = ?`, userID).Scan(&stats.Integrations); err != nil {
		return nil, fmt.Errorf("failed to count integrations: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE user_id = ?`, userID).Scan(&stats.Queued); err != nil {
		return nil, fmt.Errorf("failed to count sync queue: %w", err)
	}
	return stats, nil
}
