package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const taskColumns = `id, user_id, customer_id, title, description, due_at, priority, status, tags, created_at, updated_at`

// CreateTask inserts t. When CustomerID is set it must reference a customer
// owned by the same user.
func (s *Store) CreateTask(ctx context.Context, t Task) (Task, error) {
	if t.CustomerID != "" {
		if _, err := s.GetCustomer(ctx, t.UserID, t.CustomerID); err != nil {
			return Task{}, err
		}
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	if t.Tags == nil {
		t.Tags = []string{}
	}
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return Task{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, nullString(t.CustomerID), t.Title, t.Description, formatTime(t.DueAt),
		string(t.Priority), string(t.Status), tags, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return Task{}, fmt.Errorf("inserting task: %w", err)
	}
	return t, nil
}

// GetTask returns one task owned by userID.
func (s *Store) GetTask(ctx context.Context, userID, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("selecting task: %w", err)
	}
	return t, nil
}

// ListTasks returns the user's tasks ordered by due date. An empty status
// matches every status.
func (s *Store) ListTasks(ctx context.Context, userID string, status TaskStatus, page Page) ([]Task, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ? AND (? = '' OR status = ?)
		ORDER BY due_at ASC, id ASC
		LIMIT ? OFFSET ?`, userID, string(status), string(status), page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus moves a task owned by userID to status.
func (s *Store) UpdateTaskStatus(ctx context.Context, userID, id string, status TaskStatus) (Task, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		string(status), formatTime(time.Now()), id, userID)
	if err != nil {
		return Task{}, fmt.Errorf("updating task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Task{}, err
	}
	if n == 0 {
		return Task{}, ErrNotFound
	}
	return s.GetTask(ctx, userID, id)
}

func scanTask(row scanner) (Task, error) {
	var t Task
	var customerID sql.NullString
	var dueAt, priority, status, tags, createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.UserID, &customerID, &t.Title, &t.Description, &dueAt, &priority, &status, &tags, &createdAt, &updatedAt); err != nil {
		return Task{}, err
	}
	t.CustomerID = customerID.String
	t.Priority = TaskPriority(priority)
	t.Status = TaskStatus(status)

	var err error
	if t.Tags, err = decodeTags(tags); err != nil {
		return Task{}, err
	}
	if t.DueAt, err = parseTime("due_at", dueAt); err != nil {
		return Task{}, err
	}
	if t.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Task{}, err
	}
	if t.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Task{}, err
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
