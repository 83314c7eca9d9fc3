package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const interactionColumns = `id, customer_id, user_id, type, summary, details, ai_summary, occurred_at, created_at`

// CreateInteraction inserts i after checking that its customer belongs to
// the same user. A foreign customer is reported as ErrNotFound.
func (s *Store) CreateInteraction(ctx context.Context, i Interaction) (Interaction, error) {
	if _, err := s.GetCustomer(ctx, i.UserID, i.CustomerID); err != nil {
		return Interaction{}, err
	}

	now := time.Now().UTC()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	if i.OccurredAt.IsZero() {
		i.OccurredAt = i.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (`+interactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.CustomerID, i.UserID, string(i.Type), i.Summary, i.Details, i.AISummary,
		formatTime(i.OccurredAt), formatTime(i.CreatedAt),
	)
	if err != nil {
		return Interaction{}, fmt.Errorf("inserting interaction: %w", err)
	}
	return i, nil
}

// GetInteraction returns one interaction owned by userID.
func (s *Store) GetInteraction(ctx context.Context, userID, id string) (Interaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE id = ? AND user_id = ?`, id, userID)
	i, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, ErrNotFound
	}
	if err != nil {
		return Interaction{}, fmt.Errorf("selecting interaction: %w", err)
	}
	return i, nil
}

// ListInteractions returns up to limit of the customer's interactions, most
// recent occurrence first. No interactions yields an empty, non-nil slice.
func (s *Store) ListInteractions(ctx context.Context, userID, customerID string, limit int) ([]Interaction, error) {
	limit = Page{Limit: limit}.Normalize().Limit
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+interactionColumns+` FROM interactions
		WHERE user_id = ? AND customer_id = ?
		ORDER BY occurred_at DESC, created_at DESC
		LIMIT ?`, userID, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing interactions: %w", err)
	}
	defer rows.Close()

	out := []Interaction{}
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// SetInteractionAISummary stores a generated summary on the interaction.
func (s *Store) SetInteractionAISummary(ctx context.Context, userID, id, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE interactions SET ai_summary = ? WHERE id = ? AND user_id = ?`, summary, id, userID)
	if err != nil {
		return fmt.Errorf("updating ai_summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInteraction(row scanner) (Interaction, error) {
	var i Interaction
	var typ, occurredAt, createdAt string
	if err := row.Scan(&i.ID, &i.CustomerID, &i.UserID, &typ, &i.Summary, &i.Details, &i.AISummary, &occurredAt, &createdAt); err != nil {
		return Interaction{}, err
	}
	i.Type = InteractionType(typ)

	var err error
	if i.OccurredAt, err = parseTime("occurred_at", occurredAt); err != nil {
		return Interaction{}, err
	}
	if i.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Interaction{}, err
	}
	return i, nil
}
