package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const customerColumns = `id, user_id, name, email, company, type, status, tags, created_at, updated_at`

// CreateCustomer inserts c. ID, UserID and Name must be set; timestamps
// default to now.
func (s *Store) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	if c.Tags == nil {
		c.Tags = []string{}
	}
	tags, err := encodeTags(c.Tags)
	if err != nil {
		return Customer{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.Email, c.Company, string(c.Type), string(c.Status), tags,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return Customer{}, fmt.Errorf("inserting customer: %w", err)
	}
	return c, nil
}

// GetCustomer returns the customer only if it belongs to userID. A customer
// owned by someone else is reported as ErrNotFound.
func (s *Store) GetCustomer(ctx context.Context, userID, id string) (Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = ? AND user_id = ?`, id, userID)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, fmt.Errorf("selecting customer: %w", err)
	}
	return c, nil
}

// ListCustomers returns the user's customers, newest first.
func (s *Store) ListCustomers(ctx context.Context, userID string, page Page) ([]Customer, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE user_id = ?
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing customers: %w", err)
	}
	defer rows.Close()

	customers := []Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (Customer, error) {
	var c Customer
	var typ, status, tags, createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Company, &typ, &status, &tags, &createdAt, &updatedAt); err != nil {
		return Customer{}, err
	}
	c.Type = CustomerType(typ)
	c.Status = CustomerStatus(status)

	var err error
	if c.Tags, err = decodeTags(tags); err != nil {
		return Customer{}, err
	}
	if c.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Customer{}, err
	}
	if c.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Customer{}, err
	}
	return c, nil
}
