// Package pgstore implements the record store on PostgreSQL via pgxpool.
// Methods mirror storage.Store so either can back the API and worker.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kalambet/crmpilot/internal/storage"
)

// Store is the PostgreSQL record store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and verifies the connection.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping reports whether the database answers within five seconds.
func (s *Store) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// notFound maps pgx's no-rows error onto storage.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func orEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// --- Customers ---

const customerColumns = `id, user_id, name, email, company, type, status, tags, created_at, updated_at`

func (s *Store) CreateCustomer(ctx context.Context, c storage.Customer) (storage.Customer, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	c.Tags = orEmpty(c.Tags)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.UserID, c.Name, c.Email, c.Company, string(c.Type), string(c.Status), c.Tags, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return storage.Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	return c, nil
}

func (s *Store) GetCustomer(ctx context.Context, userID, id string) (storage.Customer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1 AND user_id = $2`, id, userID)
	c, err := scanCustomer(row)
	if err != nil {
		return storage.Customer{}, notFound(err)
	}
	return c, nil
}

func (s *Store) ListCustomers(ctx context.Context, userID string, page storage.Page) ([]storage.Customer, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE user_id = $1
		ORDER BY created_at DESC, id ASC
		LIMIT $2 OFFSET $3`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	out := []storage.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCustomer(row pgx.Row) (storage.Customer, error) {
	var c storage.Customer
	var typ, status string
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Company, &typ, &status, &c.Tags, &c.CreatedAt, &c.UpdatedAt)
	c.Type = storage.CustomerType(typ)
	c.Status = storage.CustomerStatus(status)
	c.Tags = orEmpty(c.Tags)
	return c, err
}

// --- Interactions ---

const interactionColumns = `id, customer_id, user_id, type, summary, details, ai_summary, occurred_at, created_at`

func (s *Store) CreateInteraction(ctx context.Context, i storage.Interaction) (storage.Interaction, error) {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	if i.OccurredAt.IsZero() {
		i.OccurredAt = i.CreatedAt
	}
	// The insert selects from the owner's customer row so a foreign
	// customer inserts nothing.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO interactions (`+interactionColumns+`)
		SELECT $1, c.id, c.user_id, $4, $5, $6, $7, $8, $9
		FROM customers c WHERE c.id = $2 AND c.user_id = $3`,
		i.ID, i.CustomerID, i.UserID, string(i.Type), i.Summary, i.Details, i.AISummary, i.OccurredAt, i.CreatedAt,
	)
	if err != nil {
		return storage.Interaction{}, fmt.Errorf("insert interaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.Interaction{}, storage.ErrNotFound
	}
	return i, nil
}

func (s *Store) GetInteraction(ctx context.Context, userID, id string) (storage.Interaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE id = $1 AND user_id = $2`, id, userID)
	i, err := scanInteraction(row)
	if err != nil {
		return storage.Interaction{}, notFound(err)
	}
	return i, nil
}

func (s *Store) ListInteractions(ctx context.Context, userID, customerID string, limit int) ([]storage.Interaction, error) {
	limit = storage.Page{Limit: limit}.Normalize().Limit
	rows, err := s.pool.Query(ctx, `
		SELECT `+interactionColumns+` FROM interactions
		WHERE user_id = $1 AND customer_id = $2
		ORDER BY occurred_at DESC, created_at DESC
		LIMIT $3`, userID, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	out := []storage.Interaction{}
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *Store) SetInteractionAISummary(ctx context.Context, userID, id, summary string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE interactions SET ai_summary = $1 WHERE id = $2 AND user_id = $3`, summary, id, userID)
	if err != nil {
		return fmt.Errorf("update ai_summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanInteraction(row pgx.Row) (storage.Interaction, error) {
	var i storage.Interaction
	var typ string
	err := row.Scan(&i.ID, &i.CustomerID, &i.UserID, &typ, &i.Summary, &i.Details, &i.AISummary, &i.OccurredAt, &i.CreatedAt)
	i.Type = storage.InteractionType(typ)
	return i, err
}

// --- Tasks ---

const taskColumns = `id, user_id, customer_id, title, description, due_at, priority, status, tags, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, t storage.Task) (storage.Task, error) {
	if t.CustomerID != "" {
		if _, err := s.GetCustomer(ctx, t.UserID, t.CustomerID); err != nil {
			return storage.Task{}, err
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = t.CreatedAt
	t.Tags = orEmpty(t.Tags)

	var customerID *string
	if t.CustomerID != "" {
		customerID = &t.CustomerID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.UserID, customerID, t.Title, t.Description, t.DueAt, string(t.Priority), string(t.Status), t.Tags, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return storage.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, userID, id string) (storage.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`, id, userID)
	t, err := scanTask(row)
	if err != nil {
		return storage.Task{}, notFound(err)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, userID string, status storage.TaskStatus, page storage.Page) ([]storage.Task, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY due_at ASC, id ASC
		LIMIT $3 OFFSET $4`, userID, string(status), page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []storage.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTaskStatus(ctx context.Context, userID, id string, status storage.TaskStatus) (storage.Task, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tasks SET status = $1, updated_at = now()
		WHERE id = $2 AND user_id = $3
		RETURNING `+taskColumns, string(status), id, userID)
	t, err := scanTask(row)
	if err != nil {
		return storage.Task{}, notFound(err)
	}
	return t, nil
}

func scanTask(row pgx.Row) (storage.Task, error) {
	var t storage.Task
	var customerID *string
	var priority, status string
	err := row.Scan(&t.ID, &t.UserID, &customerID, &t.Title, &t.Description, &t.DueAt, &priority, &status, &t.Tags, &t.CreatedAt, &t.UpdatedAt)
	if customerID != nil {
		t.CustomerID = *customerID
	}
	t.Priority = storage.TaskPriority(priority)
	t.Status = storage.TaskStatus(status)
	t.Tags = orEmpty(t.Tags)
	return t, err
}

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, sess storage.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO sessions (token_hash, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		sess.TokenHash, sess.UserID, sess.ExpiresAt, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) LookupSession(ctx context.Context, tokenHash string) (storage.Session, error) {
	var sess storage.Session
	err := s.pool.QueryRow(ctx, `
		SELECT token_hash, user_id, expires_at, created_at FROM sessions
		WHERE token_hash = $1 AND expires_at > now()`, tokenHash,
	).Scan(&sess.TokenHash, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		return storage.Session{}, notFound(err)
	}
	return sess, nil
}

// --- Jobs ---

func (s *Store) EnqueueJob(ctx context.Context, job storage.Job) error {
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	runAfter := job.RunAfter
	if runAfter.IsZero() {
		runAfter = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, type, payload_json, max_attempts, run_after)
		VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.Type, job.PayloadJSON, job.MaxAttempts, runAfter)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// ClaimNextJob uses SKIP LOCKED so several workers can share the table.
func (s *Store) ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	var j storage.Job
	err := s.pool.QueryRow(ctx, `
		UPDATE jobs SET status = 'running', updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND run_after <= now() AND type = ANY($1)
			ORDER BY run_after ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`,
		types,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts, &j.RunAfter, &j.CreatedAt, &j.UpdatedAt, &j.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = 'completed', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			attempts = attempts + 1,
			last_error = $2,
			updated_at = now(),
			status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
			run_after = CASE WHEN attempts + 1 >= max_attempts THEN run_after
				ELSE now() + make_interval(secs => power(2, attempts + 1)) END
		WHERE id = $1`, id, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// JobCounts returns the number of jobs per status.
func (s *Store) JobCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteExpiredSessions removes sessions that expired before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
