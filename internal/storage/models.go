package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist or is not
// owned by the requesting user.
var ErrNotFound = errors.New("not found")

type CustomerType string

const (
	CustomerEnterprise CustomerType = "enterprise"
	CustomerBusiness   CustomerType = "business"
	CustomerStartup    CustomerType = "startup"
)

func (t CustomerType) Valid() bool {
	switch t {
	case CustomerEnterprise, CustomerBusiness, CustomerStartup:
		return true
	}
	return false
}

type CustomerStatus string

const (
	CustomerActive   CustomerStatus = "active"
	CustomerInactive CustomerStatus = "inactive"
	CustomerPending  CustomerStatus = "pending"
)

func (s CustomerStatus) Valid() bool {
	switch s {
	case CustomerActive, CustomerInactive, CustomerPending:
		return true
	}
	return false
}

type Customer struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Company   string         `json:"company"`
	Type      CustomerType   `json:"type"`
	Status    CustomerStatus `json:"status"`
	Tags      []string       `json:"tags"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type InteractionType string

const (
	InteractionCall    InteractionType = "call"
	InteractionEmail   InteractionType = "email"
	InteractionMeeting InteractionType = "meeting"
	InteractionNote    InteractionType = "note"
)

func (t InteractionType) Valid() bool {
	switch t {
	case InteractionCall, InteractionEmail, InteractionMeeting, InteractionNote:
		return true
	}
	return false
}

type Interaction struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	UserID     string          `json:"user_id"`
	Type       InteractionType `json:"type"`
	Summary    string          `json:"summary"`
	Details    string          `json:"details,omitempty"`
	AISummary  string          `json:"ai_summary,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskReview, TaskDone:
		return true
	}
	return false
}

type Task struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	CustomerID  string       `json:"customer_id,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	DueAt       time.Time    `json:"due_at"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	Tags        []string     `json:"tags"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Session maps the SHA-256 hash of a bearer token to its user.
type Session struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Normalize clamps the limit to [1, maxPageLimit] and the offset to >= 0.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
