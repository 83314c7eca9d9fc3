package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCustomer(t *testing.T, s *Store, userID, id, name string) Customer {
	t.Helper()
	c, err := s.CreateCustomer(context.Background(), Customer{
		ID:     id,
		UserID: userID,
		Name:   name,
		Type:   CustomerBusiness,
		Status: CustomerActive,
	})
	if err != nil {
		t.Fatalf("CreateCustomer(%s): %v", id, err)
	}
	return c
}

// TestMigrationsIdempotent opens the same database twice and verifies no
// migration is applied a second time.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_customers_user", "idx_interactions_customer", "idx_tasks_user_status", "idx_jobs_status_run_after"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count); err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestCustomerRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateCustomer(ctx, Customer{
		ID:      "c1",
		UserID:  "u1",
		Name:    "Acme",
		Email:   "ops@acme.test",
		Company: "Acme Inc",
		Type:    CustomerEnterprise,
		Status:  CustomerPending,
		Tags:    []string{"vip", "q3"},
	})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	got, err := s.GetCustomer(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if got.Name != "Acme" || got.Email != "ops@acme.test" || got.Company != "Acme Inc" {
		t.Errorf("unexpected customer: %+v", got)
	}
	if got.Type != CustomerEnterprise || got.Status != CustomerPending {
		t.Errorf("type/status = %s/%s", got.Type, got.Status)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "vip" {
		t.Errorf("tags = %v", got.Tags)
	}
	if !got.CreatedAt.Equal(created.CreatedAt.UTC()) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, created.CreatedAt)
	}
}

func TestGetCustomer_OtherUserIsNotFound(t *testing.T) {
	s := openTestStore(t)
	seedCustomer(t, s, "owner", "c1", "Acme")

	_, err := s.GetCustomer(context.Background(), "intruder", "c1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	_, err = s.GetCustomer(context.Background(), "owner", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing id, got %v", err)
	}
}

func TestListCustomers_ScopedAndPaged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.CreateCustomer(ctx, Customer{
			ID: fmt.Sprintf("c%d", i), UserID: "u1", Name: "n",
			Type: CustomerStartup, Status: CustomerActive,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateCustomer: %v", err)
		}
	}
	seedCustomer(t, s, "u2", "other", "Other")

	got, err := s.ListCustomers(ctx, "u1", Page{Limit: 2})
	if err != nil {
		t.Fatalf("ListCustomers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "c4" || got[1].ID != "c3" {
		t.Errorf("order = %s,%s, want c4,c3", got[0].ID, got[1].ID)
	}

	got, err = s.ListCustomers(ctx, "u1", Page{Limit: 10, Offset: 4})
	if err != nil {
		t.Fatalf("ListCustomers offset: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c0" {
		t.Errorf("offset page = %+v", got)
	}
}

func TestListInteractions_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedCustomer(t, s, "u1", "c1", "Acme")
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"i-old", "i-mid", "i-new"} {
		_, err := s.CreateInteraction(ctx, Interaction{
			ID: id, CustomerID: "c1", UserID: "u1", Type: InteractionCall,
			Summary: "call " + id, OccurredAt: base.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("CreateInteraction(%s): %v", id, err)
		}
	}

	got, err := s.ListInteractions(ctx, "u1", "c1", 10)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	want := []string{"i-new", "i-mid", "i-old"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}

	limited, err := s.ListInteractions(ctx, "u1", "c1", 1)
	if err != nil {
		t.Fatalf("ListInteractions limit: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "i-new" {
		t.Errorf("limited = %+v", limited)
	}
}

func TestListInteractions_EmptyIsNonNil(t *testing.T) {
	s := openTestStore(t)
	seedCustomer(t, s, "u1", "c1", "Acme")

	got, err := s.ListInteractions(context.Background(), "u1", "c1", 10)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestCreateInteraction_ForeignCustomer(t *testing.T) {
	s := openTestStore(t)
	seedCustomer(t, s, "owner", "c1", "Acme")

	_, err := s.CreateInteraction(context.Background(), Interaction{
		ID: "i1", CustomerID: "c1", UserID: "intruder", Type: InteractionNote, Summary: "x",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetInteractionAISummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedCustomer(t, s, "u1", "c1", "Acme")
	if _, err := s.CreateInteraction(ctx, Interaction{ID: "i1", CustomerID: "c1", UserID: "u1", Type: InteractionMeeting, Summary: "kickoff", Details: "long notes"}); err != nil {
		t.Fatalf("CreateInteraction: %v", err)
	}

	if err := s.SetInteractionAISummary(ctx, "u1", "i1", "- point one"); err != nil {
		t.Fatalf("SetInteractionAISummary: %v", err)
	}
	got, err := s.GetInteraction(ctx, "u1", "i1")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if got.AISummary != "- point one" {
		t.Errorf("ai_summary = %q", got.AISummary)
	}

	if err := s.SetInteractionAISummary(ctx, "u2", "i1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other user, got %v", err)
	}
}

func TestTasks_CreateListUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedCustomer(t, s, "u1", "c1", "Acme")
	due := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.CreateTask(ctx, Task{ID: "t1", UserID: "u1", CustomerID: "c1", Title: "Call back", DueAt: due.Add(time.Hour), Priority: PriorityHigh, Status: TaskTodo}); err != nil {
		t.Fatalf("CreateTask t1: %v", err)
	}
	if _, err := s.CreateTask(ctx, Task{ID: "t2", UserID: "u1", Title: "Write notes", DueAt: due, Priority: PriorityLow, Status: TaskDone, Tags: []string{"admin"}}); err != nil {
		t.Fatalf("CreateTask t2: %v", err)
	}

	all, err := s.ListTasks(ctx, "u1", "", Page{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 2 || all[0].ID != "t2" {
		t.Fatalf("ListTasks = %+v", all)
	}
	if all[0].CustomerID != "" {
		t.Errorf("t2 customer_id = %q, want empty", all[0].CustomerID)
	}

	todo, err := s.ListTasks(ctx, "u1", TaskTodo, Page{})
	if err != nil {
		t.Fatalf("ListTasks todo: %v", err)
	}
	if len(todo) != 1 || todo[0].ID != "t1" || todo[0].CustomerID != "c1" {
		t.Errorf("todo = %+v", todo)
	}

	updated, err := s.UpdateTaskStatus(ctx, "u1", "t1", TaskReview)
	if err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	if updated.Status != TaskReview {
		t.Errorf("status = %s, want review", updated.Status)
	}
	if _, err := s.UpdateTaskStatus(ctx, "u2", "t1", TaskDone); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other user, got %v", err)
	}
}

func TestCreateTask_ForeignCustomer(t *testing.T) {
	s := openTestStore(t)
	seedCustomer(t, s, "owner", "c1", "Acme")

	_, err := s.CreateTask(context.Background(), Task{ID: "t1", UserID: "intruder", CustomerID: "c1", Title: "x", Priority: PriorityLow, Status: TaskTodo})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, Session{TokenHash: "live", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("CreateSession live: %v", err)
	}
	if err := s.CreateSession(ctx, Session{TokenHash: "stale", UserID: "u1", ExpiresAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("CreateSession stale: %v", err)
	}

	got, err := s.LookupSession(ctx, "live")
	if err != nil {
		t.Fatalf("LookupSession: %v", err)
	}
	if got.UserID != "u1" {
		t.Errorf("user = %q", got.UserID)
	}

	if _, err := s.LookupSession(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired session: expected ErrNotFound, got %v", err)
	}
	if _, err := s.LookupSession(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session: expected ErrNotFound, got %v", err)
	}

	n, err := s.DeleteExpiredSessions(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j1", Type: "summarize_interaction", PayloadJSON: `{"interaction_id":"i1"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob(ctx, []string{"summarize_interaction"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j1" || got.Status != "running" || got.MaxAttempts != 3 {
		t.Errorf("claimed = %+v", got)
	}

	again, err := s.ClaimNextJob(ctx, []string{"summarize_interaction"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("expected running job to be skipped, got %+v", again)
	}
}

func TestClaimNextJob_RespectsRunAfterAndType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "future", Type: "a", PayloadJSON: `{}`, RunAfter: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, Job{ID: "other", Type: "b", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestFailJob_SingleAttemptFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j1", Type: "x", PayloadJSON: `{}`, MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob(ctx, "j1", "fatal"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	counts, err := s.JobCounts(ctx)
	if err != nil {
		t.Fatalf("JobCounts: %v", err)
	}
	if counts["failed"] != 1 {
		t.Errorf("counts = %v, want one failed", counts)
	}
}

func TestFailJob_RetrySetsBackoff(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j1", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	before := time.Now().UTC().Truncate(time.Second)
	if err := s.FailJob(ctx, "j1", "retry"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status, runAfterStr string
	var attempts int
	if err := s.db.QueryRow(`SELECT status, attempts, run_after FROM jobs WHERE id = 'j1'`).Scan(&status, &attempts, &runAfterStr); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	runAfter, err := time.Parse(time.RFC3339, runAfterStr)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if status != "pending" || attempts != 1 {
		t.Errorf("status=%s attempts=%d", status, attempts)
	}
	if !runAfter.After(before) {
		t.Errorf("run_after %v should be after %v", runAfter, before)
	}
}

func TestCompleteJob_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.CompleteJob(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPageNormalize(t *testing.T) {
	tests := []struct {
		in   Page
		want Page
	}{
		{Page{}, Page{Limit: 50}},
		{Page{Limit: 1000, Offset: -3}, Page{Limit: 200}},
		{Page{Limit: 5, Offset: 10}, Page{Limit: 5, Offset: 10}},
	}
	for _, tt := range tests {
		if got := tt.in.Normalize(); got != tt.want {
			t.Errorf("Normalize(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
