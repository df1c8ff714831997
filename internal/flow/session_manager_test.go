package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carebridge/clinicflow/internal/models"
	"github.com/carebridge/clinicflow/internal/store"
)

// fakeClock is a settable time source for session manager tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T) (*SessionManager, *store.InMemoryStore, *fakeClock) {
	t.Helper()
	st := store.NewInMemoryStore()
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	return NewSessionManager(st, WithClock(clock.Now)), st, clock
}

func TestSessionManagerCreateAndGet(t *testing.T) {
	mgr, _, clock := newTestManager(t)
	ctx := context.Background()

	err := mgr.Create(ctx, models.ConversationSession{ID: "s1", DoctorID: "Dr. A"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	sess, err := mgr.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.DoctorID != "Dr. A" {
		t.Errorf("DoctorID = %q, want %q", sess.DoctorID, "Dr. A")
	}
	if !sess.CreatedAt.Equal(clock.Now()) || !sess.LastActivity.Equal(clock.Now()) {
		t.Errorf("timestamps not stamped from clock: created=%v activity=%v", sess.CreatedAt, sess.LastActivity)
	}
	if sess.RoutingState != models.RoutingUnrouted {
		t.Errorf("RoutingState = %q, want %q", sess.RoutingState, models.RoutingUnrouted)
	}
}

func TestSessionManagerCreateDuplicate(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Create(ctx, models.ConversationSession{ID: "s1", DoctorID: "Dr. A"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	err := mgr.Create(ctx, models.ConversationSession{ID: "s1", DoctorID: "Dr. B"})
	if !errors.Is(err, models.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestSessionManagerCreateReplacesExpired(t *testing.T) {
	mgr, _, clock := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Create(ctx, models.ConversationSession{ID: "s1", DoctorID: "Dr. A"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	clock.Advance(16 * time.Minute)

	if err := mgr.Create(ctx, models.ConversationSession{ID: "s1", DoctorID: "Dr. B"}); err != nil {
		t.Fatalf("Create over expired session failed: %v", err)
	}
	sess, err := mgr.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.DoctorID != "Dr. B" {
		t.Errorf("expected replacement session, got DoctorID=%q", sess.DoctorID)
	}
}

func TestSessionManagerGetUnknown(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Get(context.Background(), "missing")
	if !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionManagerExpiryIsLazy(t *testing.T) {
	mgr, st, clock := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Create(ctx, models.ConversationSession{ID: "s1", DoctorID: "Dr. A"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	clock.Advance(16 * time.Minute)

	// Until a lookup happens the record is still in the store.
	raw, err := st.GetSession("s1")
	if err != nil || raw == nil {
		t.Fatalf("expected raw record before lookup, got sess=%v err=%v", raw, err)
	}

	// First lookup evicts and reports expiry.
	if _, err := mgr.Get(ctx, "s1"); !errors.Is(err, models.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	// Subsequent lookups see a missing session.
	if _, err := mgr.Get(ctx, "s1"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after eviction, got %v", err)
	}
}

func TestSessionManagerExactTimeoutNotExpired(t *testing.T) {
	mgr, _, clock := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Create(ctx, models.ConversationSession{ID: "s1", DoctorID: "Dr. A"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	clock.Advance(DefaultIdleTimeout)

	if _, err := mgr.Get(ctx, "s1"); err != nil {
		t.Fatalf("session at exactly the timeout boundary must still be live, got %v", err)
	}
}

func TestSessionManagerSaveTouchesActivity(t *testing.T) {
	mgr, _, clock := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Create(ctx, models.ConversationSession{ID: "s1", DoctorID: "Dr. A"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	clock.Advance(10 * time.Minute)

	sess, err := mgr.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := mgr.Save(ctx, *sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	clock.Advance(10 * time.Minute)
	if _, err := mgr.Get(ctx, "s1"); err != nil {
		t.Fatalf("touched session expired too early: %v", err)
	}
}

func TestSessionManagerActivityNeverMovesBackwards(t *testing.T) {
	mgr, st, clock := newTestManager(t)
	ctx := context.Background()

	future := clock.Now().Add(time.Hour)
	sess := models.ConversationSession{ID: "s1", DoctorID: "Dr. A", LastActivity: future}
	if err := mgr.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	saved, err := st.GetSession("s1")
	if err != nil || saved == nil {
		t.Fatalf("GetSession failed: sess=%v err=%v", saved, err)
	}
	if !saved.LastActivity.Equal(future) {
		t.Errorf("LastActivity moved backwards: %v, want %v", saved.LastActivity, future)
	}
}

func TestSessionManagerWithIdleTimeout(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	mgr := NewSessionManager(st, WithClock(clock.Now), WithIdleTimeout(time.Minute))
	ctx := context.Background()

	if err := mgr.Create(ctx, models.ConversationSession{ID: "s1", DoctorID: "Dr. A"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := mgr.Get(ctx, "s1"); !errors.Is(err, models.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired under shortened timeout, got %v", err)
	}
}

func TestSessionManagerLockSerializes(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	release := mgr.Lock("s1")
	acquired := make(chan struct{})
	go func() {
		r := mgr.Lock("s1")
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while first still held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after release")
	}
}
