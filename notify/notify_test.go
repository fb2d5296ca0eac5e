package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

type memStore struct {
	mu    sync.Mutex
	items []Notification
	err   error
	limit int
}

func (m *memStore) SaveNotifications(_ context.Context, ns []Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, ns...)
	return nil
}

func (m *memStore) ListNotifications(_ context.Context, recipientID string, unreadOnly bool, limit int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = limit
	var out []Notification
	for _, n := range m.items {
		if n.RecipientID == recipientID && (!unreadOnly || !n.Read()) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) MarkNotificationRead(_ context.Context, recipientID, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id && m.items[i].RecipientID == recipientID {
			m.items[i].ReadAt = &at
			return true, nil
		}
	}
	return false, nil
}

func newTestService(store Store) *Service {
	s := NewService(store, nil)
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("n-%d", n)
	}
	s.now = func() time.Time { return time.Date(2025, time.August, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func sampleRequest() leave.Request {
	start, _ := generic.ParseDate("2025-09-01")
	end, _ := generic.ParseDate("2025-09-05")
	return leave.Request{
		ID: "r-1", WorkspaceID: "ws-1", UserID: "u-alice", PolicyID: "p-1",
		StartDate: start, EndDate: end, Duration: leave.FullDay, Notes: "family trip",
	}
}

func TestNotifyLeaveSubmission_OnePerReviewer(t *testing.T) {
	store := &memStore{}
	s := newTestService(store)

	err := s.NotifyLeaveSubmission(context.Background(), leave.Submission{
		Request:       sampleRequest(),
		Policy:        leave.Policy{Name: "Annual Leave"},
		Requester:     "u-alice",
		RequesterName: "Alice",
		Reviewers:     []string{"u-owner", "u-manager"},
	})
	require.NoError(t, err)

	require.Len(t, store.items, 2)
	assert.Equal(t, "u-owner", store.items[0].RecipientID)
	assert.Equal(t, KindLeaveSubmitted, store.items[0].Kind)
	assert.Equal(t, "r-1", store.items[0].RequestID)
	assert.Equal(t, "Alice requested Annual Leave: 2025-09-01 to 2025-09-05 (family trip)", store.items[0].Body)

	// No reviewers, nothing stored.
	require.NoError(t, s.NotifyLeaveSubmission(context.Background(), leave.Submission{Request: sampleRequest()}))
	assert.Len(t, store.items, 2)
}

func TestNotifyLeaveStatusChange(t *testing.T) {
	store := &memStore{}
	s := newTestService(store)
	ctx := context.Background()
	change := leave.StatusChange{Request: sampleRequest(), Policy: leave.Policy{Name: "Annual Leave"}}
	change.Request.ReviewNotes = "enjoy"

	require.NoError(t, s.NotifyLeaveStatusChange(ctx, change, leave.StatusApproved, "u-manager"))
	require.Len(t, store.items, 1)
	n := store.items[0]
	assert.Equal(t, "u-alice", n.RecipientID)
	assert.Equal(t, KindLeaveApproved, n.Kind)
	assert.Equal(t, "Your Annual Leave request for 2025-09-01 to 2025-09-05 was approved: enjoy", n.Body)

	// Reviewing your own request, or a cancellation, notifies nobody.
	require.NoError(t, s.NotifyLeaveStatusChange(ctx, change, leave.StatusRejected, "u-alice"))
	require.NoError(t, s.NotifyLeaveStatusChange(ctx, change, leave.StatusCanceled, "u-manager"))
	assert.Len(t, store.items, 1)

	store.err = errors.New("disk full")
	assert.Error(t, s.NotifyLeaveStatusChange(ctx, change, leave.StatusRejected, "u-manager"))
}

func TestListAndMarkRead(t *testing.T) {
	store := &memStore{}
	s := newTestService(store)
	ctx := context.Background()
	alice := leave.Actor{UserID: "u-alice"}
	manager := leave.Actor{UserID: "u-manager"}

	change := leave.StatusChange{Request: sampleRequest(), Policy: leave.Policy{Name: "Annual Leave"}}
	require.NoError(t, s.NotifyLeaveStatusChange(ctx, change, leave.StatusApproved, "u-manager"))

	list, err := s.List(ctx, alice, true, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, defaultListLimit, store.limit)

	_, err = s.List(ctx, alice, false, 1000)
	require.NoError(t, err)
	assert.Equal(t, maxListLimit, store.limit)

	// Someone else's notification is invisible.
	assert.ErrorIs(t, s.MarkRead(ctx, manager, list[0].ID), leave.ErrNotFound)

	require.NoError(t, s.MarkRead(ctx, alice, list[0].ID))
	unread, err := s.List(ctx, alice, true, 0)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
