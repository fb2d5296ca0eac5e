// Package notify turns leave lifecycle events into in-app notifications.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

type Kind string

const (
	KindLeaveSubmitted Kind = "leave_submitted"
	KindLeaveApproved  Kind = "leave_approved"
	KindLeaveRejected  Kind = "leave_rejected"
)

type Notification struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	RecipientID string     `json:"recipientId"`
	Kind        Kind       `json:"kind"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	RequestID   string     `json:"requestId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
}

func (n Notification) Read() bool { return n.ReadAt != nil }

type Store interface {
	SaveNotifications(ctx context.Context, ns []Notification) error
	// ListNotifications returns the newest notifications of a recipient.
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]Notification, error)
	// MarkNotificationRead returns false when no notification of the
	// recipient has that id.
	MarkNotificationRead(ctx context.Context, recipientID, id string, at time.Time) (bool, error)
}

// Service implements leave.Notifier on top of a Store.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

var _ leave.Notifier = (*Service)(nil)

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger.Named("notify"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (s *Service) NotifyLeaveSubmission(ctx context.Context, sub leave.Submission) error {
	r := sub.Request
	requester := sub.RequesterName
	if requester == "" {
		requester = sub.Requester
	}
	body := fmt.Sprintf("%s requested %s: %s", requester, sub.Policy.Name, dateRange(r))
	if r.Notes != "" {
		body += " (" + r.Notes + ")"
	}

	now := s.now().UTC()
	ns := make([]Notification, 0, len(sub.Reviewers))
	for _, reviewer := range sub.Reviewers {
		ns = append(ns, Notification{
			ID:          s.newID(),
			WorkspaceID: r.WorkspaceID,
			RecipientID: reviewer,
			Kind:        KindLeaveSubmitted,
			Title:       "New leave request",
			Body:        body,
			RequestID:   r.ID,
			CreatedAt:   now,
		})
	}
	if len(ns) == 0 {
		return nil
	}
	if err := s.store.SaveNotifications(ctx, ns); err != nil {
		return err
	}
	s.logger.Debug("submission notified", zap.String("request_id", r.ID), zap.Int("recipients", len(ns)))
	return nil
}

func (s *Service) NotifyLeaveStatusChange(ctx context.Context, c leave.StatusChange, status leave.Status, actorID string) error {
	r := c.Request
	if r.UserID == actorID {
		return nil
	}

	var kind Kind
	switch status {
	case leave.StatusApproved:
		kind = KindLeaveApproved
	case leave.StatusRejected:
		kind = KindLeaveRejected
	default:
		return nil
	}

	body := fmt.Sprintf("Your %s request for %s was %s", c.Policy.Name, dateRange(r), strings.ToLower(string(status)))
	if r.ReviewNotes != "" {
		body += ": " + r.ReviewNotes
	}
	n := Notification{
		ID:          s.newID(),
		WorkspaceID: r.WorkspaceID,
		RecipientID: r.UserID,
		Kind:        kind,
		Title:       "Leave request " + strings.ToLower(string(status)),
		Body:        body,
		RequestID:   r.ID,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.SaveNotifications(ctx, []Notification{n}); err != nil {
		return err
	}
	s.logger.Debug("status change notified", zap.String("request_id", r.ID), zap.String("status", string(status)))
	return nil
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (s *Service) List(ctx context.Context, actor leave.Actor, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.ListNotifications(ctx, actor.UserID, unreadOnly, limit)
}

func (s *Service) MarkRead(ctx context.Context, actor leave.Actor, id string) error {
	ok, err := s.store.MarkNotificationRead(ctx, actor.UserID, id, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return &leave.NotFoundError{Kind: "notification", Ref: id}
	}
	return nil
}

func dateRange(r leave.Request) string {
	if r.StartDate.Equal(r.EndDate) {
		if r.Duration == leave.HalfDay {
			return r.StartDate.String() + " (half day)"
		}
		return r.StartDate.String()
	}
	return r.StartDate.String() + " to " + r.EndDate.String()
}
