package notification

import (
	"context"
	"encoding/json"
	"time"

	"promisekeeper/pkg/errutil"
	"promisekeeper/services/promise"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotificationNotFound = errutil.NotFound("notification not found")

type Service struct {
	node *snowflake.Node
	repo Repository
	hub  *Hub
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
	Hub  *Hub
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node: p.Node,
		repo: NewRepository(p.DB),
		hub:  p.Hub,
	}
}

// Notify persists the record first and only then attempts the live push.
// A connected client gets the payload immediately; everyone else finds it
// on their next list call. Push failures never surface to the caller.
func (s *Service) Notify(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = s.node.Generate().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	if err := s.repo.Create(ctx, n); err != nil {
		zap.L().Error("failed to persist notification",
			zap.String("user_id", n.UserID), zap.String("type", string(n.Type)), zap.Error(err))
		return errutil.Internal("failed to persist notification", errutil.WithErr(err))
	}

	s.hub.Send(n.UserID, n)
	return nil
}

// Publish adapts promise lifecycle events onto Notify. It satisfies the
// event sink the state machine publishes to; errors are logged and
// swallowed so delivery can never affect a committed transition.
func (s *Service) Publish(ctx context.Context, ev promise.Event) {
	n := &Notification{
		UserID:  ev.Recipient,
		Type:    typeForEvent(ev.Kind),
		Title:   ev.Title,
		Content: ev.Content,
	}
	if ev.PromiseID != "" {
		linkID := ev.PromiseID
		n.LinkID = &linkID
		if data, err := json.Marshal(map[string]string{"promise_id": ev.PromiseID}); err == nil {
			n.Data = datatypes.JSON(data)
		}
	}

	if err := s.Notify(ctx, n); err != nil {
		zap.L().Error("failed to deliver lifecycle notification",
			zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

func typeForEvent(kind promise.EventKind) Type {
	switch kind {
	case promise.EventVouchReceived:
		return TypeVouchReceived
	case promise.EventCompleted:
		return TypeCompleted
	case promise.EventFailed:
		return TypeFailed
	case promise.EventReminder:
		return TypeReminder
	default:
		return TypeSystemMessage
	}
}

func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	out, err := s.repo.ListByUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, errutil.Internal("failed to list notifications", errutil.WithErr(err))
	}
	return out, nil
}

func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	ok, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return errutil.Internal("failed to mark notification read", errutil.WithErr(err))
	}
	if !ok {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, errutil.Internal("failed to count notifications", errutil.WithErr(err))
	}
	return n, nil
}
