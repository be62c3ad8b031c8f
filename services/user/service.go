package user

import (
	"context"
	"errors"

	"promisekeeper/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrUserNotFound = errutil.NotFound("user not found")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	repo Repository
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		repo: NewRepository(p.DB),
	}
}

// Register creates the trust/economy record for an externally issued
// identity. Reputation and coins start at their configured baselines.
func (s *Service) Register(ctx context.Context, username string) (*User, error) {
	u := NewUser(s.node.Generate().String(), username)

	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("username already taken")
		}
		zap.L().Error("failed to create user", zap.Error(err))
		return nil, errutil.Internal("failed to create user", errutil.WithErr(err))
	}

	return u, nil
}

func (s *Service) GetProfile(ctx context.Context, id string) (*Profile, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		zap.L().Error("failed to query user", zap.String("user_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to query user", errutil.WithErr(err))
	}
	if u == nil {
		return nil, ErrUserNotFound
	}

	return u.Profile(), nil
}

// Stats summarizes a user's promise track record.
type Stats struct {
	Reputation     int64   `json:"reputation"`
	Coins          int64   `json:"coins"`
	TotalCompleted int64   `json:"total_completed"`
	TotalFailed    int64   `json:"total_failed"`
	SuccessRate    float64 `json:"success_rate"`
}

func (s *Service) GetStats(ctx context.Context, id string) (*Stats, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errutil.Internal("failed to query user", errutil.WithErr(err))
	}
	if u == nil {
		return nil, ErrUserNotFound
	}

	st := &Stats{
		Reputation:     u.Reputation,
		Coins:          u.Coins,
		TotalCompleted: u.TotalCompleted,
		TotalFailed:    u.TotalFailed,
	}
	if total := u.TotalCompleted + u.TotalFailed; total > 0 {
		st.SuccessRate = float64(u.TotalCompleted) / float64(total)
	}
	return st, nil
}
