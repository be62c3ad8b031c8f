package promise

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"promisekeeper/pkg/config"
	"promisekeeper/pkg/errutil"
	"promisekeeper/services/reputation"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxTransitionRetries bounds the automatic retry of a transition that
// lost a serialization race.
const maxTransitionRetries = 3

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	cfg    config.Game
	repo   Repository
	ledger *reputation.Ledger
	events Events
	clock  Clock
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Ledger *reputation.Ledger
	Events Events `optional:"true"`
	Clock  Clock  `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	events := p.Events
	if events == nil {
		events = nopEvents{}
	}
	clock := p.Clock
	if clock == nil {
		clock = NewSystemClock()
	}

	return &Service{
		db:     p.DB,
		node:   p.Node,
		cfg:    p.Config.Game,
		repo:   NewRepository(p.DB),
		ledger: p.Ledger,
		events: events,
		clock:  clock,
	}
}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, Event) {}

// CreateInput is the validated input for declaring a new promise.
type CreateInput struct {
	Title       string
	Description string
	Reward      string
	Penalty     string
	Deadline    time.Time
}

func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*Promise, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, errutil.ValidationFailed("title is required")
	}
	if !in.Deadline.After(s.clock.Now()) {
		return nil, ErrDeadlineInPast
	}

	p := &Promise{
		ID:          s.node.Generate().String(),
		OwnerID:     ownerID,
		Title:       in.Title,
		Description: in.Description,
		Reward:      in.Reward,
		Penalty:     in.Penalty,
		Deadline:    in.Deadline,
		Status:      StatusPending,
		CreatedAt:   s.clock.Now(),
		UpdatedAt:   s.clock.Now(),
	}

	if err := s.repo.Create(ctx, p); err != nil {
		zap.L().Error("failed to create promise", zap.Error(err))
		return nil, errutil.Internal("failed to create promise", errutil.WithErr(err))
	}

	return p, nil
}

// View is the promise read model with its accumulated vouch signal.
type View struct {
	Promise     *Promise `json:"promise"`
	VouchCount  int64    `json:"vouch_count"`
	TotalWeight int64    `json:"total_weight"`
}

func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errutil.Internal("failed to query promise", errutil.WithErr(err))
	}
	if p == nil {
		return nil, ErrPromiseNotFound
	}

	count, total, err := s.repo.VouchTotals(ctx, id)
	if err != nil {
		return nil, errutil.Internal("failed to query vouch totals", errutil.WithErr(err))
	}

	return &View{Promise: p, VouchCount: count, TotalWeight: total}, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]Promise, error) {
	out, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, errutil.Internal("failed to list promises", errutil.WithErr(err))
	}
	return out, nil
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Promise, error) {
	out, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, errutil.Internal("failed to list promises", errutil.WithErr(err))
	}
	return out, nil
}

// SubmitEvidence moves a pending promise into pending_approval once the
// owner files a report. No reward is paid here; completion is decided by
// the vouch threshold.
func (s *Service) SubmitEvidence(ctx context.Context, promiseID, callerID, report string) (*Promise, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if len(strings.TrimSpace(report)) < s.cfg.EvidenceMinLength {
		return nil, ErrEvidenceTooShort
	}

	var result *Promise
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		p, err := repo.GetForUpdate(ctx, promiseID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrPromiseNotFound
		}
		if p.OwnerID != callerID {
			return ErrNotOwner
		}
		if p.Status != StatusPending {
			return ErrInvalidState
		}

		if err := repo.UpdateStatus(ctx, p, StatusPendingApproval, map[string]any{
			"evidence_text": report,
		}, s.clock.Now()); err != nil {
			return err
		}

		p.EvidenceText = &report
		result = p
		return nil
	})
	if err != nil {
		return nil, s.asDomainError(err, "submit evidence")
	}

	return result, nil
}

// VouchResult reports the accumulated signal after an accepted vouch.
type VouchResult struct {
	Weight      int64 `json:"weight"`
	VouchCount  int64 `json:"vouch_count"`
	TotalWeight int64 `json:"total_weight"`
	Completed   bool  `json:"completed"`
}

// Vouch records one validator's endorsement. The duplicate check, weight
// capture, validation insert, fresh total recompute, threshold check and
// the possible completion (status flip + reward) all commit atomically
// under the promise row lock, so two racing vouches can never both pay
// the completion reward.
func (s *Service) Vouch(ctx context.Context, promiseID, validatorID string) (*VouchResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("promise_id", promiseID),
		zap.String("validator_id", validatorID),
	)

	var (
		res     VouchResult
		ownerID string
		title   string
	)

	err := s.withRetry(func() error {
		res = VouchResult{}

		return s.db.Transaction(func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			p, err := repo.GetForUpdate(ctx, promiseID)
			if err != nil {
				return err
			}
			if p == nil {
				return ErrPromiseNotFound
			}
			if p.OwnerID == validatorID {
				return ErrSelfVouch
			}
			if p.Status != StatusPendingApproval {
				return ErrPromiseNotVotable
			}

			exists, err := repo.HasValidation(ctx, promiseID, validatorID)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateVouch
			}

			weight, err := s.ledger.VouchWeight(ctx, tx, validatorID)
			if err != nil {
				if errors.Is(err, reputation.ErrNoSuchUser) {
					return errutil.NotFound("validator not found")
				}
				return err
			}

			v := &Validation{
				ID:          s.node.Generate().String(),
				PromiseID:   promiseID,
				ValidatorID: validatorID,
				Weight:      weight,
				CreatedAt:   s.clock.Now(),
			}
			if err := repo.AddValidation(ctx, v); err != nil {
				// the unique index is the last line of defence against
				// a concurrent duplicate insert
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrDuplicateVouch
				}
				return err
			}

			count, total, err := repo.VouchTotals(ctx, promiseID)
			if err != nil {
				return err
			}

			res.Weight = weight
			res.VouchCount = count
			res.TotalWeight = total
			ownerID = p.OwnerID
			title = p.Title

			if !s.thresholdReached(count, total) {
				return nil
			}

			if err := repo.UpdateStatus(ctx, p, StatusCompleted, nil, s.clock.Now()); err != nil {
				return err
			}
			if err := s.ledger.ApplyCompletionReward(ctx, tx, p.OwnerID, s.clock.Now()); err != nil {
				return err
			}
			res.Completed = true
			return nil
		})
	})
	if err != nil {
		return nil, s.asDomainError(err, "vouch")
	}

	s.events.Publish(ctx, Event{
		Kind:      EventVouchReceived,
		PromiseID: promiseID,
		Recipient: ownerID,
		Title:     "Someone vouched for your promise",
		Content:   fmt.Sprintf("Your promise %q received a new vouch.", title),
	})

	if res.Completed {
		zapLog.Info("promise completed by vouch threshold",
			zap.Int64("vouch_count", res.VouchCount),
			zap.Int64("total_weight", res.TotalWeight),
		)
		s.events.Publish(ctx, Event{
			Kind:      EventCompleted,
			PromiseID: promiseID,
			Recipient: ownerID,
			Title:     "Promise completed",
			Content:   fmt.Sprintf("Your promise %q was confirmed by your vouchers. Reward applied.", title),
		})
	}

	return &res, nil
}

// SweepExpire fails a promise whose deadline has elapsed while still open.
// It is invoked by the deadline sweeper but also safe to call directly;
// racing a user-driven completion simply yields ErrInvalidState.
func (s *Service) SweepExpire(ctx context.Context, promiseID string, now time.Time) error {
	var (
		ownerID string
		title   string
	)

	err := s.withRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			p, err := repo.GetForUpdate(ctx, promiseID)
			if err != nil {
				return err
			}
			if p == nil {
				return ErrPromiseNotFound
			}
			if now.Before(p.Deadline) {
				return ErrNotExpired
			}
			if !p.Status.Open() {
				return ErrInvalidState
			}

			if err := repo.UpdateStatus(ctx, p, StatusFailed, nil, now); err != nil {
				return err
			}
			if err := s.ledger.ApplyFailurePenalty(ctx, tx, p.OwnerID, now); err != nil {
				return err
			}

			ownerID = p.OwnerID
			title = p.Title
			return nil
		})
	})
	if err != nil {
		return s.asDomainError(err, "sweep expire")
	}

	s.events.Publish(ctx, Event{
		Kind:      EventFailed,
		PromiseID: promiseID,
		Recipient: ownerID,
		Title:     "Promise failed",
		Content:   fmt.Sprintf("Your promise %q passed its deadline. Penalty applied.", title),
	})

	return nil
}

func (s *Service) AddComment(ctx context.Context, promiseID, authorID, text string) (*Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errutil.ValidationFailed("comment text is required")
	}

	p, err := s.repo.GetByID(ctx, promiseID)
	if err != nil {
		return nil, errutil.Internal("failed to query promise", errutil.WithErr(err))
	}
	if p == nil {
		return nil, ErrPromiseNotFound
	}

	c := &Comment{
		ID:        s.node.Generate().String(),
		PromiseID: promiseID,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.AddComment(ctx, c); err != nil {
		return nil, errutil.Internal("failed to create comment", errutil.WithErr(err))
	}
	return c, nil
}

func (s *Service) ListComments(ctx context.Context, promiseID string) ([]Comment, error) {
	out, err := s.repo.ListComments(ctx, promiseID)
	if err != nil {
		return nil, errutil.Internal("failed to list comments", errutil.WithErr(err))
	}
	return out, nil
}

func (s *Service) thresholdReached(count, totalWeight int64) bool {
	if s.cfg.VouchPolicy == config.VouchPolicyWeight {
		return totalWeight >= s.cfg.VouchThreshold
	}
	return count >= s.cfg.VouchThreshold
}

// withRetry re-runs a transition that lost a serialization race. Domain
// rejections pass through untouched.
func (s *Service) withRetry(op func() error) error {
	var err error
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		err = op()
		if err == nil || !retryableConflict(err) {
			return err
		}
		zap.L().Warn("transition hit a storage conflict, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return errutil.Conflict("storage conflict, retry the operation", errutil.WithErr(err))
}

func retryableConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStorageConflict) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "database is locked")
}

// asDomainError keeps sentinel errors intact and wraps everything else as
// internal so storage details never leak to callers.
func (s *Service) asDomainError(err error, op string) error {
	var base errutil.BaseError
	if errors.As(err, &base) {
		return err
	}
	zap.L().Error("promise transition failed", zap.String("op", op), zap.Error(err))
	return errutil.Internal(op+" failed", errutil.WithErr(err))
}
