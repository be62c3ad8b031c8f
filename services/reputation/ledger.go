package reputation

import (
	"context"
	"errors"
	"time"

	"promisekeeper/pkg/config"
	"promisekeeper/pkg/db/option"
	"promisekeeper/services/user"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var ErrNoSuchUser = errors.New("reputation: no such user")

// Ledger converts trust-affecting events into deltas on a user's four
// numeric fields. Every method runs inside the caller's transaction; the
// state machine guarantees each is invoked exactly once per transition.
type Ledger struct {
	cfg config.Game
}

type LedgerParams struct {
	fx.In
	Config *config.Config
}

func NewLedger(p LedgerParams) *Ledger {
	return &Ledger{cfg: p.Config.Game}
}

// NewLedgerWithGame builds a ledger directly from game settings, bypassing
// the config module. Used by tests.
func NewLedgerWithGame(g config.Game) *Ledger {
	return &Ledger{cfg: g}
}

// VouchWeight reads the validator's current reputation under the same
// row lock as the pending Validation insert, so the captured weight
// cannot go stale between read and commit.
func (l *Ledger) VouchWeight(ctx context.Context, tx *gorm.DB, validatorID string) (int64, error) {
	var u user.User
	err := tx.WithContext(ctx).Scopes(option.LockingUpdate).
		Where("id = ?", validatorID).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNoSuchUser
		}
		return 0, err
	}
	return u.Reputation, nil
}

// ApplyCompletionReward credits the owner for a kept promise. The caller
// supplies now so the stamped row follows the same clock as the transition.
func (l *Ledger) ApplyCompletionReward(ctx context.Context, tx *gorm.DB, ownerID string, now time.Time) error {
	return l.apply(ctx, tx, ownerID, map[string]any{
		"reputation":      gorm.Expr("reputation + ?", l.cfg.ReputationReward),
		"coins":           gorm.Expr("coins + ?", l.cfg.CoinReward),
		"total_completed": gorm.Expr("total_completed + 1"),
		"updated_at":      now,
	})
}

// ApplyFailurePenalty debits the owner for a broken promise. PenaltyOffset
// is negative; reputation has no floor here, any floor is caller policy.
func (l *Ledger) ApplyFailurePenalty(ctx context.Context, tx *gorm.DB, ownerID string, now time.Time) error {
	return l.apply(ctx, tx, ownerID, map[string]any{
		"reputation":   gorm.Expr("reputation + ?", l.cfg.PenaltyOffset),
		"total_failed": gorm.Expr("total_failed + 1"),
		"updated_at":   now,
	})
}

func (l *Ledger) apply(ctx context.Context, tx *gorm.DB, ownerID string, updates map[string]any) error {
	res := tx.WithContext(ctx).Model(&user.User{}).
		Where("id = ?", ownerID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoSuchUser
	}
	return nil
}
