package promise

import (
	"context"
	"errors"
	"time"

	"promisekeeper/pkg/db/option"

	"gorm.io/gorm"
)

// Repository describes database operations available for promises and
// their validations. WithTx rebinds the repository to a transaction so
// a whole transition shares one atomic scope.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, p *Promise) error
	GetByID(ctx context.Context, id string) (*Promise, error)
	// GetForUpdate reads the promise under a row lock; every status
	// transition starts here.
	GetForUpdate(ctx context.Context, id string) (*Promise, error)
	List(ctx context.Context, limit int) ([]Promise, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Promise, error)
	UpdateStatus(ctx context.Context, p *Promise, to Status, updates map[string]any, now time.Time) error

	AddValidation(ctx context.Context, v *Validation) error
	HasValidation(ctx context.Context, promiseID, validatorID string) (bool, error)
	VouchTotals(ctx context.Context, promiseID string) (count int64, totalWeight int64, err error)
	ListValidations(ctx context.Context, promiseID string) ([]Validation, error)

	FindExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	FindReminderDue(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]Promise, error)
	MarkReminded(ctx context.Context, promiseID string, at time.Time) (bool, error)

	AddComment(ctx context.Context, c *Comment) error
	ListComments(ctx context.Context, promiseID string) ([]Comment, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	return &gormRepository{db: tx}
}

func (r *gormRepository) Create(ctx context.Context, p *Promise) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *gormRepository) GetByID(ctx context.Context, id string) (*Promise, error) {
	var p Promise
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetForUpdate(ctx context.Context, id string) (*Promise, error) {
	var p Promise
	err := r.db.WithContext(ctx).Scopes(option.LockingUpdate).
		Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) List(ctx context.Context, limit int) ([]Promise, error) {
	query := r.db.WithContext(ctx).Model(&Promise{}).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var out []Promise
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepository) ListByOwner(ctx context.Context, ownerID string) ([]Promise, error) {
	var out []Promise
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus flips the status and applies the extra column updates in one
// statement. The edge is re-checked here so an illegal transition can never
// reach the database, whatever the caller did.
func (r *gormRepository) UpdateStatus(ctx context.Context, p *Promise, to Status, updates map[string]any, now time.Time) error {
	if !p.Status.CanTransition(to) {
		return ErrInvalidState
	}

	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	updates["updated_at"] = now

	res := r.db.WithContext(ctx).Model(&Promise{}).
		Where("id = ? AND status = ?", p.ID, p.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// status changed underneath us despite the row lock
		return ErrStorageConflict
	}

	p.Status = to
	return nil
}

func (r *gormRepository) AddValidation(ctx context.Context, v *Validation) error {
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *gormRepository) HasValidation(ctx context.Context, promiseID, validatorID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Validation{}).
		Where("promise_id = ? AND validator_id = ?", promiseID, validatorID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// VouchTotals recomputes the accumulated signal from storage. Callers must
// invoke it inside the same transaction as the eventual status write, or a
// concurrent insert can be double counted.
func (r *gormRepository) VouchTotals(ctx context.Context, promiseID string) (int64, int64, error) {
	type totals struct {
		Count int64
		Total int64
	}
	var t totals
	err := r.db.WithContext(ctx).Model(&Validation{}).
		Select("COUNT(*) AS count, COALESCE(SUM(weight), 0) AS total").
		Where("promise_id = ?", promiseID).
		Scan(&t).Error
	if err != nil {
		return 0, 0, err
	}
	return t.Count, t.Total, nil
}

func (r *gormRepository) ListValidations(ctx context.Context, promiseID string) ([]Validation, error) {
	var out []Validation
	err := r.db.WithContext(ctx).
		Where("promise_id = ?", promiseID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepository) FindExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := r.db.WithContext(ctx).Model(&Promise{}).
		Where("deadline < ? AND status IN ?", now, []Status{StatusPending, StatusPendingApproval}).
		Order("deadline ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var ids []string
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *gormRepository) FindReminderDue(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]Promise, error) {
	query := r.db.WithContext(ctx).Model(&Promise{}).
		Where("deadline >= ? AND deadline < ?", now, now.Add(lead)).
		Where("status IN ?", []Status{StatusPending, StatusPendingApproval}).
		Where("reminded_at IS NULL").
		Order("deadline ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var out []Promise
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MarkReminded is the one-shot guard for reminder notifications; only the
// caller that flips reminded_at from NULL sends the reminder.
func (r *gormRepository) MarkReminded(ctx context.Context, promiseID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Promise{}).
		Where("id = ? AND reminded_at IS NULL", promiseID).
		Update("reminded_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) AddComment(ctx context.Context, c *Comment) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *gormRepository) ListComments(ctx context.Context, promiseID string) ([]Comment, error) {
	var out []Comment
	err := r.db.WithContext(ctx).
		Where("promise_id = ?", promiseID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
