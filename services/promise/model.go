package promise

import (
	"context"
	"time"
)

// Status is the promise lifecycle state. Transitions only move forward
// along the edges in CanTransition; completed and failed are terminal.
type Status string

const (
	StatusPending         Status = "pending"
	StatusPendingApproval Status = "pending_approval"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Open reports whether the promise can still be failed by the deadline sweep.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusPendingApproval
}

// CanTransition is the edge table of the state machine.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusPendingApproval || to == StatusFailed
	case StatusPendingApproval:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

type Promise struct {
	ID          string `gorm:"column:id;primaryKey"`
	OwnerID     string `gorm:"column:owner_id;index"`
	Title       string `gorm:"column:title"`
	Description string `gorm:"column:description"`

	// Reward and Penalty are free text declared by the owner; they are
	// not enforced mechanically.
	Reward  string `gorm:"column:reward"`
	Penalty string `gorm:"column:penalty"`

	Deadline     time.Time  `gorm:"column:deadline;index"`
	Status       Status     `gorm:"column:status;index"`
	EvidenceText *string    `gorm:"column:evidence_text"`
	RemindedAt   *time.Time `gorm:"column:reminded_at"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Promise) TableName() string { return "promises" }

// Validation is one validator's endorsement of one promise. Weight is the
// validator's reputation captured at vouch time and never recomputed.
type Validation struct {
	ID          string    `gorm:"column:id;primaryKey"`
	PromiseID   string    `gorm:"column:promise_id;uniqueIndex:idx_validations_promise_validator"`
	ValidatorID string    `gorm:"column:validator_id;uniqueIndex:idx_validations_promise_validator"`
	Weight      int64     `gorm:"column:weight"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (Validation) TableName() string { return "validations" }

type Comment struct {
	ID        string    `gorm:"column:id;primaryKey"`
	PromiseID string    `gorm:"column:promise_id;index"`
	AuthorID  string    `gorm:"column:author_id"`
	Text      string    `gorm:"column:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Comment) TableName() string { return "comments" }

// EventKind tags a lifecycle transition for the notification fan-out.
type EventKind string

const (
	EventVouchReceived EventKind = "vouch_received"
	EventCompleted     EventKind = "promise_completed"
	EventFailed        EventKind = "promise_failed"
	EventReminder      EventKind = "reminder"
)

// Event is emitted after a transition commits. Delivery is best-effort
// and must never influence the transition itself.
type Event struct {
	Kind      EventKind
	PromiseID string
	Recipient string
	Title     string
	Content   string
}

// Events is the notification sink consumed by the state machine.
// Implementations swallow their own failures.
type Events interface {
	Publish(ctx context.Context, ev Event)
}
