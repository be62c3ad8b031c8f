package promise

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"promisekeeper/pkg/config"
	"promisekeeper/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// TaskTypeSweep is the asynq task type for one deadline sweep pass.
const TaskTypeSweep = "promise:sweep"

// sweepParallelism caps concurrent per-promise transitions within one pass.
const sweepParallelism = 4

// sweepBatchSize bounds one pass; leftovers are picked up by the next tick.
const sweepBatchSize = 500

// Sweeper fails expired promises and emits deadline reminders. Each
// expiration goes through Service.SweepExpire so it reuses the same
// locked transition as user-driven flows.
type Sweeper struct {
	svc    *Service
	repo   Repository
	events Events
	clock  Clock
	cfg    config.Game
}

type SweeperParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
	Svc    *Service
	Events Events `optional:"true"`
	Clock  Clock  `optional:"true"`
}

func NewSweeper(p SweeperParams) *Sweeper {
	events := p.Events
	if events == nil {
		events = nopEvents{}
	}
	clock := p.Clock
	if clock == nil {
		clock = NewSystemClock()
	}

	return &Sweeper{
		svc:    p.Svc,
		repo:   NewRepository(p.DB),
		events: events,
		clock:  clock,
		cfg:    p.Config.Game,
	}
}

// HandleSweep processes one sweep task: expire every overdue open promise,
// then send one-shot reminders for deadlines inside the reminder lead.
func (s *Sweeper) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	now := s.clock.Now()

	expired, err := s.Sweep(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep pass: %w", err)
	}
	if expired > 0 {
		zap.L().Info("deadline sweep expired promises", zap.Int("count", expired))
	}

	if err := s.remind(ctx, now); err != nil {
		return fmt.Errorf("reminder pass: %w", err)
	}
	return nil
}

// Sweep fails every open promise whose deadline has elapsed at now and
// reports how many transitions succeeded. Promises that another actor
// completed or failed between the scan and the locked transition are
// skipped, so repeated passes over the same window are idempotent. A
// promise whose transition fails is logged and left for the next pass;
// it never aborts the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.FindExpiredIDs(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		expired int
		missed  int
	)
	g.SetLimit(sweepParallelism)

	for _, id := range ids {
		g.Go(func() error {
			err := s.svc.SweepExpire(ctx, id, now)
			switch {
			case err == nil:
				mu.Lock()
				expired++
				mu.Unlock()
			case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotExpired), errors.Is(err, ErrPromiseNotFound):
				// lost the race to a user-driven transition
			default:
				zap.L().Error("failed to expire promise", zap.String("promise_id", id), zap.Error(err))
				mu.Lock()
				missed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if missed > 0 {
		zap.L().Warn("sweep pass left promises for the next tick",
			zap.Int("missed", missed), zap.Int("expired", expired))
	}
	return expired, nil
}

func (s *Sweeper) remind(ctx context.Context, now time.Time) error {
	due, err := s.repo.FindReminderDue(ctx, now, s.cfg.ReminderLead, sweepBatchSize)
	if err != nil {
		return err
	}

	for _, p := range due {
		flipped, err := s.repo.MarkReminded(ctx, p.ID, now)
		if err != nil {
			zap.L().Error("failed to mark reminder", zap.String("promise_id", p.ID), zap.Error(err))
			continue
		}
		if !flipped {
			// another sweeper instance already sent it
			continue
		}

		s.events.Publish(ctx, Event{
			Kind:      EventReminder,
			PromiseID: p.ID,
			Recipient: p.OwnerID,
			Title:     "Deadline approaching",
			Content:   fmt.Sprintf("Your promise %q is due at %s.", p.Title, p.Deadline.Format(time.RFC3339)),
		})
	}
	return nil
}

func registerSweepHandler(mux *asynq.ServeMux, s *Sweeper) {
	mux.HandleFunc(TaskTypeSweep, s.HandleSweep)
}

// runSweepScheduler enqueues a sweep task on a fixed interval for the
// worker pool to pick up.
func runSweepScheduler(lc fx.Lifecycle, cfg *config.Config, enqueuer task.Enqueuer) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(cfg.Game.SweepInterval)
				defer ticker.Stop()

				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						t := asynq.NewTask(TaskTypeSweep, nil)
						if _, err := enqueuer.Enqueue(ctx, t, asynq.Queue(task.QueueSweeps)); err != nil {
							zap.L().Error("failed to enqueue sweep task", zap.Error(err))
						}
					}
				}
			}()
			zap.L().Info("sweep scheduler started", zap.Duration("interval", cfg.Game.SweepInterval))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
