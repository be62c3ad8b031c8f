package promise

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"promisekeeper/pkg/config"
	"promisekeeper/services/reputation"
	"promisekeeper/services/testutil"
	"promisekeeper/services/user"
)

type eventRecorder struct {
	mu  sync.Mutex
	evs []Event
}

func (r *eventRecorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.evs))
	for _, ev := range r.evs {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *eventRecorder) count(kind EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc    *Service
	db     *gorm.DB
	events *eventRecorder
	clock  *fakeClock
	game   config.Game
}

func newFixture(t *testing.T, game config.Game) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &user.User{}, &Promise{}, &Validation{}, &Comment{})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	events := &eventRecorder{}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	svc := NewService(ServiceParams{
		DB:     db,
		Node:   node,
		Config: &config.Config{Game: game},
		Ledger: reputation.NewLedgerWithGame(game),
		Events: events,
		Clock:  clock,
	})

	return &fixture{svc: svc, db: db, events: events, clock: clock, game: game}
}

func (f *fixture) createUser(t *testing.T, id, username string) *user.User {
	t.Helper()
	u := user.NewUser(id, username)
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func (f *fixture) createPromise(t *testing.T, ownerID string) *Promise {
	t.Helper()
	p, err := f.svc.Create(context.Background(), ownerID, CreateInput{
		Title:    "run a marathon",
		Reward:   "new shoes",
		Penalty:  "donate to charity",
		Deadline: f.clock.Now().Add(72 * time.Hour),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) toPendingApproval(t *testing.T, p *Promise, ownerID string) {
	t.Helper()
	_, err := f.svc.SubmitEvidence(context.Background(), p.ID, ownerID, "finished the race, photo attached")
	require.NoError(t, err)
}

func TestCreatePromise(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	f.createUser(t, "u1", "arash")

	p := f.createPromise(t, "u1")
	require.NotEmpty(t, p.ID)
	require.Equal(t, StatusPending, p.Status)
	require.Equal(t, "u1", p.OwnerID)

	got, err := f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, got.Promise.ID)
	require.Zero(t, got.VouchCount)
	require.Zero(t, got.TotalWeight)
}

func TestCreatePromiseRejectsPastDeadline(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	f.createUser(t, "u1", "arash")

	_, err := f.svc.Create(context.Background(), "u1", CreateInput{
		Title:    "time travel",
		Deadline: f.clock.Now().Add(-time.Hour),
	})
	require.ErrorIs(t, err, ErrDeadlineInPast)
}

func TestSubmitEvidence(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	f.createUser(t, "u1", "arash")
	p := f.createPromise(t, "u1")

	got, err := f.svc.SubmitEvidence(context.Background(), p.ID, "u1", "finished the race, photo attached")
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, got.Status)
	require.NotNil(t, got.EvidenceText)

	var stored Promise
	require.NoError(t, f.db.First(&stored, "id = ?", p.ID).Error)
	require.Equal(t, StatusPendingApproval, stored.Status)
	require.Equal(t, "finished the race, photo attached", *stored.EvidenceText)
	// rows are stamped from the injected clock, not the wall clock
	require.True(t, stored.UpdatedAt.Equal(f.clock.Now()))
}

func TestSubmitEvidenceRejections(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	f.createUser(t, "u1", "arash")
	f.createUser(t, "u2", "sara")
	p := f.createPromise(t, "u1")
	ctx := context.Background()

	_, err := f.svc.SubmitEvidence(ctx, p.ID, "u1", "short")
	require.ErrorIs(t, err, ErrEvidenceTooShort)

	_, err = f.svc.SubmitEvidence(ctx, p.ID, "u2", "finished the race, photo attached")
	require.ErrorIs(t, err, ErrNotOwner)

	_, err = f.svc.SubmitEvidence(ctx, "missing", "u1", "finished the race, photo attached")
	require.ErrorIs(t, err, ErrPromiseNotFound)

	f.toPendingApproval(t, p, "u1")
	_, err = f.svc.SubmitEvidence(ctx, p.ID, "u1", "finished the race, photo attached")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestVouchThresholdCompletesPromise(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	owner := f.createUser(t, "u1", "arash")
	f.createUser(t, "v1", "sara")
	f.createUser(t, "v2", "omid")
	f.createUser(t, "v3", "leila")
	p := f.createPromise(t, owner.ID)
	f.toPendingApproval(t, p, owner.ID)
	ctx := context.Background()

	res, err := f.svc.Vouch(ctx, p.ID, "v1")
	require.NoError(t, err)
	require.False(t, res.Completed)
	require.Equal(t, int64(1), res.VouchCount)
	require.Equal(t, user.InitialReputation, res.Weight)

	res, err = f.svc.Vouch(ctx, p.ID, "v2")
	require.NoError(t, err)
	require.False(t, res.Completed)

	res, err = f.svc.Vouch(ctx, p.ID, "v3")
	require.NoError(t, err)
	require.True(t, res.Completed)
	require.Equal(t, int64(3), res.VouchCount)
	require.Equal(t, 3*user.InitialReputation, res.TotalWeight)

	var stored Promise
	require.NoError(t, f.db.First(&stored, "id = ?", p.ID).Error)
	require.Equal(t, StatusCompleted, stored.Status)

	var got user.User
	require.NoError(t, f.db.First(&got, "id = ?", owner.ID).Error)
	require.Equal(t, user.InitialReputation+f.game.ReputationReward, got.Reputation)
	require.Equal(t, user.InitialCoins+f.game.CoinReward, got.Coins)
	require.Equal(t, int64(1), got.TotalCompleted)

	require.Equal(t, 3, f.events.count(EventVouchReceived))
	require.Equal(t, 1, f.events.count(EventCompleted))
}

func TestVouchCapturesWeightAtVouchTime(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	f.createUser(t, "u1", "arash")
	heavy := f.createUser(t, "v1", "sara")
	require.NoError(t, f.db.Model(heavy).Update("reputation", 42).Error)

	p := f.createPromise(t, "u1")
	f.toPendingApproval(t, p, "u1")

	res, err := f.svc.Vouch(context.Background(), p.ID, "v1")
	require.NoError(t, err)
	require.Equal(t, int64(42), res.Weight)

	// the captured weight stays frozen even if the validator's
	// reputation changes afterwards
	require.NoError(t, f.db.Model(heavy).Update("reputation", 1).Error)

	var v Validation
	require.NoError(t, f.db.First(&v, "promise_id = ? AND validator_id = ?", p.ID, "v1").Error)
	require.Equal(t, int64(42), v.Weight)
}

func TestVouchRejections(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	f.createUser(t, "u1", "arash")
	f.createUser(t, "v1", "sara")
	p := f.createPromise(t, "u1")
	ctx := context.Background()

	_, err := f.svc.Vouch(ctx, p.ID, "v1")
	require.ErrorIs(t, err, ErrPromiseNotVotable)

	f.toPendingApproval(t, p, "u1")

	_, err = f.svc.Vouch(ctx, p.ID, "u1")
	require.ErrorIs(t, err, ErrSelfVouch)

	_, err = f.svc.Vouch(ctx, "missing", "v1")
	require.ErrorIs(t, err, ErrPromiseNotFound)

	_, err = f.svc.Vouch(ctx, p.ID, "v1")
	require.NoError(t, err)
	_, err = f.svc.Vouch(ctx, p.ID, "v1")
	require.ErrorIs(t, err, ErrDuplicateVouch)
}

func TestVouchWeightPolicy(t *testing.T) {
	game := config.DefaultGame()
	game.VouchPolicy = config.VouchPolicyWeight
	game.VouchThreshold = 40

	f := newFixture(t, game)
	f.createUser(t, "u1", "arash")
	heavy := f.createUser(t, "v1", "sara")
	require.NoError(t, f.db.Model(heavy).Update("reputation", 50).Error)

	p := f.createPromise(t, "u1")
	f.toPendingApproval(t, p, "u1")

	// one vouch whose weight clears the threshold completes immediately
	res, err := f.svc.Vouch(context.Background(), p.ID, "v1")
	require.NoError(t, err)
	require.True(t, res.Completed)
	require.Equal(t, int64(50), res.TotalWeight)
}

func TestConcurrentVouchesRewardExactlyOnce(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	owner := f.createUser(t, "u1", "arash")
	p := f.createPromise(t, owner.ID)
	f.toPendingApproval(t, p, owner.ID)

	const validators = 6
	ids := make([]string, validators)
	for i := range ids {
		ids[i] = string(rune('a' + i))
		f.createUser(t, ids[i], "validator_"+ids[i])
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		completed  int
		rejected   int
		unexpected []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Vouch(context.Background(), p.ID, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Completed:
				completed++
			case err == nil:
			case errors.Is(err, ErrPromiseNotVotable):
				rejected++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, unexpected)

	require.Equal(t, 1, completed)
	require.Equal(t, validators-int(f.game.VouchThreshold), rejected)

	var got user.User
	require.NoError(t, f.db.First(&got, "id = ?", owner.ID).Error)
	require.Equal(t, user.InitialReputation+f.game.ReputationReward, got.Reputation)
	require.Equal(t, user.InitialCoins+f.game.CoinReward, got.Coins)
	require.Equal(t, int64(1), got.TotalCompleted)

	require.Equal(t, 1, f.events.count(EventCompleted))
}

func TestConcurrentDuplicateVouch(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	f.createUser(t, "u1", "arash")
	f.createUser(t, "v1", "sara")
	p := f.createPromise(t, "u1")
	f.toPendingApproval(t, p, "u1")

	const attempts = 5
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		accepted   int
		unexpected []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Vouch(context.Background(), p.ID, "v1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrDuplicateVouch):
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, unexpected)
	require.Equal(t, 1, accepted)

	var n int64
	require.NoError(t, f.db.Model(&Validation{}).Where("promise_id = ?", p.ID).Count(&n).Error)
	require.Equal(t, int64(1), n)
}

// flakyRepository fails the first N status writes with a storage conflict
// and then delegates, mimicking lost serialization races.
type flakyRepository struct {
	Repository
	remaining *int32
}

func (r *flakyRepository) WithTx(tx *gorm.DB) Repository {
	return &flakyRepository{Repository: r.Repository.WithTx(tx), remaining: r.remaining}
}

func (r *flakyRepository) UpdateStatus(ctx context.Context, p *Promise, to Status, updates map[string]any, now time.Time) error {
	if atomic.AddInt32(r.remaining, -1) >= 0 {
		return ErrStorageConflict
	}
	return r.Repository.UpdateStatus(ctx, p, to, updates, now)
}

func (f *fixture) withFlakyStatusWrites(conflicts int32) {
	f.svc.repo = &flakyRepository{Repository: f.svc.repo, remaining: &conflicts}
}

func TestTransitionRetriesStorageConflict(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	owner := f.createUser(t, "u1", "arash")
	p := f.createPromise(t, owner.ID)
	ctx := context.Background()

	// two lost races still leave one attempt within the retry budget
	f.withFlakyStatusWrites(maxTransitionRetries - 1)
	f.clock.Advance(100 * time.Hour)
	require.NoError(t, f.svc.SweepExpire(ctx, p.ID, f.clock.Now()))

	var stored Promise
	require.NoError(t, f.db.First(&stored, "id = ?", p.ID).Error)
	require.Equal(t, StatusFailed, stored.Status)

	var got user.User
	require.NoError(t, f.db.First(&got, "id = ?", owner.ID).Error)
	require.Equal(t, user.InitialReputation+f.game.PenaltyOffset, got.Reputation)
	require.Equal(t, int64(1), got.TotalFailed)
	require.Equal(t, 1, f.events.count(EventFailed))
}

func TestTransitionSurfacesConflictAfterRetryBudget(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	owner := f.createUser(t, "u1", "arash")
	p := f.createPromise(t, owner.ID)
	ctx := context.Background()

	f.withFlakyStatusWrites(maxTransitionRetries)
	f.clock.Advance(100 * time.Hour)

	err := f.svc.SweepExpire(ctx, p.ID, f.clock.Now())
	require.ErrorIs(t, err, ErrStorageConflict)

	// every attempt rolled back; nothing changed and nothing was published
	var stored Promise
	require.NoError(t, f.db.First(&stored, "id = ?", p.ID).Error)
	require.Equal(t, StatusPending, stored.Status)

	var got user.User
	require.NoError(t, f.db.First(&got, "id = ?", owner.ID).Error)
	require.Equal(t, user.InitialReputation, got.Reputation)
	require.Zero(t, got.TotalFailed)
	require.Zero(t, f.events.count(EventFailed))
}

func TestSweepExpireFailsPromise(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	owner := f.createUser(t, "u1", "arash")
	p := f.createPromise(t, owner.ID)
	ctx := context.Background()

	err := f.svc.SweepExpire(ctx, p.ID, f.clock.Now())
	require.ErrorIs(t, err, ErrNotExpired)

	f.clock.Advance(100 * time.Hour)
	require.NoError(t, f.svc.SweepExpire(ctx, p.ID, f.clock.Now()))

	var stored Promise
	require.NoError(t, f.db.First(&stored, "id = ?", p.ID).Error)
	require.Equal(t, StatusFailed, stored.Status)

	var got user.User
	require.NoError(t, f.db.First(&got, "id = ?", owner.ID).Error)
	require.Equal(t, user.InitialReputation+f.game.PenaltyOffset, got.Reputation)
	require.Equal(t, user.InitialCoins, got.Coins)
	require.Equal(t, int64(1), got.TotalFailed)

	require.Equal(t, 1, f.events.count(EventFailed))

	// a second sweep over the same promise is rejected, not double counted
	err = f.svc.SweepExpire(ctx, p.ID, f.clock.Now())
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, 1, f.events.count(EventFailed))
}

func TestVouchAfterExpiry(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	f.createUser(t, "u1", "arash")
	f.createUser(t, "v1", "sara")
	p := f.createPromise(t, "u1")
	f.toPendingApproval(t, p, "u1")
	ctx := context.Background()

	f.clock.Advance(100 * time.Hour)
	require.NoError(t, f.svc.SweepExpire(ctx, p.ID, f.clock.Now()))

	_, err := f.svc.Vouch(ctx, p.ID, "v1")
	require.ErrorIs(t, err, ErrPromiseNotVotable)
}

func TestComments(t *testing.T) {
	f := newFixture(t, config.DefaultGame())
	f.createUser(t, "u1", "arash")
	f.createUser(t, "u2", "sara")
	p := f.createPromise(t, "u1")
	ctx := context.Background()

	_, err := f.svc.AddComment(ctx, "missing", "u2", "good luck")
	require.ErrorIs(t, err, ErrPromiseNotFound)

	c, err := f.svc.AddComment(ctx, p.ID, "u2", "good luck")
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)

	_, err = f.svc.AddComment(ctx, p.ID, "u1", "thanks!")
	require.NoError(t, err)

	out, err := f.svc.ListComments(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "good luck", out[0].Text)
}
