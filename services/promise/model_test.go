package promise

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"promisekeeper/services/testutil"
)

func TestStatusTransitions(t *testing.T) {
	all := []Status{StatusPending, StatusPendingApproval, StatusCompleted, StatusFailed}

	legal := map[Status]map[Status]bool{
		StatusPending:         {StatusPendingApproval: true, StatusFailed: true},
		StatusPendingApproval: {StatusCompleted: true, StatusFailed: true},
		StatusCompleted:       {},
		StatusFailed:          {},
	}

	for _, from := range all {
		for _, to := range all {
			require.Equal(t, legal[from][to], from.CanTransition(to),
				"transition %s -> %s", from, to)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	require.True(t, StatusPending.Open())
	require.True(t, StatusPendingApproval.Open())
	require.False(t, StatusCompleted.Open())
	require.False(t, StatusFailed.Open())

	require.False(t, StatusPending.Terminal())
	require.False(t, StatusPendingApproval.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
}

// Random sequences of attempted status writes must only ever land on a
// legal edge; everything else is rejected and leaves the row untouched.
func TestRandomTransitionSequences(t *testing.T) {
	all := []Status{StatusPending, StatusPendingApproval, StatusCompleted, StatusFailed}

	db := testutil.NewTestDB(t, &Promise{})
	repo := NewRepository(db)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 20; run++ {
		p := &Promise{
			ID:       string(rune('A' + run)),
			OwnerID:  "u1",
			Title:    "sequence",
			Deadline: time.Now().Add(time.Hour),
			Status:   StatusPending,
		}
		require.NoError(t, repo.Create(ctx, p))

		for step := 0; step < 10; step++ {
			target := all[rng.Intn(len(all))]
			before := p.Status

			err := repo.UpdateStatus(ctx, p, target, nil, time.Now())
			if before.CanTransition(target) {
				require.NoError(t, err)
				require.Equal(t, target, p.Status)
			} else {
				require.ErrorIs(t, err, ErrInvalidState)
				require.Equal(t, before, p.Status)
			}

			var stored Promise
			require.NoError(t, db.First(&stored, "id = ?", p.ID).Error)
			require.Equal(t, p.Status, stored.Status)
		}
	}
}

// a terminal status can never reach another status again, whatever
// sequence of transitions is attempted
func TestTerminalStatusesAreAbsorbing(t *testing.T) {
	all := []Status{StatusPending, StatusPendingApproval, StatusCompleted, StatusFailed}

	for _, s := range all {
		if !s.Terminal() {
			continue
		}
		for _, to := range all {
			require.False(t, s.CanTransition(to))
		}
	}
}
