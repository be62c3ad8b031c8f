package notification

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	"promisekeeper/pkg/config"
	"promisekeeper/services/promise"
	"promisekeeper/services/reputation"
	"promisekeeper/services/testutil"
	"promisekeeper/services/user"
)

// End-to-end lifecycle: evidence, three vouches, completion. The owner
// ends up with exactly one completed notification on record.
func TestPromiseCompletionRecordsOneNotification(t *testing.T) {
	db := testutil.NewTestDB(t,
		&user.User{}, &promise.Promise{}, &promise.Validation{}, &Notification{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	sink := NewService(ServiceParams{DB: db, Node: node, Hub: NewHub()})

	game := config.DefaultGame()
	svc := promise.NewService(promise.ServiceParams{
		DB:     db,
		Node:   node,
		Config: &config.Config{Game: game},
		Ledger: reputation.NewLedgerWithGame(game),
		Events: sink,
	})
	ctx := context.Background()

	owner := user.NewUser("u1", "arash")
	require.NoError(t, db.Create(owner).Error)
	for _, id := range []string{"v1", "v2", "v3"} {
		require.NoError(t, db.Create(user.NewUser(id, "validator_"+id)).Error)
	}

	p, err := svc.Create(ctx, owner.ID, promise.CreateInput{
		Title:    "ship the release",
		Deadline: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = svc.SubmitEvidence(ctx, p.ID, owner.ID, "release shipped, changelog here")
	require.NoError(t, err)

	for _, v := range []string{"v1", "v2", "v3"} {
		_, err := svc.Vouch(ctx, p.ID, v)
		require.NoError(t, err)
	}

	out, err := sink.List(ctx, owner.ID, false, 0)
	require.NoError(t, err)

	completed := 0
	vouched := 0
	for _, n := range out {
		switch n.Type {
		case TypeCompleted:
			completed++
			require.NotNil(t, n.LinkID)
			require.Equal(t, p.ID, *n.LinkID)
		case TypeVouchReceived:
			vouched++
		}
	}
	require.Equal(t, 1, completed)
	require.Equal(t, 3, vouched)

	var got user.User
	require.NoError(t, db.First(&got, "id = ?", owner.ID).Error)
	require.Equal(t, int64(1), got.TotalCompleted)
}
