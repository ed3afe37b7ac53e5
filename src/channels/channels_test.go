package channels_test

import (
	"context"
	"testing"

	"github.com/stake-plus/govdecisions/src/channels"
	"github.com/stake-plus/govdecisions/src/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	db := testutil.OpenDB(t)
	users := testutil.Users(t, db, 3)
	ch := testutil.Channel(t, db, users[0], users[1])
	store := channels.NewStore(db)
	ctx := context.Background()

	ok, err := store.IsMember(ctx, ch.ID, users[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IsMember(ctx, ch.ID, users[2].ID)
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := store.ListMembers(ctx, ch.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{users[0].ID, users[1].ID}, members)

	members, err = store.ListMembers(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, members)
}
