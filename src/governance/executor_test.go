package governance_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stake-plus/govdecisions/src/governance"
	"github.com/stake-plus/govdecisions/src/metrics"
	"github.com/stake-plus/govdecisions/src/ratification"
	"github.com/stake-plus/govdecisions/src/roles"
	"github.com/stake-plus/govdecisions/src/testutil"
	"github.com/stake-plus/govdecisions/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func ptr(s string) *string { return &s }

func ratifiedProposal(t *testing.T, db *gorm.DB, channelID, authorID string, action types.PollAction) types.Poll {
	t.Helper()
	poll := types.Poll{
		ChannelID: channelID,
		UserID:    authorID,
		Stage:     types.StageRatified,
		PollType:  types.PollTypeProposal,
		Config:    &types.PollConfig{DecisionMakingModel: ratification.ModelConsensus, RatificationThreshold: 51},
		Action:    &action,
	}
	require.NoError(t, db.Create(&poll).Error)
	return poll
}

func TestExecute_CreateRole(t *testing.T) {
	db := testutil.OpenDB(t)
	users := testutil.Users(t, db, 2)
	ch := testutil.Channel(t, db, users...)
	clock := testutil.NewClock()
	exec := governance.NewExecutor(db, nil).WithClock(clock.Now)

	poll := ratifiedProposal(t, db, ch.ID, users[0].ID, types.PollAction{
		ActionType: types.ActionCreateRole,
		Role: &types.PollActionRole{
			Name:  ptr("stewards"),
			Color: ptr("#00ff00"),
			Permissions: []types.PollActionPermission{
				{Action: types.AbilityManage, Subject: types.SubjectChannel, ChangeType: types.ChangeAdd},
				{Action: types.AbilityDelete, Subject: types.SubjectMessage, ChangeType: types.ChangeRemove},
			},
			Members: []types.PollActionRoleMember{
				{UserID: users[0].ID, ChangeType: types.ChangeAdd},
				{UserID: users[1].ID, ChangeType: types.ChangeAdd},
			},
		},
	})

	require.NoError(t, exec.Execute(context.Background(), poll.ID))

	var role types.Role
	require.NoError(t, db.Preload("Permissions").Preload("Members").First(&role, "name = ?", "stewards").Error)
	assert.Equal(t, "#00ff00", role.Color)
	require.Len(t, role.Permissions, 1)
	assert.Equal(t, types.AbilityManage, role.Permissions[0].Action)
	assert.Len(t, role.Members, 2)

	var action types.PollAction
	require.NoError(t, db.First(&action, "poll_id = ?", poll.ID).Error)
	require.NotNil(t, action.ExecutedAt)
	assert.True(t, action.ExecutedAt.Equal(clock.Now()))

	err := exec.Execute(context.Background(), poll.ID)
	assert.ErrorIs(t, err, governance.ErrAlreadyExecuted)
}

func TestExecute_ChangeRole(t *testing.T) {
	db := testutil.OpenDB(t)
	users := testutil.Users(t, db, 3)
	ch := testutil.Channel(t, db, users...)
	role := testutil.Role(t, db, "mods", "#111111",
		[]types.Permission{{Action: types.AbilityDelete, Subject: types.SubjectMessage}},
		users[0], users[1])
	exec := governance.NewExecutor(db, nil)

	poll := ratifiedProposal(t, db, ch.ID, users[0].ID, types.PollAction{
		ActionType: types.ActionChangeRole,
		Role: &types.PollActionRole{
			RoleID: ptr(role.ID),
			Name:   ptr("moderators"),
			Permissions: []types.PollActionPermission{
				{Action: types.AbilityDelete, Subject: types.SubjectMessage, ChangeType: types.ChangeRemove},
				{Action: types.AbilityManage, Subject: types.SubjectInvite, ChangeType: types.ChangeAdd},
			},
			Members: []types.PollActionRoleMember{
				{UserID: users[1].ID, ChangeType: types.ChangeRemove},
				{UserID: users[2].ID, ChangeType: types.ChangeAdd},
			},
		},
	})

	require.NoError(t, exec.Execute(context.Background(), poll.ID))

	got, err := roles.NewStore(db).GetRole(context.Background(), role.ID)
	require.NoError(t, err)
	assert.Equal(t, "moderators", got.Name)
	assert.Equal(t, "#111111", got.Color)
	require.Len(t, got.Permissions, 1)
	assert.Equal(t, types.SubjectInvite, got.Permissions[0].Subject)
	var members []string
	for _, m := range got.Members {
		members = append(members, m.UserID)
	}
	assert.ElementsMatch(t, []string{users[0].ID, users[2].ID}, members)

	var set types.PollActionRole
	require.NoError(t, db.First(&set, "role_id = ?", role.ID).Error)
	require.NotNil(t, set.PrevName)
	assert.Equal(t, "mods", *set.PrevName)
	assert.Nil(t, set.PrevColor)
}

func TestExecute_IncompleteDataRollsBackClaim(t *testing.T) {
	db := testutil.OpenDB(t)
	users := testutil.Users(t, db, 1)
	ch := testutil.Channel(t, db, users...)
	m := metrics.New()
	exec := governance.NewExecutor(db, m)

	poll := ratifiedProposal(t, db, ch.ID, users[0].ID, types.PollAction{
		ActionType: types.ActionCreateRole,
		Role:       &types.PollActionRole{Name: ptr("no color")},
	})

	err := exec.Execute(context.Background(), poll.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, governance.ErrIncompleteActionData)

	var action types.PollAction
	require.NoError(t, db.First(&action, "poll_id = ?", poll.ID).Error)
	assert.Nil(t, action.ExecutedAt, "failed execution must not keep the claim")

	pending, err := exec.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{poll.ID}, pending)

	var count int64
	require.NoError(t, db.Model(&types.Role{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestExecute_LoadFailureIsCounted(t *testing.T) {
	db := testutil.OpenDB(t)
	users := testutil.Users(t, db, 1)
	ch := testutil.Channel(t, db, users...)
	m := metrics.New()
	exec := governance.NewExecutor(db, m)

	poll := ratifiedProposal(t, db, ch.ID, users[0].ID, types.PollAction{
		ActionType: types.ActionCreateRole,
		Role:       &types.PollActionRole{Name: ptr("r"), Color: ptr("#111111")},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := exec.Execute(ctx, poll.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `govdecisions_action_failures_total{action_type="unknown",reason="error"} 1`)
}

func TestExecute_NoAction(t *testing.T) {
	db := testutil.OpenDB(t)
	assert.NoError(t, governance.NewExecutor(db, nil).Execute(context.Background(), "no-such-poll"))
}

func TestExecute_ConcurrentCallersRunOnce(t *testing.T) {
	db := testutil.OpenDB(t)
	users := testutil.Users(t, db, 2)
	ch := testutil.Channel(t, db, users...)
	exec := governance.NewExecutor(db, nil)

	poll := ratifiedProposal(t, db, ch.ID, users[0].ID, types.PollAction{
		ActionType: types.ActionCreateRole,
		Role: &types.PollActionRole{
			Name:    ptr("council"),
			Color:   ptr("#abcdef"),
			Members: []types.PollActionRoleMember{{UserID: users[1].ID, ChangeType: types.ChangeAdd}},
		},
	})

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		lost      int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := exec.Execute(context.Background(), poll.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, governance.ErrAlreadyExecuted):
				lost++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, lost)

	var count int64
	require.NoError(t, db.Model(&types.Role{}).Where("name = ?", "council").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestReplay(t *testing.T) {
	db := testutil.OpenDB(t)
	users := testutil.Users(t, db, 1)
	ch := testutil.Channel(t, db, users...)
	exec := governance.NewExecutor(db, nil)

	good := ratifiedProposal(t, db, ch.ID, users[0].ID, types.PollAction{
		ActionType: types.ActionCreateRole,
		Role:       &types.PollActionRole{Name: ptr("a"), Color: ptr("#aaaaaa")},
	})
	ratifiedProposal(t, db, ch.ID, users[0].ID, types.PollAction{
		ActionType: types.ActionChangeRole,
		Role:       &types.PollActionRole{Name: ptr("b")},
	})

	done, err := exec.Replay(context.Background())
	assert.Equal(t, 1, done)
	assert.ErrorIs(t, err, governance.ErrIncompleteActionData)

	pending, err := exec.Pending(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, pending, good.ID)
	assert.Len(t, pending, 1)
}
