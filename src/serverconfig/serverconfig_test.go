package serverconfig_test

import (
	"context"
	"testing"

	"github.com/stake-plus/govdecisions/src/ratification"
	"github.com/stake-plus/govdecisions/src/serverconfig"
	"github.com/stake-plus/govdecisions/src/testutil"
	"github.com/stake-plus/govdecisions/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func modelp(m ratification.Model) *ratification.Model { return &m }

func TestValidate(t *testing.T) {
	base := types.DefaultServerConfig()
	require.NoError(t, serverconfig.Validate(base))

	tests := []struct {
		name  string
		mut   func(*types.ServerConfig)
		field string
	}{
		{"unknown model", func(c *types.ServerConfig) { c.DecisionMakingModel = "sortition" }, "decisionMakingModel"},
		{"disagreements over 10", func(c *types.ServerConfig) { c.DisagreementsLimit = 11 }, "disagreementsLimit"},
		{"negative abstains", func(c *types.ServerConfig) { c.AbstainsLimit = -1 }, "abstainsLimit"},
		{"zero threshold", func(c *types.ServerConfig) { c.RatificationThreshold = 0 }, "ratificationThreshold"},
		{"majority at 50", func(c *types.ServerConfig) {
			c.DecisionMakingModel = ratification.ModelMajorityVote
			c.RatificationThreshold = 50
		}, "ratificationThreshold"},
		{"quorum over 100", func(c *types.ServerConfig) { c.QuorumThreshold = 101 }, "quorumThreshold"},
		{"consent without limit", func(c *types.ServerConfig) { c.DecisionMakingModel = ratification.ModelConsent }, "votingTimeLimit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mut(&cfg)
			err := serverconfig.Validate(cfg)
			var verr *serverconfig.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestService_Update(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := serverconfig.NewService(db)
	ctx := context.Background()

	_, err := svc.Update(ctx, serverconfig.Patch{DecisionMakingModel: modelp(ratification.ModelConsent)})
	var verr *serverconfig.ValidationError
	require.ErrorAs(t, err, &verr)

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, ratification.ModelConsensus, got.DecisionMakingModel, "rejected patch leaves config untouched")

	updated, err := svc.Update(ctx, serverconfig.Patch{
		DecisionMakingModel: modelp(ratification.ModelConsent),
		VotingTimeLimit:     intp(60),
		AbstainsLimit:       intp(0),
	})
	require.NoError(t, err)
	assert.Equal(t, ratification.ModelConsent, updated.DecisionMakingModel)
	assert.Equal(t, 60, updated.VotingTimeLimit)
	assert.Equal(t, 0, updated.AbstainsLimit)
	assert.Equal(t, 2, updated.DisagreementsLimit)

	got, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, got.VotingTimeLimit)
}
