package webserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stake-plus/govdecisions/src/channels"
	"github.com/stake-plus/govdecisions/src/config"
	"github.com/stake-plus/govdecisions/src/crypto"
	"github.com/stake-plus/govdecisions/src/governance"
	"github.com/stake-plus/govdecisions/src/metrics"
	"github.com/stake-plus/govdecisions/src/participants"
	"github.com/stake-plus/govdecisions/src/polls"
	"github.com/stake-plus/govdecisions/src/serverconfig"
	"github.com/stake-plus/govdecisions/src/testutil"
	"github.com/stake-plus/govdecisions/src/types"
	"github.com/stake-plus/govdecisions/src/votes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

type touchCounter struct{ n atomic.Int32 }

func (t *touchCounter) Touch() { t.n.Add(1) }

type harness struct {
	t       *testing.T
	db      *gorm.DB
	engine  *gin.Engine
	users   []types.User
	channel types.Channel
	touches *touchCounter
}

func newHarness(t *testing.T, members int) harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.OpenDB(t)
	users := testutil.Users(t, db, members)
	ch := testutil.Channel(t, db, users...)

	sealer, err := crypto.NewChannelSealer(db, testutil.MasterKey)
	require.NoError(t, err)
	m := metrics.New()
	membership := channels.NewStore(db)
	src := participants.NewStore(db)
	store := polls.NewStore(db, sealer, membership)
	eval := polls.NewEvaluator(store, src, governance.NewExecutor(db, m), m)
	touches := &touchCounter{}

	deps := Deps{
		DB:           db,
		Polls:        store,
		Votes:        votes.NewService(votes.NewLedger(db), store, eval, membership, m),
		ServerConfig: serverconfig.NewService(db),
		Participants: src,
		Members:      membership,
		Sweep:        touches,
		Metrics:      m,
	}
	engine := New(config.HTTPConfig{JWTSecret: testSecret, CORSOrigins: []string{"http://localhost:3000"}}, deps)
	return harness{t: t, db: db, engine: engine, users: users, channel: ch, touches: touches}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (h harness) do(method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(h.t, userID))
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func (h harness) createProposal(userID string, body map[string]interface{}) string {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/v1/channels/"+h.channel.ID+"/polls", userID, body)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Poll struct {
			ID string `json:"id"`
		} `json:"poll"`
	}
	decode(h.t, rec, &resp)
	return resp.Poll.ID
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t, 1)
	rec := h.do(http.MethodGet, "/v1/server-config", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/server-config", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, 1)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "", nil).Code)

	rec := h.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "govdecisions_")
}

func TestProposalLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, 4)

	pollID := h.createProposal(h.users[0].ID, map[string]interface{}{
		"body":     "Create a stewards role",
		"pollType": "proposal",
		"action": map[string]interface{}{
			"actionType": "create-role",
			"name":       "stewards",
			"color":      "#123abc",
			"members":    []map[string]string{{"userId": h.users[1].ID, "changeType": "add"}},
		},
	})
	assert.Positive(t, h.touches.n.Load())

	var voteID string
	for i, want := range []bool{false, false, true} {
		rec := h.do(http.MethodPost, "/v1/polls/"+pollID+"/votes", h.users[i].ID, map[string]string{"voteType": "agree"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var res struct {
			Vote struct {
				ID string `json:"id"`
			} `json:"vote"`
			IsRatifyingVote bool `json:"isRatifyingVote"`
		}
		decode(t, rec, &res)
		assert.Equal(t, want, res.IsRatifyingVote)
		if i == 0 {
			voteID = res.Vote.ID
		}
	}

	rec := h.do(http.MethodPost, "/v1/polls/"+pollID+"/votes", h.users[3].ID, map[string]string{"voteType": "agree"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(http.MethodPut, "/v1/polls/"+pollID+"/votes/"+voteID, h.users[0].ID, map[string]string{"voteType": "block"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(http.MethodGet, "/v1/polls/"+pollID, h.users[1].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Poll struct {
			Stage          string `json:"stage"`
			Body           string `json:"body"`
			AgreementCount int    `json:"agreementVoteCount"`
			MemberCount    int    `json:"memberCount"`
			MyVotes        []struct {
				VoteType string `json:"voteType"`
			} `json:"myVotes"`
		} `json:"poll"`
	}
	decode(t, rec, &got)
	assert.Equal(t, "ratified", got.Poll.Stage)
	assert.Equal(t, "Create a stewards role", got.Poll.Body)
	assert.Equal(t, 3, got.Poll.AgreementCount)
	assert.Equal(t, 4, got.Poll.MemberCount)
	require.Len(t, got.Poll.MyVotes, 1)

	var role types.Role
	require.NoError(t, h.db.First(&role, "name = ?", "stewards").Error)
}

func TestVoteErrors(t *testing.T) {
	h := newHarness(t, 3)
	pollID := h.createProposal(h.users[0].ID, map[string]interface{}{"body": "b", "pollType": "proposal"})
	votesPath := "/v1/polls/" + pollID + "/votes"

	rec := h.do(http.MethodPost, votesPath, h.users[0].ID, map[string]string{"voteType": "disagree"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var res struct {
		Vote struct {
			ID string `json:"id"`
		} `json:"vote"`
	}
	decode(t, rec, &res)

	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, votesPath, h.users[0].ID, map[string]string{"voteType": "agree"}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, h.do(http.MethodPost, votesPath, h.users[1].ID, map[string]string{"voteType": "yes"}).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/v1/polls/nope/votes", h.users[1].ID, map[string]string{"voteType": "agree"}).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPut, votesPath+"/"+res.Vote.ID, h.users[1].ID, map[string]string{"voteType": "agree"}).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodDelete, votesPath+"/"+res.Vote.ID, h.users[1].ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, votesPath+"/missing", h.users[0].ID, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPut, votesPath+"/"+res.Vote.ID, h.users[0].ID, map[string]string{"voteType": "abstain"}).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodDelete, votesPath+"/"+res.Vote.ID, h.users[0].ID, nil).Code)

	outsider := types.User{Name: "outsider"}
	require.NoError(t, h.db.Create(&outsider).Error)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, votesPath, outsider.ID, map[string]string{"voteType": "agree"}).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/v1/polls/"+pollID, outsider.ID, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/v1/channels/"+h.channel.ID+"/polls", outsider.ID, nil).Code)
}

func TestCreateValidationAndList(t *testing.T) {
	h := newHarness(t, 2)
	path := "/v1/channels/" + h.channel.ID + "/polls"

	rec := h.do(http.MethodPost, path, h.users[0].ID, map[string]interface{}{"pollType": "poll", "body": "q", "options": []string{"only"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var verr struct {
		Field string `json:"field"`
	}
	decode(t, rec, &verr)
	assert.Equal(t, "options", verr.Field)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, path, h.users[0].ID, map[string]interface{}{"body": "no type"}).Code)

	pollID := h.createProposal(h.users[0].ID, map[string]interface{}{"pollType": "poll", "body": "Lunch?", "options": []string{"pizza", "tacos"}})
	h.createProposal(h.users[0].ID, map[string]interface{}{"pollType": "proposal", "body": "second"})

	rec = h.do(http.MethodGet, path+"?limit=10", h.users[1].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Polls []struct {
			ID      string `json:"id"`
			Options []struct {
				ID string `json:"id"`
			} `json:"options"`
		} `json:"polls"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Polls, 2)

	var optionID string
	for _, p := range list.Polls {
		if p.ID == pollID {
			require.Len(t, p.Options, 2)
			optionID = p.Options[0].ID
		}
	}
	require.NotEmpty(t, optionID)

	rec = h.do(http.MethodPost, "/v1/polls/"+pollID+"/votes", h.users[1].ID, map[string]string{"pollOptionId": optionID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, "/v1/polls/"+pollID+"/options/"+optionID+"/voters", h.users[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var voters struct {
		Voters []struct {
			ID string `json:"id"`
		} `json:"voters"`
	}
	decode(t, rec, &voters)
	require.Len(t, voters.Voters, 1)
	assert.Equal(t, h.users[1].ID, voters.Voters[0].ID)
}

func TestServerConfigAdminOnly(t *testing.T) {
	h := newHarness(t, 2)
	require.NoError(t, h.db.Model(&types.User{}).Where("id = ?", h.users[0].ID).Update("is_admin", true).Error)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/server-config", h.users[1].ID, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPut, "/v1/server-config", h.users[1].ID, map[string]int{"ratificationThreshold": 60}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, h.do(http.MethodPut, "/v1/server-config", h.users[0].ID, map[string]interface{}{
		"decisionMakingModel": "majority-vote", "ratificationThreshold": 40,
	}).Code)

	rec := h.do(http.MethodPut, "/v1/server-config", h.users[0].ID, map[string]int{"ratificationThreshold": 60})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ServerConfig struct {
			RatificationThreshold int `json:"ratificationThreshold"`
		} `json:"serverConfig"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 60, resp.ServerConfig.RatificationThreshold)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"))
}
