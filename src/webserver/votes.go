package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/govdecisions/src/ratification"
	"github.com/stake-plus/govdecisions/src/votes"
)

type Votes struct{ svc *votes.Service }

func NewVotes(deps Deps) Votes { return Votes{svc: deps.Votes} }

type ballotRequest struct {
	VoteType     ratification.VoteType `json:"voteType"`
	PollOptionID string                `json:"pollOptionId"`
}

func (r ballotRequest) ballot() votes.Ballot {
	return votes.Ballot{VoteType: r.VoteType, OptionID: r.PollOptionID}
}

func (v Votes) Cast(c *gin.Context) {
	var req ballotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	res, err := v.svc.Cast(c.Request.Context(), c.Param("pollId"), c.GetString(ctxUserID), req.ballot())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (v Votes) Change(c *gin.Context) {
	var req ballotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	res, err := v.svc.Change(c.Request.Context(), c.Param("pollId"), c.Param("voteId"), c.GetString(ctxUserID), req.ballot())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (v Votes) Retract(c *gin.Context) {
	res, err := v.svc.Retract(c.Request.Context(), c.Param("pollId"), c.Param("voteId"), c.GetString(ctxUserID))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (v Votes) Voters(c *gin.Context) {
	users, err := v.svc.VotersByOption(c.Request.Context(), c.Param("pollId"), c.Param("optionId"), c.GetString(ctxUserID))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voters": users})
}
