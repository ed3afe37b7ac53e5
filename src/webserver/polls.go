package webserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/govdecisions/src/channels"
	"github.com/stake-plus/govdecisions/src/participants"
	"github.com/stake-plus/govdecisions/src/polls"
	"github.com/stake-plus/govdecisions/src/types"
)

type Polls struct {
	store        *polls.Store
	members      channels.Membership
	participants participants.Source
}

func NewPolls(deps Deps) Polls {
	return Polls{store: deps.Polls, members: deps.Members, participants: deps.Participants}
}

type actionRequest struct {
	ActionType  types.PollActionType `json:"actionType"`
	RoleID      *string              `json:"roleId"`
	Name        *string              `json:"name"`
	Color       *string              `json:"color"`
	Permissions []struct {
		Action     types.AbilityAction  `json:"action"`
		Subject    types.AbilitySubject `json:"subject"`
		ChangeType types.ChangeType     `json:"changeType"`
	} `json:"permissions"`
	Members []struct {
		UserID     string           `json:"userId"`
		ChangeType types.ChangeType `json:"changeType"`
	} `json:"members"`
}

func (p Polls) Create(c *gin.Context) {
	var req struct {
		Body           string         `json:"body"`
		PollType       types.PollType `json:"pollType" binding:"required"`
		Options        []string       `json:"options"`
		MultipleChoice bool           `json:"multipleChoice"`
		ClosingAt      *time.Time     `json:"closingAt"`
		Action         *actionRequest `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	in := polls.CreateInput{
		ChannelID:      c.Param("channelId"),
		UserID:         c.GetString(ctxUserID),
		Body:           req.Body,
		PollType:       req.PollType,
		Options:        req.Options,
		MultipleChoice: req.MultipleChoice,
		ClosingAt:      req.ClosingAt,
	}
	if a := req.Action; a != nil {
		in.Action = &polls.ActionInput{ActionType: a.ActionType, RoleID: a.RoleID, Name: a.Name, Color: a.Color}
		for _, perm := range a.Permissions {
			in.Action.Permissions = append(in.Action.Permissions, polls.PermissionChange{
				Action: perm.Action, Subject: perm.Subject, ChangeType: perm.ChangeType,
			})
		}
		for _, m := range a.Members {
			in.Action.Members = append(in.Action.Members, polls.MemberChange{UserID: m.UserID, ChangeType: m.ChangeType})
		}
	}

	poll, err := p.store.Create(c.Request.Context(), in)
	if err != nil {
		respondErr(c, err)
		return
	}
	view, err := p.view(c, poll)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"poll": view})
}

func (p Polls) List(c *gin.Context) {
	ctx := c.Request.Context()
	channelID := c.Param("channelId")
	if err := p.requireMember(c, channelID); err != nil {
		respondErr(c, err)
		return
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	list, err := p.store.List(ctx, channelID, offset, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	count, err := p.participants.CountEligible(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}
	views := make([]polls.View, 0, len(list))
	for _, poll := range list {
		v, err := p.store.Project(ctx, poll, c.GetString(ctxUserID), count)
		if err != nil {
			respondErr(c, err)
			return
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"polls": views})
}

func (p Polls) Get(c *gin.Context) {
	poll, err := p.store.Get(c.Request.Context(), c.Param("pollId"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := p.requireMember(c, poll.ChannelID); err != nil {
		respondErr(c, err)
		return
	}
	view, err := p.view(c, poll)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"poll": view})
}

func (p Polls) view(c *gin.Context, poll types.Poll) (polls.View, error) {
	count, err := p.participants.CountEligible(c.Request.Context())
	if err != nil {
		return polls.View{}, err
	}
	return p.store.Project(c.Request.Context(), poll, c.GetString(ctxUserID), count)
}

func (p Polls) requireMember(c *gin.Context, channelID string) error {
	ok, err := p.members.IsMember(c.Request.Context(), channelID, c.GetString(ctxUserID))
	if err != nil {
		return err
	}
	if !ok {
		return polls.ErrNotMember
	}
	return nil
}
