package webserver

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/stake-plus/govdecisions/src/polls"
	"github.com/stake-plus/govdecisions/src/serverconfig"
	"github.com/stake-plus/govdecisions/src/votes"
)

// respondErr maps domain errors onto status codes.
func respondErr(c *gin.Context, err error) {
	var (
		pollErr *polls.ValidationError
		voteErr *votes.ValidationError
		cfgErr  *serverconfig.ValidationError
	)
	switch {
	case errors.As(err, &pollErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"err": pollErr.Error(), "field": pollErr.Field})
	case errors.As(err, &voteErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"err": voteErr.Error(), "field": voteErr.Field})
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"err": cfgErr.Error(), "field": cfgErr.Field})
	case errors.Is(err, polls.ErrNotVoting):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"err": err.Error()})
	case errors.Is(err, votes.ErrAlreadyVoted):
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
	case errors.Is(err, polls.ErrNotFound), errors.Is(err, votes.ErrNotFound), errors.Is(err, votes.ErrOptionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
	case errors.Is(err, polls.ErrNotMember), errors.Is(err, votes.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"err": err.Error()})
	default:
		log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"err": "internal error"})
	}
}
