package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/govdecisions/src/serverconfig"
)

type ServerConfig struct{ svc serverconfig.Service }

func NewServerConfig(deps Deps) ServerConfig { return ServerConfig{svc: deps.ServerConfig} }

func (s ServerConfig) Get(c *gin.Context) {
	cfg, err := s.svc.Get(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"serverConfig": cfg})
}

func (s ServerConfig) Update(c *gin.Context) {
	var patch serverconfig.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	cfg, err := s.svc.Update(c.Request.Context(), patch)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"serverConfig": cfg})
}
