package webserver

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stake-plus/govdecisions/src/config"
)

func attachRoutes(r *gin.Engine, cfg config.HTTPConfig, deps Deps) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/healthz", health(deps))
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	pollH := NewPolls(deps)
	voteH := NewVotes(deps)
	cfgH := NewServerConfig(deps)

	v1 := r.Group("/v1")
	v1.Use(JWTMiddleware([]byte(cfg.JWTSecret)))
	if cfg.RateLimit > 0 {
		v1.Use(RateLimitMiddleware(NewRateLimiter(cfg.RateLimit, time.Minute)))
	}
	{
		decisions := v1.Group("")
		decisions.Use(touchMiddleware(deps.Sweep))
		decisions.POST("/channels/:channelId/polls", pollH.Create)
		decisions.GET("/channels/:channelId/polls", pollH.List)
		decisions.GET("/polls/:pollId", pollH.Get)
		decisions.POST("/polls/:pollId/votes", voteH.Cast)
		decisions.PUT("/polls/:pollId/votes/:voteId", voteH.Change)
		decisions.DELETE("/polls/:pollId/votes/:voteId", voteH.Retract)
		decisions.GET("/polls/:pollId/options/:optionId/voters", voteH.Voters)

		v1.GET("/server-config", cfgH.Get)
		v1.PUT("/server-config", AdminMiddleware(deps.DB), cfgH.Update)
	}
}

func health(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := deps.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "err": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func touchMiddleware(t Toucher) gin.HandlerFunc {
	return func(c *gin.Context) {
		if t != nil {
			t.Touch()
		}
		c.Next()
	}
}
