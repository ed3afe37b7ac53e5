package webserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/stake-plus/govdecisions/src/channels"
	"github.com/stake-plus/govdecisions/src/config"
	"github.com/stake-plus/govdecisions/src/metrics"
	"github.com/stake-plus/govdecisions/src/participants"
	"github.com/stake-plus/govdecisions/src/polls"
	"github.com/stake-plus/govdecisions/src/serverconfig"
	"github.com/stake-plus/govdecisions/src/votes"
	"gorm.io/gorm"
)

// Toucher is told about every decision-related request; the sweep uses it
// to stay armed while the instance is in use.
type Toucher interface {
	Touch()
}

type Deps struct {
	DB           *gorm.DB
	Polls        *polls.Store
	Votes        *votes.Service
	ServerConfig serverconfig.Service
	Participants participants.Source
	Members      channels.Membership
	Sweep        Toucher
	Metrics      *metrics.Metrics
}

func New(cfg config.HTTPConfig, deps Deps) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	attachRoutes(g, cfg, deps)
	return g
}

// Server runs the gin engine as a lifecycle module.
type Server struct {
	addr string
	srv  *http.Server
}

func NewServer(port string, handler http.Handler) *Server {
	addr := ":" + port
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Name() string { return "http" }

// Start binds the port synchronously so a busy port fails startup.
func (s *Server) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	log.Info("http listening", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", "err", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
}
