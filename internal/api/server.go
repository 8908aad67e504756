// Package api exposes a read-only HTTP surface over the engine: campaigns,
// signals and the portfolio risk snapshot. It never mutates engine state.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"wyckoff-scanner/internal/campaign"
	"wyckoff-scanner/internal/engine"
	"wyckoff-scanner/internal/risk"
	"wyckoff-scanner/internal/store"
)

// Config holds HTTP server settings.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins string // Comma-separated, "*" for any
}

// Server serves the read-only API.
type Server struct {
	cfg       Config
	engine    *engine.Engine
	campaigns *campaign.Manager
	riskCalc  *risk.Calculator
	repo      *store.Repository // Optional; history endpoints 404 without it
	logger    zerolog.Logger
	httpSrv   *http.Server
}

// NewServer creates the API server. repo may be nil when persistence is
// disabled.
func NewServer(
	cfg Config,
	eng *engine.Engine,
	campaigns *campaign.Manager,
	riskCalc *risk.Calculator,
	repo *store.Repository,
	logger zerolog.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		engine:    eng,
		campaigns: campaigns,
		riskCalc:  riskCalc,
		repo:      repo,
		logger:    logger.With().Str("component", "APIServer").Logger(),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.corsMiddleware())

	router.GET("/health", s.handleHealth)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/campaigns", s.handleCampaigns)
		v1.GET("/campaigns/:id", s.handleCampaign)
		v1.GET("/signals", s.handleSignals)
		v1.GET("/portfolio/risk", s.handlePortfolioRisk)
		v1.GET("/history/:symbol", s.handleHistory)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().Str("addr", addr).Msg("API server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server failed")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if s.cfg.AllowedOrigins == "" || s.cfg.AllowedOrigins == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = strings.Split(s.cfg.AllowedOrigins, ",")
	}
	cfg.AllowMethods = []string{"GET", "OPTIONS"}
	return cors.New(cfg)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleCampaigns(c *gin.Context) {
	var out []*campaign.Campaign
	if c.Query("state") == "open" {
		out = s.campaigns.Open()
	} else {
		out = s.campaigns.All()
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": out, "count": len(out)})
}

func (s *Server) handleCampaign(c *gin.Context) {
	id := c.Param("id")
	cmp, ok := s.campaigns.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	c.JSON(http.StatusOK, cmp)
}

func (s *Server) handleSignals(c *gin.Context) {
	signals := s.engine.Signals()
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

func (s *Server) handlePortfolioRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.riskCalc.Snapshot())
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "persistence disabled"})
		return
	}
	symbol := c.Param("symbol")
	history, err := s.repo.CampaignHistory(c.Request.Context(), symbol, 50)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("History query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "campaigns": history})
}
