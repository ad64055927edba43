package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Syklic/basictradingsoftware/internal/events"
)

type signalRequest struct {
	Symbol     string  `json:"symbol" binding:"required,min=1"`
	Side       string  `json:"side" binding:"required,oneof=BUY SELL buy sell"`
	Confidence float64 `json:"confidence" binding:"gte=0,lte=1"`
	Model      string  `json:"model"`
}

type credentialsRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

type stakeRequest struct {
	Asset  string `json:"asset" binding:"required,min=1"`
	Amount string `json:"amount" binding:"required,min=1"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// getSystemStatus exposes runtime mode and venue roster for the dashboard.
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"mode":        s.Meta.TradingMode,
		"venues":      s.Meta.Venues,
		"symbol":      s.Meta.Symbol,
		"model":       s.Meta.Model,
		"instance_id": s.Meta.InstanceID,
		"version":     s.Meta.Version,
		"server_time": time.Now().UTC(),
	})
}

// getMetrics returns system performance metrics.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// getPositions returns the engine's position book.
func (s *Server) getPositions(c *gin.Context) {
	if s.Engine == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "engine not available")
		return
	}
	c.JSON(http.StatusOK, s.Engine.SnapshotPositions())
}

// postSignal injects a trade signal, as if a model had produced it.
func (s *Server) postSignal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	payload := events.Payload{
		"symbol":     strings.ToUpper(req.Symbol),
		"side":       strings.ToUpper(req.Side),
		"confidence": req.Confidence,
		"model":      req.Model,
	}
	if err := s.Bus.Publish(c.Request.Context(), events.SignalGenerated, payload); err != nil {
		s.Logger.Warn("signal delivery failed", zap.Error(err))
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// cancelOrder requests cancellation of an open order across all venues.
func (s *Server) cancelOrder(c *gin.Context) {
	orderID := c.Param("id")
	if orderID == "" {
		respondError(c, http.StatusBadRequest, "MISSING_ORDER_ID", "order id is required")
		return
	}
	if err := s.Bus.Publish(c.Request.Context(), events.OrderCancel, events.Payload{"order_id": orderID}); err != nil {
		s.Logger.Warn("cancel delivery failed", zap.String("order_id", orderID), zap.Error(err))
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "order_id": orderID})
}

// putCredentials stores venue credentials and notifies running adapters.
func (s *Server) putCredentials(c *gin.Context) {
	venueName := strings.ToLower(strings.TrimSpace(c.Param("venue")))
	if venueName == "" {
		respondError(c, http.StatusBadRequest, "MISSING_VENUE", "venue is required")
		return
	}
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if s.Store != nil {
		if err := s.Store.Set(venueName, req.APIKey, req.APISecret); err != nil {
			respondError(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
			return
		}
	}
	payload := events.Payload{
		"venue":      venueName,
		"api_key":    req.APIKey,
		"api_secret": req.APISecret,
	}
	if err := s.Bus.Publish(c.Request.Context(), events.CredentialsUpdated, payload); err != nil {
		s.Logger.Warn("credentials update delivery failed", zap.String("venue", venueName), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "venue": venueName})
}

func (s *Server) stake(c *gin.Context) {
	s.publishStaking(c, events.StakingRequested)
}

func (s *Server) unstake(c *gin.Context) {
	s.publishStaking(c, events.StakingUnstakeRequested)
}

func (s *Server) publishStaking(c *gin.Context, eventType string) {
	var req stakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	payload := events.Payload{
		"asset":  strings.ToUpper(req.Asset),
		"amount": req.Amount,
	}
	if err := s.Bus.Publish(c.Request.Context(), eventType, payload); err != nil {
		s.Logger.Warn("staking delivery failed", zap.String("asset", req.Asset), zap.Error(err))
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "asset": strings.ToUpper(req.Asset)})
}
