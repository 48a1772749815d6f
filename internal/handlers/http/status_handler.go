package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pixelfleet/internal/core/ports"
)

// StatusHandler serves read-only inspection of one capacity unit's
// signalling relay.
type StatusHandler struct {
	relay ports.RelayInspector
}

func NewStatusHandler(relay ports.RelayInspector) *StatusHandler {
	return &StatusHandler{relay: relay}
}

func (h *StatusHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/streamers", h.ListStreamers)
		api.GET("/players", h.ListPlayers)
	}
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (h *StatusHandler) ListStreamers(c *gin.Context) {
	streamers := h.relay.StreamerSummaries()
	c.JSON(http.StatusOK, gin.H{"streamers": streamers, "count": len(streamers)})
}

func (h *StatusHandler) ListPlayers(c *gin.Context) {
	players := h.relay.PlayerSummaries()
	c.JSON(http.StatusOK, gin.H{"players": players, "count": len(players)})
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"streamers": len(h.relay.StreamerSummaries()),
		"players":   len(h.relay.PlayerSummaries()),
	})
}
