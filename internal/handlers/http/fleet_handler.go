package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pixelfleet/internal/core/domain"
	"pixelfleet/internal/core/ports"
	"pixelfleet/pkg/tracing"
)

// FleetHandler serves viewer placement and the operational control
// room view over the matchmaker's unit table.
type FleetHandler struct {
	placement ports.PlacementService
}

func NewFleetHandler(placement ports.PlacementService) *FleetHandler {
	return &FleetHandler{placement: placement}
}

func (h *FleetHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/signallingserver", h.GetSignallingServer)
		api.GET("/units", h.ListUnits)
	}
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// GetSignallingServer claims an available unit for the caller. With
// nothing available the viewer gets a retry-later answer, never an
// error page.
func (h *FleetHandler) GetSignallingServer(c *gin.Context) {
	ctx, span := tracing.TracePlacement(c.Request.Context())
	defer span.End()

	placement, err := h.placement.GetAvailableUnit()
	if err != nil {
		if errors.Is(err, domain.ErrNoAvailableUnits) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":               "no signalling servers available",
				"retry_after_seconds": 5,
			})
			return
		}
		tracing.RecordError(ctx, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		tracing.UnitAddressKey.String(placement.Address),
		tracing.UnitPortKey.Int(placement.Port),
	)
	c.JSON(http.StatusOK, gin.H{
		"address": placement.Address,
		"port":    placement.Port,
	})
}

// ListUnits is the unauthenticated control-room read of all unit
// records.
func (h *FleetHandler) ListUnits(c *gin.Context) {
	units := h.placement.Units()
	out := make([]gin.H, 0, len(units))
	for _, u := range units {
		entry := gin.H{
			"address":           u.Address,
			"port":              u.Port,
			"ready":             u.Ready,
			"connected_clients": u.NumConnectedClients,
			"available":         u.Available(),
			"last_ping":         u.LastPingReceived.Format(time.RFC3339),
		}
		if !u.LastClaimedAt.IsZero() {
			entry["last_claimed_at"] = u.LastClaimedAt.Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"units": out, "count": len(out)})
}

func (h *FleetHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"units":     len(h.placement.Units()),
	})
}
