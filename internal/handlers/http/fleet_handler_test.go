package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelfleet/internal/core/domain"
)

type stubPlacement struct {
	placement domain.Placement
	err       error
	units     []domain.CapacityUnit
}

func (s *stubPlacement) GetAvailableUnit() (domain.Placement, error) {
	return s.placement, s.err
}

func (s *stubPlacement) Units() []domain.CapacityUnit {
	return s.units
}

func setupFleetRouter(placement *stubPlacement) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewFleetHandler(placement).SetupRoutes(router)
	return router
}

func TestGetSignallingServer_ReturnsPlacement(t *testing.T) {
	router := setupFleetRouter(&stubPlacement{
		placement: domain.Placement{Address: "10.0.0.5", Port: 8888},
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/signallingserver", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "10.0.0.5", body["address"])
	assert.Equal(t, float64(8888), body["port"])
}

func TestGetSignallingServer_NoUnitsIsRetryLater(t *testing.T) {
	router := setupFleetRouter(&stubPlacement{err: domain.ErrNoAvailableUnits})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/signallingserver", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(5), body["retry_after_seconds"])
	assert.NotEmpty(t, body["error"])
}

func TestListUnits(t *testing.T) {
	now := time.Now()
	router := setupFleetRouter(&stubPlacement{
		units: []domain.CapacityUnit{
			{
				ID:               "unit-1",
				Address:          "10.0.0.5",
				Port:             8888,
				Ready:            true,
				LastPingReceived: now,
			},
			{
				ID:                  "unit-2",
				Address:             "10.0.0.6",
				Port:                8888,
				Ready:               true,
				NumConnectedClients: 1,
				LastPingReceived:    now,
				LastClaimedAt:       now,
			},
		},
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/units", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count int `json:"count"`
		Units []struct {
			Address       string `json:"address"`
			Available     bool   `json:"available"`
			LastClaimedAt string `json:"last_claimed_at"`
		} `json:"units"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)

	byAddress := map[string]bool{}
	for _, u := range body.Units {
		byAddress[u.Address] = u.Available
	}
	assert.True(t, byAddress["10.0.0.5"], "idle ready unit must be available")
	assert.False(t, byAddress["10.0.0.6"], "occupied unit must not be available")
}

func TestFleetHealth(t *testing.T) {
	router := setupFleetRouter(&stubPlacement{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
