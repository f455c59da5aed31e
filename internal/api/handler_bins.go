package api

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"binwatch-backend/internal/liveness"
	"binwatch-backend/internal/parse"
	"binwatch-backend/internal/store"
)

type distanceRequest struct {
	Distance  *float64 `json:"distance" binding:"required"`
	FillLevel *int     `json:"fillLevel" binding:"omitempty,min=0,max=100"`
	BinType   string   `json:"binType"`
}

// binParams reads and validates the :location and :id path parameters, and
// maps the location onto its stored spelling.
func (h *Handler) binParams(c *gin.Context) (string, string, bool) {
	location, id := c.Param("location"), c.Param("id")
	if parse.ValidatePart(location) != nil || parse.ValidatePart(id) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location or device id"})
		return "", "", false
	}
	return h.resolveLocation(c.Request.Context(), location), id, true
}

func (h *Handler) resolveLocation(ctx context.Context, location string) string {
	resolved, err := h.store.ResolveLocation(ctx, location)
	if err != nil {
		log.Printf("Warning: could not resolve location %q: %v", location, err)
		return location
	}
	return resolved
}

// PostHeartbeat handles POST /api/bins/:location/:id/heartbeat.
func (h *Handler) PostHeartbeat(c *gin.Context) {
	location, id, ok := h.binParams(c)
	if !ok {
		return
	}

	h.tracker.RecordActivity(location, id, liveness.KindHeartbeat)
	c.JSON(http.StatusAccepted, gin.H{"location": location, "deviceId": id})
}

// PostDistance handles POST /api/bins/:location/:id/distance.
func (h *Handler) PostDistance(c *gin.Context) {
	location, id, ok := h.binParams(c)
	if !ok {
		return
	}

	var req distanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	// The device is alive whether or not the reading can be stored.
	h.tracker.RecordActivity(location, id, liveness.KindSensorDistance)

	fields := map[string]any{store.FieldDistance: *req.Distance}
	if req.FillLevel != nil {
		fields[store.FieldFillLevel] = *req.FillLevel
	}
	if req.BinType != "" {
		fields[store.FieldBinType] = req.BinType
	}
	path := parse.JoinPath(location, id)
	if err := h.store.UpdateFields(c.Request.Context(), path, fields); err != nil {
		log.Printf("Error storing reading for %s: %v", path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store reading"})
		return
	}
	h.forgetBin(location, id)

	c.JSON(http.StatusAccepted, gin.H{"location": location, "deviceId": id})
}

// GetBin handles GET /api/bins/:location/:id.
func (h *Handler) GetBin(c *gin.Context) {
	location, id, ok := h.binParams(c)
	if !ok {
		return
	}

	doc, err := h.store.ReadDocument(c.Request.Context(), parse.JoinPath(location, id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read bin"})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bin not found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// GetLiveness handles GET /api/liveness, a read-only view of the tracker.
func (h *Handler) GetLiveness(c *gin.Context) {
	devices := h.tracker.Snapshot()
	online := 0
	for _, d := range devices {
		if d.Online {
			online++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"tracked": len(devices),
		"online":  online,
	})
}
