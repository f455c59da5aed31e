package api

import (
	"strings"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"binwatch-backend/internal/liveness"
	"binwatch-backend/internal/parse"
	"binwatch-backend/internal/store"
)

// ActivityTracker is the part of the liveness tracker the handlers use.
type ActivityTracker interface {
	RecordActivity(location, id string, kind liveness.Kind)
	Snapshot() []liveness.DeviceStatus
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	db      *gorm.DB
	tracker ActivityTracker
	webpush *webpush.Options

	// binCache holds GetBin responses; nil disables eviction.
	binCache *cache.Cache
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, db *gorm.DB, tracker ActivityTracker, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:   s,
		db:      db,
		tracker: tracker,
		webpush: webpushOptions,
	}
}

// binCacheKey is the GetBin cache key. Locations resolve case-insensitively,
// so every spelling of one bin maps to the same entry.
func binCacheKey(location, id string) string {
	return "bin:" + strings.ToLower(location) + "/" + id
}

// binRequestKey keys a GetBin request, bypassing the cache for malformed paths.
func binRequestKey(c *gin.Context) string {
	location, id := c.Param("location"), c.Param("id")
	if parse.ValidatePart(location) != nil || parse.ValidatePart(id) != nil {
		return ""
	}
	return binCacheKey(location, id)
}

// forgetBin drops a cached GetBin response after the bin's document changed.
func (h *Handler) forgetBin(location, id string) {
	if h.binCache != nil {
		h.binCache.Delete(binCacheKey(location, id))
	}
}
