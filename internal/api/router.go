package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"binwatch-backend/config"
	"binwatch-backend/internal/mw"
	"binwatch-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, s store.Store, db *gorm.DB, tracker ActivityTracker, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, db, tracker, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Short TTL: bin documents change with every sensor reading.
	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	handler.binCache = cacheStore
	caching := mw.Cache(cacheStore, cacheTTL, binRequestKey)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Device ingestion
		api.POST("/bins/:location/:id/heartbeat", handler.PostHeartbeat)
		api.POST("/bins/:location/:id/distance", handler.PostDistance)

		api.GET("/bins/:location/:id", caching, handler.GetBin)
		api.GET("/liveness", handler.GetLiveness)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
