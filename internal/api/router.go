package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"cryoqueue-backend/config"
	"cryoqueue-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger(log))

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Read endpoints are cached briefly per caller; any successful write
	// drops the whole cache so queues are never served stale after a change.
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

	authed := api.Group("")
	authed.Use(Identity(), rateLimiter, mw.FlushOnWrite(cacheStore))
	{
		authed.GET("/machines", caching, h.ListMachines)
		authed.GET("/machines/:id/queue", caching, h.GetMachineQueue)
		authed.POST("/machines", h.CreateMachine)
		authed.PUT("/machines/:id/availability", h.SetMachineAvailability)
		authed.DELETE("/machines/:id", h.DeleteMachine)

		authed.POST("/entries", h.SubmitEntry)
		authed.POST("/entries/match-preview", h.PreviewMatch)
		authed.GET("/entries", h.ListEntries)
		authed.GET("/entries/:id", h.GetEntry)
		authed.POST("/entries/:id/check-in", h.transition(h.svc.CheckIn))
		authed.POST("/entries/:id/check-out", h.transition(h.svc.CheckOut))
		authed.POST("/entries/:id/undo-check-in", h.transition(h.svc.UndoCheckIn))
		authed.POST("/entries/:id/cancel", h.CancelEntry)
		authed.POST("/entries/:id/move-up", h.transition(h.svc.MoveUp))
		authed.POST("/entries/:id/move-down", h.transition(h.svc.MoveDown))
		authed.PUT("/entries/:id/position", h.SetPosition)
		authed.POST("/entries/:id/move-to-front", h.transition(h.svc.MoveToFront))
		authed.POST("/entries/:id/reassign", h.Reassign)
		authed.POST("/entries/:id/rush", h.transition(h.svc.RequestRush))
		authed.POST("/entries/:id/rush/approve", h.transition(h.svc.ApproveRush))
		authed.POST("/entries/:id/rush/reject", h.transition(h.svc.RejectRush))
		authed.POST("/entries/:id/snooze-checkout", h.transition(h.svc.SnoozeCheckout))
		authed.POST("/entries/:id/snooze-checkin", h.transition(h.svc.SnoozeCheckin))

		authed.GET("/notifications", h.ListNotifications)
		authed.POST("/notifications/:id/read", h.MarkNotificationRead)
		authed.POST("/notifications/read-all", h.MarkAllNotificationsRead)

		authed.GET("/subscriptions", h.GetSubscription)
		authed.PUT("/subscriptions", h.PutSubscription)
		authed.DELETE("/subscriptions", h.DeleteSubscription)
	}

	return r
}
