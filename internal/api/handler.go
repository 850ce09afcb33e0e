package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"cryoqueue-backend/internal/clock"
	"cryoqueue-backend/internal/lifecycle"
	"cryoqueue-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	svc        *lifecycle.Service
	webpush    *webpush.Options
	clock      clock.Clock
	staleAfter time.Duration
}

// NewHandler creates a new API handler. staleAfter bounds how old a cached
// temperature may be before it is reported as unknown.
func NewHandler(s store.Store, svc *lifecycle.Service, webpushOptions *webpush.Options, c clock.Clock, staleAfter time.Duration) *Handler {
	if c == nil {
		c = clock.Real{}
	}
	if staleAfter <= 0 {
		staleAfter = 60 * time.Second
	}
	return &Handler{
		store:      s,
		svc:        svc,
		webpush:    webpushOptions,
		clock:      c,
		staleAfter: staleAfter,
	}
}
