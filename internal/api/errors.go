package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"cryoqueue-backend/internal/lifecycle"
	"cryoqueue-backend/internal/store"
)

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var pe *lifecycle.PreconditionError
	switch {
	case errors.As(err, &pe):
		c.JSON(http.StatusConflict, gin.H{"error": pe.Reason, "op": pe.Op})
	case errors.Is(err, lifecycle.ErrInvalidRequest):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not permitted"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
