// internal/web/purge_handlers.go
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const purgeTimeout = 60 * time.Second

// POST /api/history/purge - runs the retention purge now
func (s *Server) purgeHistory(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), purgeTimeout)
	defer cancel()

	deleted, err := s.engine.PurgeHistory(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to purge history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "History purged successfully",
		"deleted":   deleted,
		"retention": s.config.Database.HistoryRetention.String(),
		"timestamp": time.Now(),
	})
}
