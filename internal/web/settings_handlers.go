// internal/web/settings_handlers.go
package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"monite/internal/database"
)

// GET /api/settings/severity
func (s *Server) getSeverityThresholds(c *gin.Context) {
	thresholds, err := s.store.GetSeverityThresholds(c.Request.Context())
	if err != nil {
		storeError(c, err, "severity thresholds")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": thresholds})
}

// PUT /api/settings/severity - takes effect on the next classified run
func (s *Server) updateSeverityThresholds(c *gin.Context) {
	var req database.SeverityThresholds
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.SetSeverityThresholds(c.Request.Context(), req); err != nil {
		storeError(c, err, "severity thresholds")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": req})
}

// GET /api/settings/summary-schedule
func (s *Server) getSummarySchedule(c *gin.Context) {
	schedule, err := s.store.GetDailySummarySchedule(c.Request.Context())
	if err != nil {
		storeError(c, err, "summary schedule")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": schedule})
}

// PUT /api/settings/summary-schedule - re-registers the digest job
func (s *Server) updateSummarySchedule(c *gin.Context) {
	var req database.DailySummarySchedule
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown timezone " + req.Timezone})
		return
	}

	ctx := c.Request.Context()
	if err := s.store.SetDailySummarySchedule(ctx, req); err != nil {
		storeError(c, err, "summary schedule")
		return
	}

	if err := s.engine.Scheduler().RescheduleDailySummary(ctx); err != nil {
		logrus.WithError(err).Error("Failed to reschedule daily summary")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Schedule saved but not applied"})
		return
	}

	logrus.WithFields(logrus.Fields{
		"enabled":  req.Enabled,
		"hour":     req.Hour,
		"minute":   req.Minute,
		"timezone": req.Timezone,
	}).Info("Daily summary schedule updated")

	c.JSON(http.StatusOK, gin.H{"data": req})
}
