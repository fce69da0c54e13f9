// internal/web/notification_handlers.go
package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const testNotificationTimeout = 30 * time.Second

type NotificationSettings struct {
	CooldownMinutes float64          `json:"cooldown_minutes"`
	RuleResults     bool             `json:"rule_results"`
	Telegram        TelegramSettings `json:"telegram"`
}

type TelegramSettings struct {
	Enabled       bool    `json:"enabled"`
	Configured    bool    `json:"configured"`
	Token         string  `json:"token"`
	ChatID        string  `json:"chat_id"`
	RatePerSecond float64 `json:"rate_per_second"`
}

// GET /api/settings/notifications - secrets are masked
func (s *Server) getNotificationSettings(c *gin.Context) {
	tg := s.config.Notifications.Telegram

	settings := NotificationSettings{
		CooldownMinutes: s.engine.AlertCooldown().Minutes(),
		RuleResults:     s.engine.RuleResultsEnabled(),
		Telegram: TelegramSettings{
			Enabled:       tg.Enabled,
			Configured:    tg.Configured(),
			Token:         maskToken(tg.Token),
			ChatID:        maskToken(tg.ChatID),
			RatePerSecond: tg.RatePerSecond,
		},
	}

	c.JSON(http.StatusOK, gin.H{"data": settings})
}

// POST /api/notifications/test
func (s *Server) sendTestNotification(c *gin.Context) {
	if !s.config.Notifications.Telegram.Configured() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Telegram notifications are not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), testNotificationTimeout)
	defer cancel()

	if err := s.engine.SendTestNotification(ctx); err != nil {
		logrus.WithError(err).Error("Failed to send test notification")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send test notification: " + err.Error()})
		return
	}

	logrus.Info("Test notification sent successfully")
	c.JSON(http.StatusOK, gin.H{
		"message":   "Test notification sent successfully",
		"timestamp": time.Now(),
	})
}

// maskToken masks sensitive tokens for API responses
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
