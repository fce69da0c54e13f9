// internal/notifications/telegram.go - Telegram Bot API notifier
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"monite/internal/config"
)

const UserAgent = "MoniTe Router Monitor/1.0"

// Notifier delivers one message. It does not retry or queue; an error means
// the message was not delivered.
type Notifier interface {
	Post(ctx context.Context, text string) error
}

// NotificationError reports a failed delivery attempt
type NotificationError struct {
	StatusCode  int
	Description string
	Err         error
}

func (e *NotificationError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("notification failed: %v", e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("notification failed: status %d: %s", e.StatusCode, e.Description)
	default:
		return fmt.Sprintf("notification failed: %s", e.Description)
	}
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// TelegramNotifier posts to a single chat through the sendMessage method
type TelegramNotifier struct {
	cfg        config.TelegramConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// TelegramMessage represents the sendMessage request body
type TelegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

// TelegramResponse represents the API response
type TelegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewNotifier returns a Telegram notifier when credentials are present and a
// log-only notifier otherwise.
func NewNotifier(cfg config.TelegramConfig) Notifier {
	if !cfg.Configured() {
		logrus.Warn("Telegram not configured, alerts will only be logged")
		return &LogNotifier{}
	}
	return NewTelegramNotifier(cfg)
}

func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	burst := int(cfg.RatePerSecond)
	if burst < 1 {
		burst = 1
	}

	logrus.WithFields(logrus.Fields{
		"chat_id":         cfg.ChatID,
		"rate_per_second": cfg.RatePerSecond,
	}).Info("Telegram notifier initialized")

	return &TelegramNotifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
	}
}

func (tn *TelegramNotifier) endpoint() string {
	return fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(tn.cfg.APIURL, "/"), tn.cfg.Token)
}

// Post sends text to the configured chat
func (tn *TelegramNotifier) Post(ctx context.Context, text string) error {
	if err := tn.limiter.Wait(ctx); err != nil {
		return &NotificationError{Err: fmt.Errorf("rate limiter: %w", err)}
	}

	jsonData, err := json.Marshal(TelegramMessage{
		ChatID:                tn.cfg.ChatID,
		Text:                  text,
		DisableWebPagePreview: tn.cfg.DisablePreview,
	})
	if err != nil {
		return &NotificationError{Err: fmt.Errorf("failed to marshal message: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tn.endpoint(), bytes.NewBuffer(jsonData))
	if err != nil {
		return &NotificationError{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := tn.httpClient.Do(req)
	if err != nil {
		// The request URL embeds the bot token; keep it out of the error.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return &NotificationError{Err: fmt.Errorf("failed to reach Telegram API: %w", err)}
	}
	defer resp.Body.Close()

	var telegramResp TelegramResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&telegramResp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &NotificationError{StatusCode: resp.StatusCode, Description: telegramResp.Description}
	}
	if decodeErr != nil {
		return &NotificationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", decodeErr)}
	}
	if !telegramResp.OK {
		return &NotificationError{StatusCode: resp.StatusCode, Description: telegramResp.Description}
	}

	logrus.WithField("chars", len(text)).Debug("Telegram message sent")
	return nil
}

// LogNotifier writes messages to the log instead of delivering them
type LogNotifier struct{}

func (LogNotifier) Post(ctx context.Context, text string) error {
	logrus.WithField("notifier", "log").Info(text)
	return nil
}
