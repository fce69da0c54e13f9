// internal/drivers/mikrotik.go - RouterOS REST driver
package drivers

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"monite/internal/config"
	"monite/internal/database"
)

// MikroTikDriver talks to RouterOS v7 over its /rest API with basic auth.
type MikroTikDriver struct {
	cfg    config.MikroTikConfig
	client *http.Client
}

func NewMikroTikDriver(cfg config.MikroTikConfig) *MikroTikDriver {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &MikroTikDriver{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

func (d *MikroTikDriver) SupportedActions() []string {
	return []string{ActionTopupBalance, ActionQueryBalance, ActionReadUSSDLogs}
}

func (d *MikroTikDriver) Validate(ctx context.Context, host *database.Host) error {
	_, err := d.do(ctx, host, http.MethodGet, "/system/resource", nil)
	if err != nil {
		return err
	}

	logrus.WithField("host_id", host.ID).Debug("RouterOS host validated")
	return nil
}

func (d *MikroTikDriver) ExecuteAction(ctx context.Context, host *database.Host, actionKey string, params map[string]interface{}) (*Result, error) {
	switch NormalizeAction(actionKey) {
	case ActionTopupBalance:
		return d.sendUSSD(ctx, host, d.cfg.TopupCode)

	case ActionQueryBalance:
		return d.sendUSSD(ctx, host, d.cfg.BalanceCode)

	case ActionReadUSSDLogs:
		return d.readUSSDLogs(ctx, host)

	default:
		return nil, unsupported(TypeMikroTikREST, actionKey)
	}
}

func (d *MikroTikDriver) sendUSSD(ctx context.Context, host *database.Host, code string) (*Result, error) {
	payload := map[string]string{
		"port":         d.cfg.USSDPort,
		"phone-number": code,
		"message":      "",
		"type":         "ussd",
	}

	body, err := d.do(ctx, host, http.MethodPost, "/tool/sms/send", payload)
	if err != nil {
		return nil, err
	}

	return &Result{
		Raw:    string(body),
		Parsed: map[string]interface{}{"ussd_code": code, "sent": true},
	}, nil
}

// readUSSDLogs keeps only log records whose message mentions USSD.
func (d *MikroTikDriver) readUSSDLogs(ctx context.Context, host *database.Host) (*Result, error) {
	body, err := d.do(ctx, host, http.MethodGet, "/log", nil)
	if err != nil {
		return nil, err
	}

	logs := gjson.ParseBytes(body)
	if !logs.IsArray() {
		return nil, transportErr("read logs", fmt.Errorf("unexpected /log payload"))
	}

	var entries []string
	var messages []string
	logs.ForEach(func(_, entry gjson.Result) bool {
		msg := entry.Get("message")
		if msg.Type == gjson.String && strings.Contains(strings.ToLower(msg.String()), "ussd") {
			entries = append(entries, entry.Raw)
			messages = append(messages, msg.String())
		}
		return true
	})

	parsed := ParseUSSDMessages(messages)
	parsed["count"] = len(messages)

	return &Result{
		Raw:    "[" + strings.Join(entries, ",") + "]",
		Parsed: parsed,
	}, nil
}

func (d *MikroTikDriver) baseURL(host *database.Host) string {
	port := host.Port
	if port == 0 {
		port = 80
		if d.cfg.Scheme == "https" {
			port = 443
		}
	}
	return fmt.Sprintf("%s://%s/rest", d.cfg.Scheme, net.JoinHostPort(host.IP, strconv.Itoa(port)))
}

func (d *MikroTikDriver) do(ctx context.Context, host *database.Host, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, transportErr(path, fmt.Errorf("failed to marshal request: %w", err))
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL(host)+path, reqBody)
	if err != nil {
		return nil, transportErr(path, fmt.Errorf("failed to create request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if host.Username != "" || host.Password != "" {
		req.SetBasicAuth(host.Username, host.Password)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, transportErr(path, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportErr(path, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &DriverError{Kind: KindAuth, Op: path, Err: fmt.Errorf("router rejected credentials (status %d)", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, transportErr(path, fmt.Errorf("router returned status %d: %s", resp.StatusCode, routerOSError(body)))
	}

	return body, nil
}

// routerOSError pulls the human-readable part out of a RouterOS error body.
func routerOSError(body []byte) string {
	for _, field := range []string{"detail", "message"} {
		if v := gjson.GetBytes(body, field); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
