// internal/notifications/messages.go - alert kinds and message templates
package notifications

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"

	"monite/internal/database"
)

// Alert kinds. Health and action alerts never share a kind.
const (
	KindHostOffline         = "host_offline_confirmed"
	KindHostOnline          = "host_online"
	KindNoResponse          = "no_response"
	KindInsufficientBalance = "insufficient_balance"
	KindDailySummary        = "daily_summary"
)

// SeverityKind is the alert kind for a severity tier, e.g. "sev_critical".
func SeverityKind(tier string) string {
	return "sev_" + tier
}

// RuleResultKind is the alert kind for an automation rule's final outcome.
func RuleResultKind(ruleID int64, success bool) string {
	if success {
		return fmt.Sprintf("rule_%d_success", ruleID)
	}
	return fmt.Sprintf("rule_%d_fail", ruleID)
}

// HostEvent describes a health transition
type HostEvent struct {
	Host      *database.Host
	Error     string
	Window    int
	LatencyMs *float64
	At        time.Time
}

// ActionEvent describes the outcome of a device action
type ActionEvent struct {
	Host            *database.Host
	RuleID          int64
	ActionKey       string
	Tier            string
	DataRemainingMb *float64
	DaysValid       *int
	AccountBalance  *float64
	Attempt         int
	MaxAttempts     int
	Error           string
	At              time.Time
}

// HostCount pairs a host name with an occurrence count
type HostCount struct {
	Name  string
	Count int
}

// HostSeverity pairs a host name with its current severity tier
type HostSeverity struct {
	Name            string
	Tier            string
	DataRemainingMb *float64
	DaysValid       *int
}

// SummaryReport is the content of the daily digest
type SummaryReport struct {
	GeneratedAt      time.Time
	TotalHosts       int
	OfflineNow       []string
	OfflineEvents24h int
	FailedRuns24h    int
	Unstable         []HostCount
	Severity         []HostSeverity
}

var funcs = template.FuncMap{
	"num": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.2f", *v)
	},
	"int": func(v *int) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%d", *v)
	},
	"ts": func(t time.Time) string {
		return t.Format("2006-01-02 15:04 MST")
	},
	"upper": strings.ToUpper,
	"join":  strings.Join,
}

var templates = template.Must(template.New("alerts").Funcs(funcs).Parse(`
{{define "host_offline"}}🔴 MoniTe – Host offline
Host: {{.Host.Name}} ({{.Host.IP}})
Failed checks in a row: {{.Window}}
Last error: {{.Error}}
Time: {{ts .At}}{{end}}

{{define "host_online"}}🟢 MoniTe – Host back online
Host: {{.Host.Name}} ({{.Host.IP}})
Latency: {{num .LatencyMs}} ms
Time: {{ts .At}}{{end}}

{{define "severity"}}⚠️ MoniTe – {{upper .Tier}} severity
Host: {{.Host.Name}} ({{.Host.IP}})
Action: {{.ActionKey}}
Data remaining: {{num .DataRemainingMb}} MB
Days valid: {{int .DaysValid}}
Balance: {{num .AccountBalance}}
Time: {{ts .At}}{{end}}

{{define "insufficient_balance"}}💸 MoniTe – Insufficient balance
Host: {{.Host.Name}} ({{.Host.IP}})
Action: {{.ActionKey}}
Balance: {{num .AccountBalance}}
Time: {{ts .At}}{{end}}

{{define "no_response"}}❌ MoniTe – No response
Host: {{.Host.Name}} ({{.Host.IP}})
Action: {{.ActionKey}} failed after {{.Attempt}}/{{.MaxAttempts}} attempt(s)
Error: {{.Error}}
Time: {{ts .At}}{{end}}

{{define "rule_result"}}{{if .Error}}❌{{else}}✅{{end}} MoniTe – Automation #{{.RuleID}} {{if .Error}}failed{{else}}succeeded{{end}}
Host: {{.Host.Name}} ({{.Host.IP}})
Action: {{.ActionKey}}
Attempt: {{.Attempt}}/{{.MaxAttempts}}{{if .Error}}
Error: {{.Error}}{{end}}
Time: {{ts .At}}{{end}}

{{define "daily_summary"}}📊 MoniTe – Daily summary ({{ts .GeneratedAt}})
Hosts: {{.TotalHosts}}
Offline now: {{len .OfflineNow}}{{if .OfflineNow}} ({{join .OfflineNow ", "}}){{end}}
Offline checks (24h): {{.OfflineEvents24h}}
Failed runs (24h): {{.FailedRuns24h}}{{if .Unstable}}
Most unstable:{{range .Unstable}}
  • {{.Name}}: {{.Count}} offline checks{{end}}{{end}}{{if .Severity}}
Account severity:{{range .Severity}}
  • {{.Name}}: {{upper .Tier}} (data {{num .DataRemainingMb}} MB, {{int .DaysValid}} days){{end}}{{end}}{{end}}
`))

func render(name string, data interface{}) string {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		logrus.WithError(err).WithField("template", name).Error("Failed to render alert template")
		return fmt.Sprintf("MoniTe alert (%s)", name)
	}
	return buf.String()
}

func HostOfflineMessage(e HostEvent) string { return render("host_offline", e) }
func HostOnlineMessage(e HostEvent) string { return render("host_online", e) }
func SeverityMessage(e ActionEvent) string { return render("severity", e) }
func InsufficientBalanceMessage(e ActionEvent) string { return render("insufficient_balance", e) }
func NoResponseMessage(e ActionEvent) string { return render("no_response", e) }
func RuleResultMessage(e ActionEvent) string { return render("rule_result", e) }
func SummaryMessage(r SummaryReport) string { return render("daily_summary", r) }
