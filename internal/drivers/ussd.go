package drivers

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	dataPattern         = regexp.MustCompile(`(?i)(\d+[.,]?\d*)\s*(GB|MB)`)
	validityPattern     = regexp.MustCompile(`(?i)(\d+)\s*d[ií]as`)
	balancePattern      = regexp.MustCompile(`(?i)saldo:\s*([\d.]+)`)
	insufficientPattern = regexp.MustCompile(`(?i)saldo\s+insuficiente`)

	// Busybox syslog prefix, e.g. "Sat Dec 27 07:00:30 2025 user.notice USSD: ..."
	syslogPattern = regexp.MustCompile(`^(\w{3}\s+\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}\s+\d{4})\s+(.*)$`)
)

// ParseUSSDMessages extracts account telemetry from USSD replies given
// oldest first. The newest message carrying a value wins for each field;
// an insufficient-balance phrase anywhere in the batch sets the flag.
func ParseUSSDMessages(messages []string) map[string]interface{} {
	parsed := map[string]interface{}{
		KeyInsufficientBalance: false,
	}

	var haveData, haveDays, haveBalance bool
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]

		if insufficientPattern.MatchString(msg) {
			parsed[KeyInsufficientBalance] = true
		}

		if !haveData {
			if m := dataPattern.FindStringSubmatch(msg); m != nil {
				amount := parseNumber(m[1])
				if strings.EqualFold(m[2], "GB") {
					amount *= 1024
				}
				parsed[KeyDataRemainingMb] = math.Round(amount*100) / 100
				haveData = true
			}
		}

		if !haveDays {
			if m := validityPattern.FindStringSubmatch(msg); m != nil {
				if days, err := strconv.Atoi(m[1]); err == nil {
					parsed[KeyDaysValid] = days
					haveDays = true
				}
			}
		}

		if !haveBalance {
			if m := balancePattern.FindStringSubmatch(msg); m != nil {
				parsed[KeyAccountBalance] = parseNumber(m[1])
				haveBalance = true
			}
		}
	}

	parsed["parsed_ok"] = haveData || haveDays || haveBalance
	return parsed
}

// parseNumber accepts decimal commas and trailing sentence dots.
func parseNumber(s string) float64 {
	s = strings.TrimRight(strings.ReplaceAll(s, ",", "."), ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// LogItem is one USSD syslog line split into timestamp and message.
type LogItem struct {
	Time    *time.Time `json:"time"`
	Message string     `json:"message"`
}

// ParseSyslogLine splits a busybox logread line. The message is trimmed to
// start at "USSD:" when present.
func ParseSyslogLine(line string) LogItem {
	line = strings.TrimSpace(line)

	m := syslogPattern.FindStringSubmatch(line)
	if m == nil {
		return LogItem{Message: line}
	}

	item := LogItem{Message: strings.TrimSpace(m[2])}
	if ts, err := time.Parse("Mon Jan _2 15:04:05 2006", m[1]); err == nil {
		item.Time = &ts
	}
	if idx := strings.Index(item.Message, "USSD:"); idx != -1 {
		item.Message = item.Message[idx:]
	}
	return item
}
