// internal/monitoring/severity.go
package monitoring

import (
	"monite/internal/database"
	"monite/internal/drivers"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Classify returns the highest-priority band whose days or data floor is
// crossed. Either condition is enough; a floor of zero never triggers.
func Classify(dataRemainingMb *float64, daysValid *int, t database.SeverityThresholds) (Severity, bool) {
	bands := []struct {
		tier Severity
		band database.Band
	}{
		{SeverityCritical, t.Critical},
		{SeverityHigh, t.High},
		{SeverityMedium, t.Medium},
	}

	for _, b := range bands {
		if daysValid != nil && b.band.MinDaysValid > 0 && *daysValid <= b.band.MinDaysValid {
			return b.tier, true
		}
		if dataRemainingMb != nil && b.band.MinDataRemainingMb > 0 && *dataRemainingMb < b.band.MinDataRemainingMb {
			return b.tier, true
		}
	}
	return "", false
}

// Telemetry is the severity-relevant subset of a parsed action result.
type Telemetry struct {
	DataRemainingMb     *float64
	DaysValid           *int
	AccountBalance      *float64
	InsufficientBalance bool
}

// HasSeverityFields reports whether any classifier input is present.
func (t Telemetry) HasSeverityFields() bool {
	return t.DataRemainingMb != nil || t.DaysValid != nil || t.AccountBalance != nil
}

// ExtractTelemetry reads telemetry from a parsed result. Numbers may be Go
// ints or JSON-decoded float64s.
func ExtractTelemetry(parsed map[string]interface{}) Telemetry {
	var t Telemetry
	if parsed == nil {
		return t
	}

	if f, ok := toFloat(parsed[drivers.KeyDataRemainingMb]); ok {
		t.DataRemainingMb = &f
	}
	if f, ok := toFloat(parsed[drivers.KeyDaysValid]); ok {
		days := int(f)
		t.DaysValid = &days
	}
	if f, ok := toFloat(parsed[drivers.KeyAccountBalance]); ok {
		t.AccountBalance = &f
	}
	if b, ok := parsed[drivers.KeyInsufficientBalance].(bool); ok {
		t.InsufficientBalance = b
	}
	return t
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
