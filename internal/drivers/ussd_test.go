package drivers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUSSDMessages(t *testing.T) {
	t.Run("full openwrt line", func(t *testing.T) {
		parsed := ParseUSSDMessages([]string{"USSD: Recarga efectuada: Tarifa: Activa. Datos: 7.53 GB validos 20 dias. Saldo: 319.23"})

		assert.InDelta(t, 7710.72, parsed[KeyDataRemainingMb], 0.001)
		assert.Equal(t, 20, parsed[KeyDaysValid])
		assert.InDelta(t, 319.23, parsed[KeyAccountBalance], 0.001)
		assert.Equal(t, false, parsed[KeyInsufficientBalance])
		assert.Equal(t, true, parsed["parsed_ok"])
	})

	t.Run("megabytes with decimal comma", func(t *testing.T) {
		parsed := ParseUSSDMessages([]string{"Le quedan 512,5 MB por 3 días"})

		assert.InDelta(t, 512.5, parsed[KeyDataRemainingMb], 0.001)
		assert.Equal(t, 3, parsed[KeyDaysValid])
		assert.NotContains(t, parsed, KeyAccountBalance)
	})

	t.Run("newest message wins", func(t *testing.T) {
		parsed := ParseUSSDMessages([]string{
			"Datos: 5 GB validos 30 dias",
			"Datos: 1 GB validos 2 dias",
		})

		assert.InDelta(t, 1024.0, parsed[KeyDataRemainingMb], 0.001)
		assert.Equal(t, 2, parsed[KeyDaysValid])
	})

	t.Run("insufficient balance anywhere in batch", func(t *testing.T) {
		parsed := ParseUSSDMessages([]string{
			"USSD: Saldo insuficiente para esta operacion",
			"USSD: Datos: 200 MB validos 1 dias. Saldo: 0.50.",
		})

		assert.Equal(t, true, parsed[KeyInsufficientBalance])
		assert.InDelta(t, 0.5, parsed[KeyAccountBalance], 0.001)
	})

	t.Run("nothing recognisable", func(t *testing.T) {
		parsed := ParseUSSDMessages([]string{"USSD: servicio no disponible"})

		assert.Equal(t, false, parsed["parsed_ok"])
		assert.Equal(t, false, parsed[KeyInsufficientBalance])
		assert.NotContains(t, parsed, KeyDataRemainingMb)
	})
}

func TestParseSyslogLine(t *testing.T) {
	item := ParseSyslogLine("Sat Dec 27 07:00:30 2025 user.notice modemd: USSD: Datos: 7.53 GB validos 20 dias. Saldo: 319.23")

	require.NotNil(t, item.Time)
	assert.Equal(t, "2025-12-27 07:00:30", item.Time.Format("2006-01-02 15:04:05"))
	assert.Equal(t, "USSD: Datos: 7.53 GB validos 20 dias. Saldo: 319.23", item.Message)

	plain := ParseSyslogLine("  not a syslog line  ")
	assert.Nil(t, plain.Time)
	assert.Equal(t, "not a syslog line", plain.Message)
}
