package export

import (
	"fmt"
	"math"
)

func splitMillis(seconds float64) (h, m, s, ms int64) {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(math.Round(seconds * 1000))
	h = total / 3_600_000
	m = total % 3_600_000 / 60_000
	s = total % 60_000 / 1000
	ms = total % 1000
	return h, m, s, ms
}

// FormatSRT renders seconds as HH:MM:SS,mmm.
func FormatSRT(seconds float64) string {
	h, m, s, ms := splitMillis(seconds)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// FormatVTT renders seconds as HH:MM:SS.mmm.
func FormatVTT(seconds float64) string {
	h, m, s, ms := splitMillis(seconds)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// FormatDuration renders seconds as MM:SS, or HH:MM:SS from one hour up.
func FormatDuration(seconds float64) string {
	h, m, s, _ := splitMillis(math.Floor(seconds))
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
