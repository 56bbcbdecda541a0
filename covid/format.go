package covid

import (
	"fmt"
	"strconv"
	"time"
)

// RiskLevel buckets cases per million.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Risk classifies c by cases per million. Unknown population is low.
func (c CountrySummary) Risk() RiskLevel {
	perMillion := ratio(c.Confirmed, c.Population) * 1_000_000
	switch {
	case perMillion < 1_000:
		return RiskLow
	case perMillion < 5_000:
		return RiskMedium
	case perMillion < 20_000:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// FormatCount renders n with thousands separators: 1234567 -> "1,234,567".
func FormatCount(n int64) string {
	s := strconv.FormatInt(n, 10)
	sign := ""
	if n < 0 {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	head := len(s) % 3
	if head > 0 {
		out = append(out, s[:head]...)
	}
	for i := head; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return sign + string(out)
}

// FormatCompact renders n with a K, M or B suffix and one decimal.
func FormatCompact(n int64) string {
	abs, sign := n, ""
	if n < 0 {
		abs, sign = -n, "-"
	}
	switch {
	case abs >= 1_000_000_000:
		return fmt.Sprintf("%s%.1fB", sign, float64(abs)/1e9)
	case abs >= 1_000_000:
		return fmt.Sprintf("%s%.1fM", sign, float64(abs)/1e6)
	case abs >= 1_000:
		return fmt.Sprintf("%s%.1fK", sign, float64(abs)/1e3)
	default:
		return strconv.FormatInt(n, 10)
	}
}

// FormatRate renders a fraction as a percentage with two decimals.
func FormatRate(rate float64) string {
	return fmt.Sprintf("%.2f%%", rate*100)
}

// FormatAge renders how long ago t was relative to now.
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	case d < 30*24*time.Hour:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	default:
		return t.Format("Jan 2, 2006")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
