package timeutil

import "time"

const DateLayout = "2006-01-02"

func NowUnix() int64 {
	return time.Now().Unix()
}

// NormalizeDate reduces any of the date shapes seen in feed metadata
// (RFC3339 timestamps, "2006-01-02 15:04:05", bare dates) to "2006-01-02".
// Returns "" when the input cannot be parsed.
func NormalizeDate(s string) string {
	if s == "" {
		return ""
	}
	if len(s) >= len(DateLayout) {
		if t, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
			return t.Format(DateLayout)
		}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout)
		}
	}
	return ""
}

// ParseDate parses a normalized "2006-01-02" date.
func ParseDate(s string) (time.Time, bool) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
