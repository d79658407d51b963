// Package filter decides which predictions reach which subscribers.
// All functions are pure; they never mutate their arguments.
package filter

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"pulse-alerts/internal/storage"
)

// neutralSentiment is the safe default when a sentiment payload is absent or
// unparseable.
const neutralSentiment = "neutral"

// Matches reports whether a prediction satisfies a subscriber's preferences.
// Quiet hours are evaluated separately via InQuietHours, before matching.
func Matches(p storage.Prediction, prefs storage.AlertPreference) bool {
	if p.Confidence.LessThan(prefs.MinConfidence) {
		return false
	}

	if len(prefs.AssetsOfInterest) > 0 && !intersects(p.Assets, prefs.AssetsOfInterest) {
		return false
	}

	if f := strings.TrimSpace(prefs.SentimentFilter); f != "" && !strings.EqualFold(f, "all") {
		if !strings.EqualFold(p.Sentiment, f) {
			return false
		}
	}

	return true
}

// InQuietHours 判断 now 是否落在订阅者的免打扰窗口内。
// A window with start > end wraps overnight (e.g. 22:00–08:00). Unparseable
// clock values disable the window rather than suppressing delivery.
func InQuietHours(prefs storage.AlertPreference, now time.Time) bool {
	if !prefs.QuietHoursEnabled {
		return false
	}

	start, okStart := parseClock(prefs.QuietHoursStart)
	end, okEnd := parseClock(prefs.QuietHoursEnd)
	if !okStart || !okEnd {
		return false
	}

	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// DeriveSentiment extracts the overall sentiment from a raw per-asset impact
// object: the first value in document order, lower-cased. Empty, absent, or
// non-object payloads default to "neutral".
func DeriveSentiment(raw json.RawMessage) string {
	if len(raw) == 0 {
		return neutralSentiment
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return neutralSentiment
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return neutralSentiment
	}

	keyTok, err := dec.Token()
	if err != nil {
		return neutralSentiment
	}
	if _, ok := keyTok.(string); !ok {
		// empty object: next token is the closing brace
		return neutralSentiment
	}

	var value any
	if err := dec.Decode(&value); err != nil {
		return neutralSentiment
	}
	s, ok := value.(string)
	if !ok || s == "" {
		return neutralSentiment
	}
	return strings.ToLower(s)
}

// parseClock turns "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(strings.TrimSpace(x), strings.TrimSpace(y)) {
				return true
			}
		}
	}
	return false
}
