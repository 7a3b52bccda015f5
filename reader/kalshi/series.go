package kalshi

import "strings"

// SeriesTicker derives the series ticker from an event ticker by
// dropping the date and strike segments. "KXFED-25DEC" and
// "KXFED-25DEC-T3.75" both map to "KXFED".
func SeriesTicker(eventTicker string) string {
	if eventTicker == "" {
		return ""
	}
	if idx := strings.Index(eventTicker, "-"); idx > 0 {
		return eventTicker[:idx]
	}
	return eventTicker
}
