package cache

import (
	"strings"
	"time"
)

// Namespace prefixes every cache key owned by the application.
const Namespace = "tradedesk"

const (
	DefaultPortfolioRefresh = 5 * time.Second
	DefaultTradeStaleness   = 5 * time.Minute

	// AlwaysRefetch as a trade staleness makes every holdings read go to
	// the backend.
	AlwaysRefetch time.Duration = -1
)

// Intervals normalises refresh and staleness settings into durations.
type Intervals struct {
	// PortfolioRefresh is the polling period of the portfolio view.
	PortfolioRefresh time.Duration
	// TradeStaleness is how old holdings may be before the trade view refetches.
	TradeStaleness time.Duration
}

// NewIntervals converts config values (in seconds) into durations. Zero
// selects the default. A negative refresh disables polling; a negative
// staleness selects AlwaysRefetch.
func NewIntervals(refreshSeconds, stalenessSeconds int) Intervals {
	staleness := AlwaysRefetch
	if stalenessSeconds >= 0 {
		staleness = durationOrDefault(stalenessSeconds, DefaultTradeStaleness)
	}
	return Intervals{
		PortfolioRefresh: durationOrDefault(refreshSeconds, DefaultPortfolioRefresh),
		TradeStaleness:   staleness,
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// HoldingsKey identifies the portfolio holdings collection.
func HoldingsKey() string {
	return formatKey("holdings")
}
