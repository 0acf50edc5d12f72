// Package quota defines the chat model tiers and their daily caps.
package quota

import (
	"strings"
	"time"
)

const (
	ModelFlash  = "gemini-2.5-flash"
	ModelFlash3 = "gemini-3-flash"
)

type Tier struct {
	// Model is the name used in requests, usage records and responses.
	Model      string
	APIModel   string
	DailyLimit int
}

var tiers = []Tier{
	{Model: ModelFlash, APIModel: "gemini-2.5-flash", DailyLimit: 300},
	{Model: ModelFlash3, APIModel: "gemini-3-flash-preview", DailyLimit: 30},
}

// Location is the fixed UTC+9 zone the daily window is measured in.
var Location = time.FixedZone("KST", 9*60*60)

// Tiers lists every known tier, default first.
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}

// Resolve maps a requested model name to its tier. Unknown or empty names
// resolve to the default tier.
func Resolve(model string) Tier {
	model = strings.TrimSpace(model)
	for _, tier := range tiers {
		if tier.Model == model {
			return tier
		}
	}
	return tiers[0]
}

// DayStart returns the instant of the most recent UTC+9 midnight at or
// before now.
func DayStart(now time.Time) time.Time {
	local := now.In(Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, Location)
	return start.UTC()
}

func Remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
