package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	require.Equal(t, 300, Resolve("").DailyLimit)
	require.Equal(t, ModelFlash, Resolve("gpt-4o").Model)

	tier := Resolve("gemini-3-flash")
	require.Equal(t, 30, tier.DailyLimit)
	require.Equal(t, "gemini-3-flash-preview", tier.APIModel)
}

func TestDayStartUsesKoreanMidnight(t *testing.T) {
	// 14:59 UTC is 23:59 in UTC+9, still the same local day.
	before := time.Date(2026, 4, 10, 14, 59, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 4, 9, 15, 0, 0, 0, time.UTC), DayStart(before))

	// 15:00 UTC is local midnight; the window resets.
	after := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)
	require.Equal(t, after, DayStart(after))
}

func TestRemainingNeverNegative(t *testing.T) {
	require.Equal(t, 0, Remaining(30, 31))
	require.Equal(t, 0, Remaining(30, 30))
	require.Equal(t, 5, Remaining(30, 25))
}

func TestTiersReturnsCopy(t *testing.T) {
	list := Tiers()
	list[0].DailyLimit = 1
	require.Equal(t, 300, Resolve(ModelFlash).DailyLimit)
}
