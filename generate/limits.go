package generate

import (
	"fmt"
	"time"

	"orbit/core"
	"orbit/storage"
)

// Privileged accounts bypass the credit ledger but are capped per model
// tier over a rolling day anchored to 11:00 UTC+3.
const (
	refTZOffsetHours = 3
	resetHour        = 11
)

var privilegedLimits = map[string]int{
	core.ModelFlash: 330,
	core.ModelPro:   41,
}

// periodStart returns the UTC start of the current privileged-account
// day (11:00 UTC+3 through 11:00 the next day).
func periodStart(now time.Time) time.Time {
	ref := now.UTC().Add(refTZOffsetHours * time.Hour)
	if ref.Hour() < resetHour {
		ref = ref.AddDate(0, 0, -1)
	}
	start := time.Date(ref.Year(), ref.Month(), ref.Day(), resetHour, 0, 0, 0, time.UTC)
	return start.Add(-refTZOffsetHours * time.Hour)
}

// periodLabel renders the window for user-facing limit notices.
func periodLabel(start time.Time) string {
	local := start.Add(refTZOffsetHours * time.Hour)
	end := local.Add(24 * time.Hour)
	return fmt.Sprintf("%s–%s (UTC+3)", local.Format("15:04"), end.Format("15:04"))
}

type windowInfo struct {
	Used      int
	Limit     int
	Remaining int
	Label     string
}

// privilegedWindow reads the account's remaining allowance for one model
// tier in the current window, straight from the generation log.
func privilegedWindow(ledger storage.AccountStorage, userID int64, model string, now time.Time) (windowInfo, error) {
	start := periodStart(now)
	end := start.Add(24 * time.Hour)
	label := periodLabel(start)

	limit, ok := privilegedLimits[model]
	if !ok {
		return windowInfo{Limit: 1 << 30, Remaining: 1 << 30, Label: label}, nil
	}

	used, err := ledger.CountUsageInWindow(userID, model, start, end)
	if err != nil {
		return windowInfo{}, fmt.Errorf("counting window usage: %w", err)
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return windowInfo{
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		Label:     label,
	}, nil
}
