package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogicalDay(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before the cutoff the previous day is still running",
			// 07:30 UTC is 10:30 UTC+3.
			now:  time.Date(2026, 8, 28, 7, 30, 0, 0, time.UTC),
			want: time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "at the cutoff the new day starts",
			// 08:00 UTC is 11:00 UTC+3.
			now:  time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC),
			want: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "late evening stays on the same day",
			now:  time.Date(2026, 8, 28, 23, 0, 0, 0, time.UTC),
			want: time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogicalDay(tt.now))
		})
	}
}

func TestClampImageCount(t *testing.T) {
	assert.Equal(t, 1, ClampImageCount(-3))
	assert.Equal(t, 1, ClampImageCount(0))
	assert.Equal(t, 2, ClampImageCount(2))
	assert.Equal(t, 4, ClampImageCount(4))
	assert.Equal(t, 4, ClampImageCount(99))
}

func TestMemoryStorageCreatesAccountOnFirstTouch(t *testing.T) {
	m := NewMemoryStorage()

	acc, err := m.GetOrCreateAccount(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), acc.UserID)
	assert.Equal(t, PlanFree, acc.Plan)
	assert.Equal(t, 0, acc.CreditBalance)
}

func TestMemoryStorageDebit(t *testing.T) {
	m := NewMemoryStorage()
	require.NoError(t, m.CreditCredits(1, 5))

	require.NoError(t, m.DebitCredits(1, 3))

	err := m.DebitCredits(1, 3)
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	acc, err := m.GetOrCreateAccount(1)
	require.NoError(t, err)
	assert.Equal(t, 2, acc.CreditBalance, "a failed debit leaves the balance untouched")
}

func TestMemoryStorageDebitConcurrent(t *testing.T) {
	m := NewMemoryStorage()
	require.NoError(t, m.CreditCredits(1, 10))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.DebitCredits(1, 1) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	acc, err := m.GetOrCreateAccount(1)
	require.NoError(t, err)
	assert.Equal(t, 0, acc.CreditBalance)
}

func TestMemoryStorageDailyRollover(t *testing.T) {
	m := NewMemoryStorage()
	current := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	require.NoError(t, m.RecordUsage(1, "flash"))
	require.NoError(t, m.RecordUsage(1, "flash"))

	acc, err := m.GetOrCreateAccount(1)
	require.NoError(t, err)
	assert.Equal(t, 2, acc.UsedToday)

	// Next day, past the 11:00 UTC+3 cutoff.
	current = time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	acc, err = m.GetOrCreateAccount(1)
	require.NoError(t, err)
	assert.Equal(t, 0, acc.UsedToday)

	usage, err := m.ModelUsage(1)
	require.NoError(t, err)
	assert.Equal(t, 2, usage["flash"], "lifetime counters never reset")
}

func TestMemoryStorageSetReferrer(t *testing.T) {
	m := NewMemoryStorage()

	require.NoError(t, m.SetReferrer(1, 1))
	acc, err := m.GetOrCreateAccount(1)
	require.NoError(t, err)
	assert.Zero(t, acc.ReferrerID, "self-referrals are ignored")

	require.NoError(t, m.SetReferrer(1, 2))
	require.NoError(t, m.SetReferrer(1, 3))
	acc, err = m.GetOrCreateAccount(1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), acc.ReferrerID, "the first referrer wins")
}

func TestMemoryStorageModelUsageDefaults(t *testing.T) {
	m := NewMemoryStorage()
	usage, err := m.ModelUsage(1)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"flash": 0, "pro": 0}, usage)
}

func TestMemoryStorageCountUsageInWindow(t *testing.T) {
	m := NewMemoryStorage()
	start := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	require.NoError(t, m.AppendGenerationLog(1, "pro", start.Add(-time.Second)))
	require.NoError(t, m.AppendGenerationLog(1, "pro", start))
	require.NoError(t, m.AppendGenerationLog(1, "pro", start.Add(time.Hour)))
	require.NoError(t, m.AppendGenerationLog(1, "flash", start.Add(time.Hour)))
	require.NoError(t, m.AppendGenerationLog(2, "pro", start.Add(time.Hour)))
	require.NoError(t, m.AppendGenerationLog(1, "pro", end))

	count, err := m.CountUsageInWindow(1, "pro", start, end)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "the window is closed at the start and open at the end")
}

func TestMemorySettingsRoundTrip(t *testing.T) {
	m := NewMemorySettings()

	s, err := m.GetSettings(1)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)

	model := "pro"
	count := 7
	require.NoError(t, m.UpdateSettings(1, SettingsPatch{Model: &model, ImagesPerRequest: &count}))

	s, err = m.GetSettings(1)
	require.NoError(t, err)
	assert.Equal(t, "pro", s.Model)
	assert.Equal(t, 4, s.ImagesPerRequest, "the count is clamped on write")
	assert.Equal(t, "1:1", s.AspectRatio, "untouched fields keep their defaults")
}
