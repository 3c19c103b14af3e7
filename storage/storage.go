package storage

import (
	"errors"
	"time"
)

// Plans known to the ledger. Plan purchase flows live outside the bot;
// the plan only carries profile metadata here.
const (
	PlanFree  = "free"
	PlanBasic = "basic"
	PlanPro   = "pro"
	PlanUltra = "ultra"
)

// ErrInsufficientCredits is returned by DebitCredits when the balance
// does not cover the requested amount. The check and the decrement are a
// single atomic operation.
var ErrInsufficientCredits = errors.New("insufficient credit balance")

type Account struct {
	UserID        int64      `bson:"user_id"`
	Plan          string     `bson:"plan"`
	ExpiresAt     *time.Time `bson:"expires_at,omitempty"`
	CreditBalance int        `bson:"credit_balance"`
	UsedToday     int        `bson:"used_today"`
	LastReset     time.Time  `bson:"last_reset"`
	ReferrerID    int64      `bson:"referrer_id,omitempty"`
	Username      string     `bson:"username,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
}

// GenerationRecord is one immutable entry of the generation log. The log
// backs the rolling-window counters of privileged accounts and reporting.
type GenerationRecord struct {
	ID        string    `bson:"record_id"`
	UserID    int64     `bson:"user_id"`
	Model     string    `bson:"model"`
	CreatedAt time.Time `bson:"created_at"`
}

// AccountStorage is the quota ledger. Every operation auto-creates a
// missing account and is individually atomic.
type AccountStorage interface {
	GetOrCreateAccount(userID int64) (*Account, error)
	// DebitCredits removes amount from the balance, failing with
	// ErrInsufficientCredits when it would go negative.
	DebitCredits(userID int64, amount int) error
	CreditCredits(userID int64, amount int) error
	SetPlan(userID int64, plan string, expiresAt *time.Time) error
	SetUsername(userID int64, username string) error
	// SetReferrer records who invited the user. An already set referrer
	// and self-referrals are left untouched.
	SetReferrer(userID int64, referrerID int64) error
	// RecordUsage increments the lifetime per-model counter.
	RecordUsage(userID int64, model string) error
	ModelUsage(userID int64) (map[string]int, error)
	AppendGenerationLog(userID int64, model string, at time.Time) error
	// CountUsageInWindow counts log entries of one model in [start, end).
	CountUsageInWindow(userID int64, model string, start, end time.Time) (int, error)
	Close() error
}

// Daily counters roll over at 11:00 in the reference timezone (UTC+3),
// not at midnight.
const (
	refTZOffsetHours = 3
	resetCutoffHour  = 11
)

// LogicalDay returns the ledger day the given instant belongs to, as a
// midnight UTC date. Before the cutoff hour the previous day is still
// running.
func LogicalDay(now time.Time) time.Time {
	ref := now.UTC().Add(refTZOffsetHours * time.Hour)
	if ref.Hour() < resetCutoffHour {
		ref = ref.AddDate(0, 0, -1)
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
}
