package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage is the in-memory ledger used when MongoDB is disabled or
// unreachable. State is lost on restart.
type MemoryStorage struct {
	mutex    sync.Mutex
	accounts map[int64]*Account
	usage    map[int64]map[string]int
	log      []GenerationRecord
	now      func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		accounts: make(map[int64]*Account),
		usage:    make(map[int64]map[string]int),
		now:      time.Now,
	}
}

// ensureAccount returns the account, creating it if missing, and applies
// the daily rollover. Callers must hold the mutex.
func (m *MemoryStorage) ensureAccount(userID int64) *Account {
	acc, ok := m.accounts[userID]
	if !ok {
		acc = &Account{
			UserID:    userID,
			Plan:      PlanFree,
			LastReset: LogicalDay(m.now()),
			CreatedAt: m.now(),
		}
		m.accounts[userID] = acc
	}
	if today := LogicalDay(m.now()); acc.LastReset.Before(today) {
		acc.UsedToday = 0
		acc.LastReset = today
	}
	return acc
}

func (m *MemoryStorage) GetOrCreateAccount(userID int64) (*Account, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	acc := m.ensureAccount(userID)
	copied := *acc
	return &copied, nil
}

func (m *MemoryStorage) DebitCredits(userID int64, amount int) error {
	if amount <= 0 {
		return nil
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	acc := m.ensureAccount(userID)
	if acc.CreditBalance < amount {
		return ErrInsufficientCredits
	}
	acc.CreditBalance -= amount
	return nil
}

func (m *MemoryStorage) CreditCredits(userID int64, amount int) error {
	if amount <= 0 {
		return nil
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	acc := m.ensureAccount(userID)
	acc.CreditBalance += amount
	return nil
}

func (m *MemoryStorage) SetPlan(userID int64, plan string, expiresAt *time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	acc := m.ensureAccount(userID)
	acc.Plan = plan
	acc.ExpiresAt = expiresAt
	return nil
}

func (m *MemoryStorage) SetUsername(userID int64, username string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.ensureAccount(userID).Username = username
	return nil
}

func (m *MemoryStorage) SetReferrer(userID int64, referrerID int64) error {
	if userID == referrerID {
		return nil
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	acc := m.ensureAccount(userID)
	if acc.ReferrerID != 0 {
		return nil
	}
	acc.ReferrerID = referrerID
	return nil
}

func (m *MemoryStorage) RecordUsage(userID int64, model string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	acc := m.ensureAccount(userID)
	acc.UsedToday++
	byModel, ok := m.usage[userID]
	if !ok {
		byModel = make(map[string]int)
		m.usage[userID] = byModel
	}
	byModel[model]++
	return nil
}

func (m *MemoryStorage) ModelUsage(userID int64) (map[string]int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	usage := map[string]int{"flash": 0, "pro": 0}
	for model, n := range m.usage[userID] {
		usage[model] = n
	}
	return usage, nil
}

func (m *MemoryStorage) AppendGenerationLog(userID int64, model string, at time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.log = append(m.log, GenerationRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Model:     model,
		CreatedAt: at,
	})
	return nil
}

func (m *MemoryStorage) CountUsageInWindow(userID int64, model string, start, end time.Time) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	count := 0
	for _, rec := range m.log {
		if rec.UserID != userID || rec.Model != model {
			continue
		}
		if rec.CreatedAt.Before(start) || !rec.CreatedAt.Before(end) {
			continue
		}
		count++
	}
	return count, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
