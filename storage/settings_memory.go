package storage

import "sync"

// MemorySettings keeps user settings in memory when MongoDB is disabled.
type MemorySettings struct {
	mutex    sync.RWMutex
	settings map[int64]Settings
}

func NewMemorySettings() *MemorySettings {
	return &MemorySettings{
		settings: make(map[int64]Settings),
	}
}

func (m *MemorySettings) GetSettings(userID int64) (Settings, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if s, ok := m.settings[userID]; ok {
		return s, nil
	}
	return DefaultSettings(), nil
}

func (m *MemorySettings) UpdateSettings(userID int64, patch SettingsPatch) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.settings[userID]
	if !ok {
		s = DefaultSettings()
	}
	if patch.Model != nil {
		s.Model = *patch.Model
	}
	if patch.AspectRatio != nil {
		s.AspectRatio = *patch.AspectRatio
	}
	if patch.Resolution != nil {
		s.Resolution = *patch.Resolution
	}
	if patch.ImagesPerRequest != nil {
		s.ImagesPerRequest = ClampImageCount(*patch.ImagesPerRequest)
	}
	m.settings[userID] = s
	return nil
}

func (m *MemorySettings) Close() error {
	return nil
}
