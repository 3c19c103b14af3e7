package session

import (
	"log/slog"
	"sync"
	"time"

	"orbit/core"
	"orbit/lib/sl"
	"orbit/storage"
)

// AllowedAspectRatios lists the ratios users may pick.
var AllowedAspectRatios = map[string]bool{
	"1:1": true, "3:2": true, "2:3": true, "3:4": true, "4:3": true,
	"4:5": true, "5:4": true, "9:16": true, "16:9": true, "21:9": true,
}

// AllowedResolutions lists the output sizes of the pro tier.
var AllowedResolutions = map[string]bool{"1K": true, "2K": true}

// AlbumBuffer collects the parts of one media group while they trickle
// in. Scheduled flips exactly once, under the session mutex, when the
// resolution task is dispatched.
type AlbumBuffer struct {
	Photos    [][]byte
	MessageIDs []int
	Prompt    string
	Scheduled bool
}

// Session is the volatile per-chat state. Settings fields are seeded
// from durable storage on first access; everything else starts empty.
// The mutex serializes every mutation of the staged photos, the status
// indicators and the album buffers for this chat.
type Session struct {
	mu sync.Mutex

	Photos           [][]byte
	PhotoMessageIDs  []int
	StatusMessageIDs []int
	Albums           map[string]*AlbumBuffer

	Model            string
	AspectRatio      string
	Resolution       string
	ImagesPerRequest int

	LastGenerateAt time.Time
}

// MaxPhotos is the staging cap of the session's current model. Callers
// hold the session mutex.
func (s *Session) MaxPhotos() int {
	return core.MaxReferencePhotos(s.Model)
}

// Store owns the per-chat sessions. Sessions are created lazily and live
// until an explicit reset; different chats never share state, so they
// proceed fully in parallel.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	settings storage.SettingsStorage
	log      *slog.Logger
}

func NewStore(settings storage.SettingsStorage, log *slog.Logger) *Store {
	return &Store{
		sessions: make(map[int64]*Session),
		settings: settings,
		log:      log.With(sl.Module("session")),
	}
}

// Get returns the chat's session, creating it from the stored settings
// on first reference.
func (st *Store) Get(chatID int64) *Session {
	st.mu.RLock()
	sess, ok := st.sessions[chatID]
	st.mu.RUnlock()
	if ok {
		return sess
	}

	// Settings load happens outside the store lock; a racing creator
	// wins below.
	settings, err := st.settings.GetSettings(chatID)
	if err != nil {
		st.log.Error("loading settings, using defaults", sl.Chat(chatID), sl.Err(err))
		settings = storage.DefaultSettings()
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if sess, ok := st.sessions[chatID]; ok {
		return sess
	}
	sess = &Session{
		Albums:           make(map[string]*AlbumBuffer),
		Model:            settings.Model,
		AspectRatio:      settings.AspectRatio,
		Resolution:       settings.Resolution,
		ImagesPerRequest: storage.ClampImageCount(settings.ImagesPerRequest),
	}
	st.sessions[chatID] = sess
	return sess
}

// Reset drops the chat's volatile session. Durable settings are not
// touched; the next access re-seeds from them.
func (st *Store) Reset(chatID int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, chatID)
}

// SettingsSnapshot reads the session's current generation settings.
func (st *Store) SettingsSnapshot(chatID int64) storage.Settings {
	sess := st.Get(chatID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return storage.Settings{
		Model:            sess.Model,
		AspectRatio:      sess.AspectRatio,
		Resolution:       sess.Resolution,
		ImagesPerRequest: sess.ImagesPerRequest,
	}
}

func (st *Store) SetModel(chatID int64, model string) {
	if model != core.ModelFlash && model != core.ModelPro {
		return
	}
	sess := st.Get(chatID)
	sess.mu.Lock()
	sess.Model = model
	sess.mu.Unlock()
	st.persist(chatID, storage.SettingsPatch{Model: &model})
}

func (st *Store) SetAspectRatio(chatID int64, ratio string) {
	if !AllowedAspectRatios[ratio] {
		return
	}
	sess := st.Get(chatID)
	sess.mu.Lock()
	sess.AspectRatio = ratio
	sess.mu.Unlock()
	st.persist(chatID, storage.SettingsPatch{AspectRatio: &ratio})
}

func (st *Store) SetResolution(chatID int64, value string) {
	if !AllowedResolutions[value] {
		return
	}
	sess := st.Get(chatID)
	sess.mu.Lock()
	sess.Resolution = value
	sess.mu.Unlock()
	st.persist(chatID, storage.SettingsPatch{Resolution: &value})
}

func (st *Store) SetImageCount(chatID int64, n int) {
	n = storage.ClampImageCount(n)
	sess := st.Get(chatID)
	sess.mu.Lock()
	sess.ImagesPerRequest = n
	sess.mu.Unlock()
	st.persist(chatID, storage.SettingsPatch{ImagesPerRequest: &n})
}

func (st *Store) persist(chatID int64, patch storage.SettingsPatch) {
	if err := st.settings.UpdateSettings(chatID, patch); err != nil {
		st.log.Error("persisting settings", sl.Chat(chatID), sl.Err(err))
	}
}
