package session

import (
	"errors"
	"fmt"
	"log/slog"

	"orbit/core"
	"orbit/lib/sl"
)

// ErrStagingFull rejects an upload beyond the model's photo cap. The
// photo is neither truncated nor queued.
var ErrStagingFull = errors.New("photo staging is full")

// ErrDesynced signals that a remove control pointed at an unknown status
// message. The staging state has already been cleared when it is
// returned.
var ErrDesynced = errors.New("remix state desynchronized")

// Remix keeps the staged photos and their status indicators in a 1:1
// correspondence. Every operation runs under the session mutex; that is
// the sole mechanism preventing duplicate or ghost indicators when
// photos arrive concurrently.
type Remix struct {
	store *Store
	msgr  core.Messenger
	log   *slog.Logger
}

func NewRemix(store *Store, msgr core.Messenger, log *slog.Logger) *Remix {
	return &Remix{
		store: store,
		msgr:  msgr,
		log:   log.With(sl.Module("remix")),
	}
}

func shortStatusText(index int) string {
	// index is 1-based
	return fmt.Sprintf("✅ Photo %d added.", index)
}

func fullStatusText(count, remaining int) string {
	if count == 1 {
		return fmt.Sprintf(
			"✅ 1 photo added.\n"+
				"Send a text prompt to start generating, "+
				"or upload up to %d more photos to use Remix mode 👇",
			remaining,
		)
	}
	return fmt.Sprintf(
		"✅ %d photos added.\n"+
			"The model will now use all %d photos in Remix mode. "+
			"Send a text prompt to start generating, or upload up to %d more photos 👇",
		count, count, remaining,
	)
}

// StagingFullNotice is the user-facing rejection for uploads beyond the
// model's cap.
func StagingFullNotice(max int) string {
	return fmt.Sprintf(
		"⚠️ The selected model already has the maximum of %d photos staged.\n"+
			"Send a text prompt to generate, or remove some photos before uploading new ones.",
		max,
	)
}

// AddPhoto stages one promptless photo and refreshes the indicators.
func (r *Remix) AddPhoto(chatID int64, photo []byte, sourceMessageID int) error {
	sess := r.store.Get(chatID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return r.addPhotoLocked(chatID, sess, photo, sourceMessageID)
}

func (r *Remix) addPhotoLocked(chatID int64, sess *Session, photo []byte, sourceMessageID int) error {
	if len(sess.Photos) >= sess.MaxPhotos() {
		return ErrStagingFull
	}
	sess.Photos = append(sess.Photos, photo)
	sess.PhotoMessageIDs = append(sess.PhotoMessageIDs, sourceMessageID)
	r.refreshLocked(chatID, sess)
	return nil
}

// RemovePhoto handles the remove control on one status indicator. When
// the indicator is unknown the whole staging state is cleared
// (self-healing) and ErrDesynced is returned so the caller can tell the
// user.
func (r *Remix) RemovePhoto(chatID int64, statusMessageID int) error {
	sess := r.store.Get(chatID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	idx := -1
	for i, id := range sess.StatusMessageIDs {
		if id == statusMessageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.clearLocked(chatID, sess)
		return ErrDesynced
	}

	if idx < len(sess.Photos) {
		sess.Photos = append(sess.Photos[:idx], sess.Photos[idx+1:]...)
	}
	if idx < len(sess.PhotoMessageIDs) {
		sourceID := sess.PhotoMessageIDs[idx]
		sess.PhotoMessageIDs = append(sess.PhotoMessageIDs[:idx], sess.PhotoMessageIDs[idx+1:]...)
		r.deleteMessage(chatID, sourceID)
	}
	statusID := sess.StatusMessageIDs[idx]
	sess.StatusMessageIDs = append(sess.StatusMessageIDs[:idx], sess.StatusMessageIDs[idx+1:]...)
	r.deleteMessage(chatID, statusID)

	if len(sess.Photos) == 0 {
		r.clearLocked(chatID, sess)
		return nil
	}
	r.refreshLocked(chatID, sess)
	return nil
}

// Take consumes the staged photos for a text-prompt generation: it
// snapshots them, deletes the indicators and leaves the staging empty.
// Pending albums are untouched.
func (r *Remix) Take(chatID int64) [][]byte {
	sess := r.store.Get(chatID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	photos := make([][]byte, len(sess.Photos))
	copy(photos, sess.Photos)

	for _, id := range sess.StatusMessageIDs {
		r.deleteMessage(chatID, id)
	}
	sess.Photos = nil
	sess.PhotoMessageIDs = nil
	sess.StatusMessageIDs = nil
	return photos
}

// Clear removes every indicator and erases the whole staging state,
// pending albums included.
func (r *Remix) Clear(chatID int64) {
	sess := r.store.Get(chatID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	r.clearLocked(chatID, sess)
}

func (r *Remix) clearLocked(chatID int64, sess *Session) {
	for _, id := range sess.StatusMessageIDs {
		r.deleteMessage(chatID, id)
	}
	sess.Photos = nil
	sess.PhotoMessageIDs = nil
	sess.StatusMessageIDs = nil
	sess.Albums = make(map[string]*AlbumBuffer)
}

// refreshLocked is the indicator recompute: it restores the 1:1
// photo/indicator correspondence with minimal message churn. All
// indicators but the last show the short text, the last one the full
// text. Failed edits of individual indicators are skipped, never fatal.
func (r *Remix) refreshLocked(chatID int64, sess *Session) {
	count := len(sess.Photos)

	if count == 0 {
		for _, id := range sess.StatusMessageIDs {
			r.deleteMessage(chatID, id)
		}
		sess.StatusMessageIDs = nil
		return
	}

	// Excess trailing indicators go first.
	if len(sess.StatusMessageIDs) > count {
		for _, id := range sess.StatusMessageIDs[count:] {
			r.deleteMessage(chatID, id)
		}
		sess.StatusMessageIDs = sess.StatusMessageIDs[:count]
	}

	remaining := sess.MaxPhotos() - count
	for len(sess.StatusMessageIDs) < count {
		id, err := r.msgr.SendStatus(chatID, fullStatusText(count, remaining))
		if err != nil {
			r.log.Warn("sending status message", sl.Chat(chatID), sl.Err(err))
			return
		}
		sess.StatusMessageIDs = append(sess.StatusMessageIDs, id)
	}

	for i, id := range sess.StatusMessageIDs {
		text := fullStatusText(count, remaining)
		if i < count-1 {
			text = shortStatusText(i + 1)
		}
		if err := r.msgr.EditStatus(chatID, id, text); err != nil {
			// Message may have been deleted externally, skip it.
			continue
		}
	}
}

func (r *Remix) deleteMessage(chatID int64, messageID int) {
	if err := r.msgr.DeleteMessage(chatID, messageID); err != nil {
		r.log.Debug("deleting message", sl.Chat(chatID), slog.Int("message_id", messageID), sl.Err(err))
	}
}
