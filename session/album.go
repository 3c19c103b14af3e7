package session

import (
	"log/slog"
	"strings"
	"time"

	"orbit/core"
	"orbit/lib/sl"
)

// AlbumSettleDelay is how long the aggregator waits for the remaining
// parts of a media group to arrive before resolving it. Parts arriving
// later are lost from that album's batch.
const AlbumSettleDelay = time.Second

// DispatchFunc hands a resolved album to the generation pipeline.
type DispatchFunc func(chatID int64, prompt string, photos [][]byte)

// Aggregator folds the bursty, unordered parts of one media group into a
// single outcome: a captioned album becomes exactly one generation call
// with the full photo set; a captionless album stages each photo as if
// it had been uploaded singly.
type Aggregator struct {
	store    *Store
	remix    *Remix
	gate     *Gate
	msgr     core.Messenger
	dispatch DispatchFunc
	settle   time.Duration
	log      *slog.Logger
}

func NewAggregator(store *Store, remix *Remix, gate *Gate, msgr core.Messenger, dispatch DispatchFunc, log *slog.Logger) *Aggregator {
	return &Aggregator{
		store:    store,
		remix:    remix,
		gate:     gate,
		msgr:     msgr,
		dispatch: dispatch,
		settle:   AlbumSettleDelay,
		log:      log.With(sl.Module("album")),
	}
}

// HandlePhoto buffers one album part. The first part of a group arms the
// settle timer; the scheduled flag flips under the session mutex, so a
// second resolution task can never be dispatched for the same group.
// The group prompt is taken from whichever part carries a caption first.
func (a *Aggregator) HandlePhoto(chatID int64, groupID string, photo []byte, sourceMessageID int, caption string) {
	sess := a.store.Get(chatID)
	sess.mu.Lock()

	buf, ok := sess.Albums[groupID]
	if !ok {
		buf = &AlbumBuffer{}
		sess.Albums[groupID] = buf
	}
	buf.Photos = append(buf.Photos, photo)
	buf.MessageIDs = append(buf.MessageIDs, sourceMessageID)
	if caption != "" && buf.Prompt == "" {
		buf.Prompt = caption
	}
	schedule := !buf.Scheduled
	buf.Scheduled = true
	sess.mu.Unlock()

	if schedule {
		go a.resolve(chatID, groupID)
	}
}

// resolve waits out the settle window, consumes the buffer exactly once
// and either triggers a generation or routes the photos into remix
// staging.
func (a *Aggregator) resolve(chatID int64, groupID string) {
	time.Sleep(a.settle)

	sess := a.store.Get(chatID)
	sess.mu.Lock()
	buf, ok := sess.Albums[groupID]
	delete(sess.Albums, groupID)
	if !ok || len(buf.Photos) == 0 {
		sess.mu.Unlock()
		return
	}
	prompt := strings.TrimSpace(buf.Prompt)
	photos := buf.Photos
	messageIDs := buf.MessageIDs
	max := sess.MaxPhotos()

	if prompt == "" {
		// Captionless album: stage each photo as a single upload.
		full := false
		for i, photo := range photos {
			if err := a.remix.addPhotoLocked(chatID, sess, photo, messageIDs[i]); err != nil {
				full = true
				break
			}
		}
		sess.mu.Unlock()
		if full {
			if _, err := a.msgr.SendText(chatID, StagingFullNotice(max)); err != nil {
				a.log.Warn("sending staging notice", sl.Chat(chatID), sl.Err(err))
			}
		}
		return
	}
	sess.mu.Unlock()

	if len(photos) > max {
		photos = photos[:max]
	}

	if ok, remain := a.gate.Allow(sess); !ok {
		if _, err := a.msgr.SendText(chatID, CooldownNotice(remain)); err != nil {
			a.log.Warn("sending cooldown notice", sl.Chat(chatID), sl.Err(err))
		}
		return
	}

	// A captioned album never mixes with manual remix staging.
	a.remix.Clear(chatID)

	a.log.With(
		sl.Chat(chatID),
		slog.String("group", groupID),
		slog.Int("photos", len(photos)),
	).Info("album resolved, dispatching generation")

	go a.dispatch(chatID, prompt, photos)
}
