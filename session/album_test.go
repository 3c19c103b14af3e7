package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const albumChat = int64(77)

type dispatched struct {
	chatID int64
	prompt string
	photos [][]byte
}

func newTestAggregator(t *testing.T) (*Aggregator, *Store, *fakeMessenger, chan dispatched) {
	t.Helper()
	store, _ := newTestStore(t)
	msgr := newFakeMessenger()
	remix := NewRemix(store, msgr, testLogger())
	gate := NewGate(time.Second)

	calls := make(chan dispatched, 8)
	dispatch := func(chatID int64, prompt string, photos [][]byte) {
		calls <- dispatched{chatID: chatID, prompt: prompt, photos: photos}
	}

	agg := NewAggregator(store, remix, gate, msgr, dispatch, testLogger())
	agg.settle = 20 * time.Millisecond
	return agg, store, msgr, calls
}

func waitDispatch(t *testing.T, calls chan dispatched) dispatched {
	t.Helper()
	select {
	case call := <-calls:
		return call
	case <-time.After(time.Second):
		t.Fatal("no generation dispatched before the deadline")
		return dispatched{}
	}
}

func assertNoDispatch(t *testing.T, calls chan dispatched) {
	t.Helper()
	select {
	case call := <-calls:
		t.Fatalf("unexpected dispatch: %+v", call)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAlbumCaptionOnLaterPartStillBatches(t *testing.T) {
	agg, _, _, calls := newTestAggregator(t)

	agg.HandlePhoto(albumChat, "g1", []byte("p1"), 100, "")
	agg.HandlePhoto(albumChat, "g1", []byte("p2"), 101, "cat in space")
	agg.HandlePhoto(albumChat, "g1", []byte("p3"), 102, "")

	call := waitDispatch(t, calls)
	assert.Equal(t, albumChat, call.chatID)
	assert.Equal(t, "cat in space", call.prompt)
	assert.Equal(t, [][]byte{[]byte("p1"), []byte("p2"), []byte("p3")}, call.photos)

	assertNoDispatch(t, calls)
}

func TestAlbumKeepsFirstCaption(t *testing.T) {
	agg, _, _, calls := newTestAggregator(t)

	agg.HandlePhoto(albumChat, "g1", []byte("p1"), 100, "cat")
	agg.HandlePhoto(albumChat, "g1", []byte("p2"), 101, "dog")

	call := waitDispatch(t, calls)
	assert.Equal(t, "cat", call.prompt)
}

func TestCaptionlessAlbumStagesPhotos(t *testing.T) {
	agg, store, msgr, calls := newTestAggregator(t)

	agg.HandlePhoto(albumChat, "g1", []byte("p1"), 100, "")
	agg.HandlePhoto(albumChat, "g1", []byte("p2"), 101, "")

	assertNoDispatch(t, calls)

	photos, sources, statuses := stagedState(store, albumChat)
	assert.Equal(t, [][]byte{[]byte("p1"), []byte("p2")}, photos)
	assert.Equal(t, []int{100, 101}, sources)
	assert.Len(t, statuses, 2)
	assert.Empty(t, msgr.sentTexts())
}

func TestCaptionlessAlbumOverflowNotifiesOnce(t *testing.T) {
	agg, store, msgr, calls := newTestAggregator(t)

	for i := 0; i < 6; i++ {
		agg.HandlePhoto(albumChat, "g1", []byte{byte(i)}, 100+i, "")
	}

	assertNoDispatch(t, calls)

	photos, _, _ := stagedState(store, albumChat)
	assert.Len(t, photos, 4, "staging stops at the model cap")

	texts := msgr.sentTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, StagingFullNotice(4), texts[0])
}

func TestCaptionedAlbumClampsToModelCap(t *testing.T) {
	agg, _, _, calls := newTestAggregator(t)

	for i := 0; i < 6; i++ {
		agg.HandlePhoto(albumChat, "g1", []byte{byte(i)}, 100+i, "collage")
	}

	call := waitDispatch(t, calls)
	assert.Len(t, call.photos, 4)
}

func TestCaptionedAlbumRespectsCooldown(t *testing.T) {
	agg, store, msgr, calls := newTestAggregator(t)

	// A generation just happened in this chat.
	ok, _ := agg.gate.Allow(store.Get(albumChat))
	require.True(t, ok)

	agg.HandlePhoto(albumChat, "g1", []byte("p1"), 100, "cat")

	assertNoDispatch(t, calls)
	texts := msgr.sentTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, CooldownNotice(1), texts[0])
}

func TestCaptionedAlbumClearsManualStaging(t *testing.T) {
	agg, store, _, calls := newTestAggregator(t)

	remix := agg.remix
	require.NoError(t, remix.AddPhoto(albumChat, []byte("manual"), 50))

	agg.HandlePhoto(albumChat, "g1", []byte("p1"), 100, "cat")

	call := waitDispatch(t, calls)
	assert.Equal(t, [][]byte{[]byte("p1")}, call.photos)

	photos, _, _ := stagedState(store, albumChat)
	assert.Empty(t, photos, "a captioned album never mixes with staged photos")
}

func TestSeparateAlbumsResolveIndependently(t *testing.T) {
	agg, _, _, calls := newTestAggregator(t)

	agg.HandlePhoto(albumChat, "g1", []byte("a1"), 100, "first")
	agg.HandlePhoto(albumChat, "g2", []byte("b1"), 200, "")
	agg.HandlePhoto(albumChat, "g2", []byte("b2"), 201, "")

	call := waitDispatch(t, calls)
	assert.Equal(t, "first", call.prompt)
	assert.Equal(t, [][]byte{[]byte("a1")}, call.photos)
	assertNoDispatch(t, calls)
}

func TestAlbumSchedulesSingleResolver(t *testing.T) {
	agg, store, _, _ := newTestAggregator(t)
	agg.settle = time.Hour

	agg.HandlePhoto(albumChat, "g1", []byte("p1"), 100, "")
	agg.HandlePhoto(albumChat, "g1", []byte("p2"), 101, "")

	sess := store.Get(albumChat)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	require.Contains(t, sess.Albums, "g1")
	assert.True(t, sess.Albums["g1"].Scheduled)
	assert.Len(t, sess.Albums["g1"].Photos, 2)
}
