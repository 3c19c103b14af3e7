package generate

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbit/gemini"
	"orbit/session"
	"orbit/storage"
)

const testChat = int64(42)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedCall struct {
	prompt string
	photos int
	model  string
}

// fakeGateway replays a scripted sequence of results, one per call.
type fakeGateway struct {
	mu      sync.Mutex
	results []error
	calls   []recordedCall
}

func (g *fakeGateway) GenerateImage(ctx context.Context, photos [][]byte, prompt, aspectRatio, resolution, model string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, recordedCall{prompt: prompt, photos: len(photos), model: model})
	if len(g.results) == 0 {
		return []byte("image"), nil
	}
	err := g.results[0]
	g.results = g.results[1:]
	if err != nil {
		return nil, err
	}
	return []byte("image"), nil
}

type delivery struct {
	caption string
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	texts   []string
	deleted []int
	photos  []delivery
	docs    []string
}

func (f *fakeMessenger) SendText(chatID int64, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.texts = append(f.texts, text)
	return f.nextID, nil
}

func (f *fakeMessenger) SendStatus(chatID int64, text string) (int, error) {
	return f.SendText(chatID, text)
}

func (f *fakeMessenger) EditStatus(chatID int64, messageID int, text string) error {
	return nil
}

func (f *fakeMessenger) DeleteMessage(chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeMessenger) SendPhoto(chatID int64, image []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, delivery{caption: caption})
	return nil
}

func (f *fakeMessenger) SendDocument(chatID int64, image []byte, filename string, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, filename)
	return nil
}

func newTestOrchestrator(t *testing.T, gateway *fakeGateway, privileged []int64) (*Orchestrator, *session.Store, *storage.MemoryStorage, *fakeMessenger) {
	t.Helper()
	settings := storage.NewMemorySettings()
	store := session.NewStore(settings, testLogger())
	ledger := storage.NewMemoryStorage()
	msgr := &fakeMessenger{}
	o := NewOrchestrator(store, ledger, gateway, msgr, privileged, testLogger())
	return o, store, ledger, msgr
}

func balance(t *testing.T, ledger *storage.MemoryStorage, userID int64) int {
	t.Helper()
	acc, err := ledger.GetOrCreateAccount(userID)
	require.NoError(t, err)
	return acc.CreditBalance
}

func TestGenerateRejectsEmptyInput(t *testing.T) {
	gateway := &fakeGateway{}
	o, _, _, msgr := newTestOrchestrator(t, gateway, nil)

	o.Generate(testChat, "   ", [][]byte{nil, {}})

	assert.Empty(t, gateway.calls)
	require.Len(t, msgr.texts, 1)
	assert.Contains(t, msgr.texts[0], "Neither a text prompt nor photos")
}

func TestGenerateRejectsWithoutCredits(t *testing.T) {
	gateway := &fakeGateway{}
	o, _, _, msgr := newTestOrchestrator(t, gateway, nil)

	o.Generate(testChat, "a cat", nil)

	assert.Empty(t, gateway.calls, "admission happens before any upstream call")
	require.Len(t, msgr.texts, 1)
	assert.Contains(t, msgr.texts[0], "Not enough credits")
}

func TestGenerateDebitsPerDeliveredImage(t *testing.T) {
	// Three requested, the middle call yields no image.
	gateway := &fakeGateway{results: []error{
		nil,
		&gemini.APIError{Kind: gemini.KindNoImage, Message: "empty candidates"},
		nil,
	}}
	o, store, ledger, msgr := newTestOrchestrator(t, gateway, nil)
	require.NoError(t, ledger.CreditCredits(testChat, 10))
	store.SetImageCount(testChat, 3)

	o.Generate(testChat, "a cat", nil)

	assert.Len(t, gateway.calls, 3)
	assert.Len(t, msgr.photos, 2)
	assert.Len(t, msgr.docs, 2)
	assert.Equal(t, 8, balance(t, ledger, testChat), "only delivered images are charged")

	usage, err := ledger.ModelUsage(testChat)
	require.NoError(t, err)
	assert.Equal(t, 2, usage["flash"])
}

func TestGenerateProModelCostsMore(t *testing.T) {
	gateway := &fakeGateway{}
	o, store, ledger, _ := newTestOrchestrator(t, gateway, nil)
	require.NoError(t, ledger.CreditCredits(testChat, 10))
	store.SetModel(testChat, "pro")

	o.Generate(testChat, "a cat", nil)

	require.Len(t, gateway.calls, 1)
	assert.Equal(t, "pro", gateway.calls[0].model)
	assert.Equal(t, 7, balance(t, ledger, testChat))
}

func TestGenerateChecksFullBatchCostUpFront(t *testing.T) {
	gateway := &fakeGateway{}
	o, store, ledger, msgr := newTestOrchestrator(t, gateway, nil)
	require.NoError(t, ledger.CreditCredits(testChat, 2))
	store.SetImageCount(testChat, 3)

	o.Generate(testChat, "a cat", nil)

	assert.Empty(t, gateway.calls)
	require.Len(t, msgr.texts, 1)
	assert.Contains(t, msgr.texts[0], "Not enough credits")
	assert.Equal(t, 2, balance(t, ledger, testChat))
}

func TestGenerateHardFailureAbortsAndSettles(t *testing.T) {
	gateway := &fakeGateway{results: []error{
		nil,
		&gemini.APIError{Kind: gemini.KindServerError, Status: 500, Message: "boom"},
	}}
	o, store, ledger, msgr := newTestOrchestrator(t, gateway, nil)
	require.NoError(t, ledger.CreditCredits(testChat, 10))
	store.SetImageCount(testChat, 3)

	o.Generate(testChat, "a cat", nil)

	assert.Len(t, gateway.calls, 2, "the batch stops at the hard failure")
	assert.Len(t, msgr.photos, 1)
	assert.Equal(t, 9, balance(t, ledger, testChat), "the delivered image is still charged")

	var failure string
	for _, text := range msgr.texts {
		if strings.Contains(text, "internal error") {
			failure = text
		}
	}
	assert.NotEmpty(t, failure, "the user hears about the failure")
}

func TestGenerateAllNoImage(t *testing.T) {
	gateway := &fakeGateway{results: []error{
		&gemini.APIError{Kind: gemini.KindNoImage, Message: "empty candidates"},
		&gemini.APIError{Kind: gemini.KindNoImage, Message: "empty candidates"},
	}}
	o, store, ledger, msgr := newTestOrchestrator(t, gateway, nil)
	require.NoError(t, ledger.CreditCredits(testChat, 10))
	store.SetImageCount(testChat, 2)

	o.Generate(testChat, "a cat", nil)

	assert.Len(t, gateway.calls, 2)
	assert.Equal(t, 10, balance(t, ledger, testChat), "nothing delivered, nothing charged")

	var notice string
	for _, text := range msgr.texts {
		if strings.Contains(text, "returned no images") {
			notice = text
		}
	}
	assert.NotEmpty(t, notice)
}

func TestGenerateDeletesStatusMessage(t *testing.T) {
	gateway := &fakeGateway{}
	o, _, ledger, msgr := newTestOrchestrator(t, gateway, nil)
	require.NoError(t, ledger.CreditCredits(testChat, 10))

	o.Generate(testChat, "a cat", nil)

	var statusID int
	for i, text := range msgr.texts {
		if strings.Contains(text, "generation started") {
			statusID = i + 1
		}
	}
	require.NotZero(t, statusID)
	assert.Contains(t, msgr.deleted, statusID)
}

func TestGeneratePrivilegedSkipsLedger(t *testing.T) {
	gateway := &fakeGateway{}
	o, _, ledger, _ := newTestOrchestrator(t, gateway, []int64{testChat})
	o.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }

	o.Generate(testChat, "a cat", nil)

	require.Len(t, gateway.calls, 1)
	assert.Equal(t, 0, balance(t, ledger, testChat), "privileged accounts are never debited")
}

func TestGeneratePrivilegedWindowExhausted(t *testing.T) {
	gateway := &fakeGateway{}
	o, store, ledger, msgr := newTestOrchestrator(t, gateway, []int64{testChat})
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return now }
	store.SetModel(testChat, "pro")
	store.SetImageCount(testChat, 2)

	// 40 of the 41 allowed pro generations already used; a batch of 2
	// does not fit.
	start := periodStart(now)
	for i := 0; i < 40; i++ {
		require.NoError(t, ledger.AppendGenerationLog(testChat, "pro", start.Add(time.Minute)))
	}

	o.Generate(testChat, "a cat", nil)

	assert.Empty(t, gateway.calls)
	require.Len(t, msgr.texts, 1)
	assert.Contains(t, msgr.texts[0], "limit")
	assert.Contains(t, msgr.texts[0], "remaining: 1")
}

func TestGeneratePassesSettingsToGateway(t *testing.T) {
	gateway := &fakeGateway{}
	o, store, ledger, _ := newTestOrchestrator(t, gateway, nil)
	require.NoError(t, ledger.CreditCredits(testChat, 10))
	store.SetModel(testChat, "pro")

	o.Generate(testChat, "restyle this", [][]byte{[]byte("p1"), []byte("p2")})

	require.Len(t, gateway.calls, 1)
	call := gateway.calls[0]
	assert.Equal(t, "restyle this", call.prompt)
	assert.Equal(t, 2, call.photos)
	assert.Equal(t, "pro", call.model)
}
