package session

import (
	"io"
	"log/slog"
	"sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMessage struct {
	ID   int
	Text string
}

// fakeMessenger records outbound traffic and hands out increasing
// message ids, so tests can follow the indicator lifecycle.
type fakeMessenger struct {
	mu       sync.Mutex
	nextID   int
	texts    []sentMessage
	statuses []sentMessage
	edits    map[int]string
	deleted  []int
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{edits: make(map[int]string)}
}

func (f *fakeMessenger) SendText(chatID int64, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.texts = append(f.texts, sentMessage{ID: f.nextID, Text: text})
	return f.nextID, nil
}

func (f *fakeMessenger) SendStatus(chatID int64, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.statuses = append(f.statuses, sentMessage{ID: f.nextID, Text: text})
	return f.nextID, nil
}

func (f *fakeMessenger) EditStatus(chatID int64, messageID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[messageID] = text
	return nil
}

func (f *fakeMessenger) DeleteMessage(chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeMessenger) SendPhoto(chatID int64, image []byte, caption string) error {
	return nil
}

func (f *fakeMessenger) SendDocument(chatID int64, image []byte, filename string, caption string) error {
	return nil
}

func (f *fakeMessenger) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	for i, m := range f.texts {
		out[i] = m.Text
	}
	return out
}

func (f *fakeMessenger) deletedIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.deleted))
	copy(out, f.deleted)
	return out
}
