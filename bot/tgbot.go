package bot

import (
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"orbit/core"
	"orbit/lib/sl"
	"orbit/session"
	"orbit/storage"
)

const removeCallback = "remix:delete"

// TgBot is the Telegram transport: it runs the update loop, routes
// inbound events and implements core.Messenger for the outbound side.
type TgBot struct {
	conf *core.Config
	api  *tgbotapi.BotAPI
	log  *slog.Logger
	http *http.Client

	images core.ImageService
	store  *session.Store
	remix  *session.Remix
	albums *session.Aggregator
	gate   *session.Gate
	ledger storage.AccountStorage

	stop chan struct{}
}

func NewTgBot(conf *core.Config, log *slog.Logger) (*TgBot, error) {
	api, err := tgbotapi.NewBotAPI(conf.TelegramApiKey)
	if err != nil {
		return nil, err
	}
	return &TgBot{
		conf: conf,
		api:  api,
		log:  log.With(sl.Module("bot")),
		http: &http.Client{Timeout: 30 * time.Second},
		stop: make(chan struct{}),
	}, nil
}

// SetServices wires the core services. Called once before Start; the
// bot cannot receive them in the constructor because it is itself the
// Messenger they are built on.
func (t *TgBot) SetServices(images core.ImageService, store *session.Store, remix *session.Remix, albums *session.Aggregator, gate *session.Gate, ledger storage.AccountStorage) {
	t.images = images
	t.store = store
	t.remix = remix
	t.albums = albums
	t.gate = gate
	t.ledger = ledger
}

func (t *TgBot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates, err := t.api.GetUpdatesChan(u)
	if err != nil {
		return err
	}

	for {
		select {
		case <-t.stop:
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.route(update)
		}
	}
}

func (t *TgBot) Stop() {
	close(t.stop)
}

func (t *TgBot) route(update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		go t.handleCallback(update.CallbackQuery)
		return
	}
	if update.Message == nil {
		return
	}
	msg := update.Message

	switch {
	case msg.IsCommand():
		go t.handleCommand(msg)
	case msg.Photo != nil && len(*msg.Photo) > 0:
		go t.handlePhoto(msg)
	case msg.Text != "":
		go t.handleText(msg)
	}
}

// ===== core.Messenger =====

func (t *TgBot) SendText(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	sent, err := t.api.Send(msg)
	if err != nil {
		t.log.Warn("sending message", sl.Chat(chatID), sl.Err(err))
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *TgBot) SendStatus(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = removeKeyboard()
	sent, err := t.api.Send(msg)
	if err != nil {
		t.log.Warn("sending status message", sl.Chat(chatID), sl.Err(err))
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *TgBot) EditStatus(chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	kb := removeKeyboard()
	edit.ReplyMarkup = &kb
	_, err := t.api.Send(edit)
	return err
}

func (t *TgBot) DeleteMessage(chatID int64, messageID int) error {
	_, err := t.api.DeleteMessage(tgbotapi.DeleteMessageConfig{
		ChatID:    chatID,
		MessageID: messageID,
	})
	return err
}

func (t *TgBot) SendPhoto(chatID int64, image []byte, caption string) error {
	photo := tgbotapi.NewPhotoUpload(chatID, tgbotapi.FileBytes{
		Name:  "image.png",
		Bytes: image,
	})
	photo.Caption = caption
	_, err := t.api.Send(photo)
	if err != nil {
		t.log.Warn("sending photo", sl.Chat(chatID), sl.Err(err))
	}
	return err
}

func (t *TgBot) SendDocument(chatID int64, image []byte, filename string, caption string) error {
	doc := tgbotapi.NewDocumentUpload(chatID, tgbotapi.FileBytes{
		Name:  filename,
		Bytes: image,
	})
	doc.Caption = caption
	_, err := t.api.Send(doc)
	if err != nil {
		t.log.Warn("sending document", sl.Chat(chatID), sl.Err(err))
	}
	return err
}

func removeKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Remove", removeCallback),
		),
	)
}
