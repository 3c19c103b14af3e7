package bot

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"orbit/core"
	"orbit/lib/sl"
	"orbit/session"
)

// handlePhoto routes one photo event:
//   - part of a media group → album aggregator (it decides between a
//     single generation and per-photo staging once the group settles);
//   - single photo with a caption → immediate generation on that photo;
//   - single photo without a caption → remix staging.
func (t *TgBot) handlePhoto(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	data, err := t.downloadPhoto(msg)
	if err != nil {
		t.log.Warn("downloading photo", sl.Chat(chatID), sl.Err(err))
		t.notify(chatID,
			"⚠️ Could not download the photo from Telegram.\n"+
				"Please send it again.")
		return
	}

	caption := strings.TrimSpace(msg.Caption)

	if msg.MediaGroupID != "" {
		t.albums.HandlePhoto(chatID, msg.MediaGroupID, data, msg.MessageID, caption)
		return
	}

	if caption != "" {
		sess := t.store.Get(chatID)
		if ok, remain := t.gate.Allow(sess); !ok {
			t.notify(chatID, session.CooldownNotice(remain))
			return
		}
		t.remix.Clear(chatID)
		go t.images.Generate(chatID, caption, [][]byte{data})
		return
	}

	if err := t.remix.AddPhoto(chatID, data, msg.MessageID); err != nil {
		if errors.Is(err, session.ErrStagingFull) {
			max := core.MaxReferencePhotos(t.store.SettingsSnapshot(chatID).Model)
			t.notify(chatID, session.StagingFullNotice(max))
		}
	}
}

// handleText treats any non-command text as a generation prompt, which
// consumes whatever is staged in remix.
func (t *TgBot) handleText(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	logText := text
	if len(logText) > 50 {
		logText = logText[:50] + "..."
	}
	t.log.With(sl.Chat(chatID), slog.String("text", logText)).Info("incoming prompt")

	sess := t.store.Get(chatID)
	if ok, remain := t.gate.Allow(sess); !ok {
		t.notify(chatID, session.CooldownNotice(remain))
		return
	}

	photos := t.remix.Take(chatID)
	go t.images.Generate(chatID, text, photos)
}

func (t *TgBot) handleCallback(query *tgbotapi.CallbackQuery) {
	if query.Message == nil || query.Data != removeCallback {
		return
	}
	chatID := query.Message.Chat.ID

	err := t.remix.RemovePhoto(chatID, query.Message.MessageID)
	if errors.Is(err, session.ErrDesynced) {
		t.answerCallback(query.ID,
			"The staged photos got out of sync, so I cleared the list. Please upload them again.",
			true)
		return
	}
	t.answerCallback(query.ID, "Photo removed.", false)
}

func (t *TgBot) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		t.commandStart(msg)
	case "reset":
		t.remix.Clear(chatID)
		t.store.Reset(chatID)
		t.notify(chatID,
			"Full reset done.\n"+
				"Staged photos and pending albums are cleared; your saved settings are kept.")
	case "help":
		t.notify(chatID, helpText())
	case "model":
		t.commandModel(chatID, msg.CommandArguments())
	case "aspect":
		t.commandAspect(chatID, msg.CommandArguments())
	case "quality":
		t.commandQuality(chatID, msg.CommandArguments())
	case "count":
		t.commandCount(chatID, msg.CommandArguments())
	}
}

func (t *TgBot) commandStart(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	if msg.From != nil && msg.From.UserName != "" {
		if err := t.ledger.SetUsername(chatID, msg.From.UserName); err != nil {
			t.log.Warn("storing username", sl.Chat(chatID), sl.Err(err))
		}
	}
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		if refID, err := strconv.ParseInt(arg, 10, 64); err == nil && refID != chatID {
			if err := t.ledger.SetReferrer(chatID, refID); err != nil {
				t.log.Warn("storing referrer", sl.Chat(chatID), sl.Err(err))
			}
		}
	}

	settings := t.store.SettingsSnapshot(chatID)
	t.notify(chatID, fmt.Sprintf(
		"Welcome to Orbit AI!\n\n"+
			"This bot generates and restyles images.\n"+
			"Upload photos without a caption to stage them for Remix, "+
			"then send a text prompt to generate.\n\n"+
			"Current settings:\n"+
			"• Model: %s\n"+
			"• Aspect ratio: %s\n"+
			"• Quality: %s\n"+
			"• Images per request: %d\n\n"+
			"Commands: /help",
		core.ModelName(settings.Model),
		settings.AspectRatio,
		settings.Resolution,
		settings.ImagesPerRequest,
	))
}

func (t *TgBot) commandModel(chatID int64, arg string) {
	model := strings.ToLower(strings.TrimSpace(arg))
	if model != core.ModelFlash && model != core.ModelPro {
		t.notify(chatID, "Usage: /model flash | pro")
		return
	}
	t.store.SetModel(chatID, model)
	t.notify(chatID, fmt.Sprintf("Model set to %s.", core.ModelName(model)))
}

func (t *TgBot) commandAspect(chatID int64, arg string) {
	ratio := strings.TrimSpace(arg)
	if !session.AllowedAspectRatios[ratio] {
		t.notify(chatID, "Usage: /aspect 1:1 | 3:2 | 2:3 | 3:4 | 4:3 | 4:5 | 5:4 | 9:16 | 16:9 | 21:9")
		return
	}
	t.store.SetAspectRatio(chatID, ratio)
	t.notify(chatID, fmt.Sprintf("Aspect ratio set to %s.", ratio))
}

func (t *TgBot) commandQuality(chatID int64, arg string) {
	value := strings.ToUpper(strings.TrimSpace(arg))
	if !session.AllowedResolutions[value] {
		t.notify(chatID, "Usage: /quality 1K | 2K (applies to the pro model)")
		return
	}
	t.store.SetResolution(chatID, value)
	t.notify(chatID, fmt.Sprintf("Quality set to %s.", value))
}

func (t *TgBot) commandCount(chatID int64, arg string) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		t.notify(chatID, "Usage: /count 1–4")
		return
	}
	t.store.SetImageCount(chatID, n)
	t.notify(chatID, fmt.Sprintf("Images per request set to %d.", t.store.SettingsSnapshot(chatID).ImagesPerRequest))
}

func helpText() string {
	return "You can use the following commands:\n" +
		"/help - show this help\n" +
		"/model - pick the model (flash or pro)\n" +
		"/aspect - set the aspect ratio\n" +
		"/quality - set the output quality (pro model)\n" +
		"/count - images per request (1-4)\n" +
		"/reset - clear staged photos and pending albums\n\n" +
		"Send a photo with a caption to generate right away, " +
		"or upload photos without a caption and send the prompt separately."
}

// downloadPhoto fetches the largest size of the message's photo.
func (t *TgBot) downloadPhoto(msg *tgbotapi.Message) ([]byte, error) {
	sizes := *msg.Photo
	fileID := sizes[len(sizes)-1].FileID

	url, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolving file url: %w", err)
	}

	resp, err := t.http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetching file: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			t.log.Warn("closing download body", sl.Err(err))
		}
	}(resp.Body)

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("fetching file: http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (t *TgBot) answerCallback(id, text string, alert bool) {
	cb := tgbotapi.NewCallback(id, text)
	if alert {
		cb = tgbotapi.NewCallbackWithAlert(id, text)
	}
	if _, err := t.api.AnswerCallbackQuery(cb); err != nil {
		t.log.Warn("answering callback", sl.Err(err))
	}
}

func (t *TgBot) notify(chatID int64, text string) {
	_, _ = t.SendText(chatID, text)
}
