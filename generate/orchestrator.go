package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"orbit/core"
	"orbit/gemini"
	"orbit/lib/sl"
	"orbit/session"
	"orbit/storage"
)

// Gateway produces one image per call. The concrete implementation
// retries transient upstream failures internally.
type Gateway interface {
	GenerateImage(ctx context.Context, photos [][]byte, prompt, aspectRatio, resolution, model string) ([]byte, error)
}

// Credit cost of one generated image per model tier.
const (
	costFlash = 1
	costPro   = 3
)

func costPerImage(model string) int {
	if model == core.ModelPro {
		return costPro
	}
	return costFlash
}

// Orchestrator runs one generation request end to end: validation,
// quota admission, N gateway calls, result delivery and the ledger
// debit. It is the only place upstream failures are translated for the
// user.
type Orchestrator struct {
	store      *session.Store
	ledger     storage.AccountStorage
	gateway    Gateway
	msgr       core.Messenger
	privileged map[int64]bool
	log        *slog.Logger
	now        func() time.Time
}

func NewOrchestrator(store *session.Store, ledger storage.AccountStorage, gateway Gateway, msgr core.Messenger, privileged []int64, log *slog.Logger) *Orchestrator {
	ids := make(map[int64]bool, len(privileged))
	for _, id := range privileged {
		ids[id] = true
	}
	return &Orchestrator{
		store:      store,
		ledger:     ledger,
		gateway:    gateway,
		msgr:       msgr,
		privileged: ids,
		log:        log.With(sl.Module("generate")),
		now:        time.Now,
	}
}

// Generate implements core.ImageService. It is dispatched
// fire-and-forget and reports everything as side effects; an in-flight
// call is not cancellable.
func (o *Orchestrator) Generate(chatID int64, prompt string, photos [][]byte) {
	prompt = strings.TrimSpace(prompt)
	cleaned := photos[:0:0]
	for _, p := range photos {
		if len(p) > 0 {
			cleaned = append(cleaned, p)
		}
	}
	photos = cleaned

	if prompt == "" && len(photos) == 0 {
		o.notify(chatID,
			"⚠️ Neither a text prompt nor photos were given.\n"+
				"Send a text prompt and/or upload one or more photos.")
		return
	}

	settings := o.store.SettingsSnapshot(chatID)
	model := settings.Model
	if model != core.ModelFlash && model != core.ModelPro {
		model = core.ModelFlash
	}
	count := storage.ClampImageCount(settings.ImagesPerRequest)
	cost := costPerImage(model)
	totalCost := cost * count

	isPrivileged := o.privileged[chatID]
	if isPrivileged {
		if !o.admitPrivileged(chatID, model, count) {
			return
		}
	} else if !o.admitStandard(chatID, totalCost) {
		return
	}

	statusText := "🌀 Image generation started..."
	if count > 1 {
		statusText = fmt.Sprintf("🌀 Generation of %d images started...", count)
	}
	statusID, statusErr := o.msgr.SendText(chatID, statusText)
	defer func() {
		// The status notice goes away no matter how the batch ended.
		if statusErr == nil {
			if err := o.msgr.DeleteMessage(chatID, statusID); err != nil {
				o.log.Warn("deleting status message", sl.Chat(chatID), sl.Err(err))
			}
		}
	}()

	successCount := 0
	for i := 0; i < count; i++ {
		image, err := o.gateway.GenerateImage(context.Background(), photos, prompt, settings.AspectRatio, settings.Resolution, model)
		if err != nil {
			if gemini.IsNoImage(err) {
				// Soft failure: skip this iteration, keep the batch.
				o.log.Warn("gateway returned no image", sl.Chat(chatID), sl.Err(err))
				continue
			}
			o.log.Error("generation failed", sl.Chat(chatID), slog.String("model", model), sl.Err(err))
			o.reportFailure(chatID, err)
			o.settleDebit(chatID, isPrivileged, successCount*cost)
			return
		}

		successCount++
		o.recordSuccess(chatID, model)
		o.deliver(chatID, image, successCount, count)
	}

	if successCount == 0 {
		o.notify(chatID,
			"⚠️ The model returned no images.\n"+
				"Try again, or reword the prompt a little.")
		return
	}

	o.settleDebit(chatID, isPrivileged, successCount*cost)

	o.log.With(
		sl.Chat(chatID),
		slog.String("model", model),
		slog.Int("requested", count),
		slog.Int("delivered", successCount),
	).Info("generation finished")
}

// admitPrivileged checks the rolling per-tier window. The ledger is
// never touched for privileged accounts.
func (o *Orchestrator) admitPrivileged(chatID int64, model string, count int) bool {
	window, err := privilegedWindow(o.ledger, chatID, model, o.now())
	if err != nil {
		o.log.Error("checking privileged window", sl.Chat(chatID), sl.Err(err))
		o.notify(chatID, "❗ Could not check your generation limit.\nPlease try again later.")
		return false
	}
	if window.Remaining < count {
		o.notify(chatID, fmt.Sprintf(
			"🚫 The generation limit for %s is reached for the current period %s.\n"+
				"Limit: %d generations, remaining: %d.",
			core.ModelName(model), window.Label, window.Limit, window.Remaining,
		))
		return false
	}
	return true
}

// admitStandard checks the credit balance against the full requested
// cost before any gateway call is made.
func (o *Orchestrator) admitStandard(chatID int64, totalCost int) bool {
	account, err := o.ledger.GetOrCreateAccount(chatID)
	if err != nil {
		o.log.Error("checking credit balance", sl.Chat(chatID), sl.Err(err))
		o.notify(chatID,
			"❗ Could not check your credit balance.\n"+
				"Please try again later or contact support.")
		return false
	}
	if account.CreditBalance < totalCost {
		o.notify(chatID,
			"Not enough credits for this generation. "+
				"Top up your balance in the Subscription section.")
		return false
	}
	return true
}

// settleDebit charges a standard account for the delivered images only.
// Partial failures are never charged beyond what was delivered.
func (o *Orchestrator) settleDebit(chatID int64, isPrivileged bool, amount int) {
	if isPrivileged || amount <= 0 {
		return
	}
	if err := o.ledger.DebitCredits(chatID, amount); err != nil {
		o.log.Warn("debiting credits", sl.Chat(chatID), slog.Int("amount", amount), sl.Err(err))
	}
}

func (o *Orchestrator) recordSuccess(chatID int64, model string) {
	if err := o.ledger.RecordUsage(chatID, model); err != nil {
		o.log.Warn("recording model usage", sl.Chat(chatID), sl.Err(err))
	}
	if err := o.ledger.AppendGenerationLog(chatID, model, o.now()); err != nil {
		o.log.Warn("appending generation log", sl.Chat(chatID), sl.Err(err))
	}
}

// deliver sends one result as a preview photo plus the original-quality
// document.
func (o *Orchestrator) deliver(chatID int64, image []byte, k, n int) {
	caption := fmt.Sprintf("✅ Generated with @Orbit_AIBot (%d/%d)", k, n)
	if err := o.msgr.SendPhoto(chatID, image, caption); err != nil {
		o.log.Warn("sending preview photo", sl.Chat(chatID), sl.Err(err))
	}
	filename := fmt.Sprintf("orbit_result_%d.png", k)
	if err := o.msgr.SendDocument(chatID, image, filename, "Original-quality file"); err != nil {
		o.log.Warn("sending original document", sl.Chat(chatID), sl.Err(err))
	}
}

// reportFailure maps a gateway error kind to a user-facing notice. Only
// the unclassified catch-all carries a bounded technical detail line.
func (o *Orchestrator) reportFailure(chatID int64, err error) {
	var text string
	switch gemini.KindOf(err) {
	case gemini.KindNoImage:
		text = "⚠️ The model could not return an image for this request.\n" +
			"Try rewording the prompt or simplifying the description."
	case gemini.KindOverloaded:
		text = "⚠️ The image service is temporarily overloaded.\n" +
			"Your prompt and photos are fine — please retry a bit later."
	case gemini.KindTimeout:
		text = "⏱ The image service took too long to respond.\n" +
			"Try again in 10–20 seconds, or simplify the request."
	case gemini.KindServerError:
		text = "⚠️ The image service hit an internal error.\n" +
			"Your prompt and photos are fine — please retry later."
	case gemini.KindConnectivity:
		text = "⚠️ Could not reach the image service.\n" +
			"Check the connection and try again."
	case gemini.KindInvalidConfig:
		text = "⚠️ Neither a text prompt nor photos were given.\n" +
			"Send a text prompt and/or upload one or more photos."
	default:
		detail := err.Error()
		if len(detail) > 200 {
			detail = detail[:200] + "..."
		}
		text = "❗ Failed to generate the image.\n" +
			"Technical detail: " + detail
	}
	o.notify(chatID, text)
}

func (o *Orchestrator) notify(chatID int64, text string) {
	if _, err := o.msgr.SendText(chatID, text); err != nil {
		o.log.Warn("sending notice", sl.Chat(chatID), sl.Err(err))
	}
}
