package core

// Model tiers of the image API.
const (
	ModelFlash = "flash"
	ModelPro   = "pro"
)

// MaxReferencePhotos is the reference-photo cap of a model tier.
func MaxReferencePhotos(model string) int {
	if model == ModelPro {
		return 14
	}
	return 4
}

// ModelName returns the display name of a model tier.
func ModelName(model string) string {
	if model == ModelPro {
		return "Gemini 3 Pro Image Preview"
	}
	return "Gemini 2.5 Flash Image"
}

// Messenger is the chat-transport surface the rest of the bot writes to.
// Every call is best-effort: callers treat a failure as non-fatal and the
// transport logs it.
type Messenger interface {
	// SendText sends a plain message and returns its message id.
	SendText(chatID int64, text string) (int, error)
	// SendStatus sends a staged-photo status message carrying a remove
	// control and returns its message id for later edits.
	SendStatus(chatID int64, text string) (int, error)
	EditStatus(chatID int64, messageID int, text string) error
	DeleteMessage(chatID int64, messageID int) error
	SendPhoto(chatID int64, image []byte, caption string) error
	SendDocument(chatID int64, image []byte, filename string, caption string) error
}

// ImageService handles one generation request end to end. Generate is
// fire-and-forget: it reports nothing back and delivers results, notices
// and ledger updates as side effects.
type ImageService interface {
	Generate(chatID int64, prompt string, photos [][]byte)
}
