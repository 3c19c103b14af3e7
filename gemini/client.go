package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"orbit/core"
	"orbit/lib/sl"
)

const (
	modelNameFlash = "gemini-2.5-flash-image"
	modelNamePro   = "gemini-3-pro-image-preview"

	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
)

// Client calls the Gemini image models over REST. Transient failures
// (5xx, timeouts, connection errors) are retried internally with
// exponential backoff up to a fixed attempt cap; everything else
// propagates immediately as a typed APIError.
type Client struct {
	apiKey      string
	baseURL     string
	http        *http.Client
	maxAttempts int
	backoffBase time.Duration
	log         *slog.Logger
}

func NewClient(conf *core.Config, log *slog.Logger) *Client {
	timeout := time.Duration(conf.Gemini.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	attempts := conf.Gemini.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := time.Duration(conf.Gemini.BackoffSeconds * float64(time.Second))
	if base <= 0 {
		base = time.Second
	}
	return &Client{
		apiKey:      conf.GeminiApiKey,
		baseURL:     defaultBaseURL,
		http:        &http.Client{Timeout: timeout},
		maxAttempts: attempts,
		backoffBase: base,
		log:         log.With(sl.Module("gemini")),
	}
}

// GenerateImage runs one generation call and returns the raw image
// bytes. The reference-photo list is clamped to the model's maximum.
func (c *Client) GenerateImage(ctx context.Context, photos [][]byte, prompt, aspectRatio, resolution, model string) ([]byte, error) {
	if max := core.MaxReferencePhotos(model); len(photos) > max {
		photos = photos[:max]
	}
	if model != core.ModelPro {
		// Only the pro tier understands the resolution knob.
		resolution = ""
	}
	if aspectRatio != "" && !allowedAspectRatios[aspectRatio] {
		c.log.Warn("dropping unsupported aspect ratio", slog.String("aspect_ratio", aspectRatio))
	}
	if resolution != "" && !allowedResolutions[resolution] {
		c.log.Warn("dropping unsupported resolution", slog.String("resolution", resolution))
	}

	reqBody, err := newGenerateRequest(photos, prompt, aspectRatio, resolution)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", c.baseURL, c.endpointModel(model))

	var image []byte
	attempt := 0
	operation := func() error {
		attempt++
		img, err := c.doRequest(ctx, url, payload)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.retryable() {
				c.log.Warn("gemini call failed, will retry",
					slog.Int("attempt", attempt),
					slog.Int("max_attempts", c.maxAttempts),
					sl.Err(err),
				)
				return err
			}
			return backoff.Permanent(err)
		}
		image = img
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.backoffBase
	policy.MaxElapsedTime = 0
	err = backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.maxAttempts-1)), ctx))
	if err != nil {
		return nil, err
	}

	c.log.With(
		slog.String("model", model),
		slog.Int("prompt_len", len(prompt)),
		slog.Int("photos", len(photos)),
		slog.Int("image_bytes", len(image)),
	).Info("image generated")

	return image, nil
}

func (c *Client) endpointModel(model string) string {
	if model == core.ModelPro {
		return modelNamePro
	}
	return modelNameFlash
}

// doRequest performs one HTTP round trip and normalizes the outcome.
func (c *Client) doRequest(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.log.Error("closing response body", sl.Err(err))
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindConnectivity, Message: fmt.Sprintf("reading response body: %v", err)}
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, &APIError{Kind: KindOverloaded, Status: resp.StatusCode, Message: truncate(string(raw), 300)}
	case resp.StatusCode >= 500:
		return nil, &APIError{Kind: KindServerError, Status: resp.StatusCode, Message: truncate(string(raw), 300)}
	case resp.StatusCode >= 400:
		return nil, &APIError{Kind: KindPermanent, Status: resp.StatusCode, Message: truncate(string(raw), 300)}
	}

	var data generateResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &APIError{Kind: KindBadResponse, Message: fmt.Sprintf("decoding response: %v", err)}
	}

	return extractImage(&data)
}

func classifyTransportError(err error) *APIError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &APIError{Kind: KindTimeout, Message: err.Error()}
	}
	return &APIError{Kind: KindConnectivity, Message: err.Error()}
}

// extractImage pulls the first inline image out of a decoded response.
func extractImage(data *generateResponse) ([]byte, error) {
	if data.Error != nil {
		return nil, &APIError{
			Kind:    KindPermanent,
			Status:  data.Error.Code,
			Message: data.Error.Message,
		}
	}
	if len(data.Candidates) == 0 {
		return nil, &APIError{Kind: KindNoImage, Message: "empty candidates list"}
	}

	first := data.Candidates[0]
	if first.Content == nil {
		return nil, &APIError{
			Kind:    KindNoImage,
			Message: fmt.Sprintf("candidate has no content, finishReason=%s", first.FinishReason),
		}
	}
	for _, p := range first.Content.Parts {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		image, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return nil, &APIError{Kind: KindBadResponse, Message: fmt.Sprintf("decoding inline data: %v", err)}
		}
		return image, nil
	}

	return nil, &APIError{Kind: KindNoImage, Message: "no inline image data in response"}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
