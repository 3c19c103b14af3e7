package gemini

import "encoding/base64"

// Allowed values for the image config. Anything else is dropped from the
// request rather than rejected.
var allowedAspectRatios = map[string]bool{
	"1:1": true, "3:2": true, "2:3": true, "3:4": true, "4:3": true,
	"4:5": true, "5:4": true, "9:16": true, "16:9": true, "21:9": true,
}

var allowedResolutions = map[string]bool{"1K": true, "2K": true}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
	Error      *apiStatus  `json:"error"`
}

type candidate struct {
	Content      *content `json:"content"`
	FinishReason string   `json:"finishReason"`
}

type apiStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// newGenerateRequest builds the request body for both text-to-image (no
// photos) and image-to-image calls.
func newGenerateRequest(photos [][]byte, prompt, aspectRatio, resolution string) (*generateRequest, error) {
	var parts []part
	if prompt != "" {
		parts = append(parts, part{Text: prompt})
	}
	for _, photo := range photos {
		if len(photo) == 0 {
			continue
		}
		parts = append(parts, part{
			InlineData: &inlineData{
				MimeType: "image/jpeg",
				Data:     base64.StdEncoding.EncodeToString(photo),
			},
		})
	}
	if len(parts) == 0 {
		return nil, &APIError{Kind: KindInvalidConfig, Message: "neither prompt nor photos given"}
	}

	req := &generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	}

	cfg := &imageConfig{}
	if allowedAspectRatios[aspectRatio] {
		cfg.AspectRatio = aspectRatio
	}
	if allowedResolutions[resolution] {
		cfg.ImageSize = resolution
	}
	if cfg.AspectRatio != "" || cfg.ImageSize != "" {
		req.GenerationConfig.ImageConfig = cfg
	}

	return req, nil
}
