package aiproxy

import (
	"github.com/sashabaranov/go-openai"

	"github.com/jo-hoe/recognizer/internal/common"
	"github.com/jo-hoe/recognizer/internal/params"
)

const (
	// userMarker is the literal text sent alongside the image.
	userMarker     = "analyze"
	languageMarker = "Output Language:"

	// Sampling parameters are fixed for every request.
	temperature      = 0.5
	presencePenalty  = 0
	frequencyPenalty = 0
	topP             = 1
)

// ChatCompletionRequest is the outbound document. Sampling fields are never omitted.
type ChatCompletionRequest struct {
	Messages         []ChatMessage `json:"messages"`
	Stream           bool          `json:"stream"`
	Model            string        `json:"model"`
	Temperature      float64       `json:"temperature"`
	PresencePenalty  float64       `json:"presence_penalty"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	TopP             float64       `json:"top_p"`
}

// ChatMessage carries either a string or a list of multimodal parts as content.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// BuildRequest assembles the chat completion document for one image.
func BuildRequest(cfg params.Resolved, imageB64, language string) ChatCompletionRequest {
	return ChatCompletionRequest{
		Messages: []ChatMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: SystemPrompt(cfg.Prompt, language),
			},
			{
				Role: openai.ChatMessageRoleUser,
				Content: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: userMarker},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: DataURL(imageB64)}},
				},
			},
		},
		Stream:           cfg.Stream,
		Model:            cfg.Model,
		Temperature:      temperature,
		PresencePenalty:  presencePenalty,
		FrequencyPenalty: frequencyPenalty,
		TopP:             topP,
	}
}

// SystemPrompt appends the output language directive to prompt.
func SystemPrompt(prompt, language string) string {
	if prompt == "" {
		return languageMarker + language
	}
	return prompt + "\n" + languageMarker + language
}

// DataURL embeds the image under the JPEG MIME type, whatever its actual format.
func DataURL(imageB64 string) string {
	return common.DataURLPrefix + common.MimeImageJPEG + common.DataURLBase64Sep + imageB64
}
