package aiproxy

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/jo-hoe/recognizer/internal/apperr"
)

// ExtractContent reads choices[0].message.content from a raw chat completion body.
// The HTTP status does not matter: a body without that string is a shape error.
func ExtractContent(raw RawResponse) (string, error) {
	var doc any
	if err := sonic.UnmarshalString(raw.Body, &doc); err != nil {
		e := apperr.Wrap(apperr.KindResponse, apperr.ReasonParse, "extract",
			fmt.Sprintf("status %d: body is not json", raw.Status), err)
		e.Body = raw.Body
		return "", e
	}

	content, ok := contentPath(doc)
	if !ok {
		return "", apperr.New(apperr.KindResponse, apperr.ReasonShape, "extract",
			fmt.Sprintf("status %d: choices[0].message.content missing or not a string: %s", raw.Status, truncate(raw.Body, errorSnippetLimit)))
	}
	return content, nil
}

func contentPath(doc any) (string, bool) {
	root, ok := doc.(map[string]any)
	if !ok {
		return "", false
	}
	choices, ok := root["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	message, ok := first["message"].(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := message["content"].(string)
	return content, ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
