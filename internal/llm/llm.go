package llm

import (
	"context"

	"github.com/jo-hoe/recognizer/internal/params"
)

// Request is a single recognition call.
type Request struct {
	ImageBase64 string
	Language    string
	Parameters  params.Bag
}

// Recognizer describes an image in the requested language.
type Recognizer interface {
	// Recognize returns the model's text for req. Failures are *apperr.Error values.
	Recognize(ctx context.Context, req Request) (string, error)
}
