package params

import (
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/recognizer/internal/apperr"
)

// Recognized parameter names. Any other key in a Bag is ignored.
const (
	KeyAPIKey   = "apikey"
	KeyEndpoint = "endpoint"
	KeyModel    = "model"
	KeyPrompt   = "prompt"
	KeyStream   = "stream"
	KeyTimeout  = "timeout"
)

const (
	DefaultEndpoint       = "https://one.lehhair.net/v1/chat/completions"
	DefaultModel          = "gpt-4o-vision"
	DefaultTimeoutSeconds = 30
)

// Bag is the untyped, caller-supplied parameter set of one recognition call.
type Bag map[string]string

// Resolved is the fully defaulted configuration derived from a Bag.
type Resolved struct {
	APIKey         string
	Endpoint       string
	Model          string
	Prompt         string
	Stream         bool
	TimeoutSeconds uint64
}

// Timeout returns the request timeout as a duration.
func (r Resolved) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Resolve turns a Bag into a Resolved configuration. Only a missing or empty apikey fails.
func Resolve(bag Bag) (Resolved, error) {
	apiKey := bag[KeyAPIKey]
	if apiKey == "" {
		return Resolved{}, apperr.New(apperr.KindConfig, apperr.ReasonMissingAPIKey, "resolve", "apikey not found")
	}

	return Resolved{
		APIKey:         apiKey,
		Endpoint:       stringOr(bag, KeyEndpoint, DefaultEndpoint),
		Model:          stringOr(bag, KeyModel, DefaultModel),
		Prompt:         stringOr(bag, KeyPrompt, ""),
		Stream:         parseStream(bag),
		TimeoutSeconds: parseTimeout(bag),
	}, nil
}

// Merge returns a new Bag holding defaults overlaid by overrides. Inputs are not modified.
func Merge(defaults, overrides Bag) Bag {
	out := make(Bag, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func stringOr(bag Bag, key, def string) string {
	if v, ok := bag[key]; ok {
		return v
	}
	return def
}

func parseStream(bag Bag) bool {
	v, ok := bag[KeyStream]
	if !ok {
		return false
	}
	return strings.ToLower(v) == "true"
}

// parseTimeout never fails: unparsable values and zero fall back to the default
// so the request always stays bounded.
func parseTimeout(bag Bag) uint64 {
	v, ok := bag[KeyTimeout]
	if !ok {
		return DefaultTimeoutSeconds
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil || n == 0 {
		return DefaultTimeoutSeconds
	}
	return n
}
