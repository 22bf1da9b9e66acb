package aiproxy

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dustin/go-humanize"

	"github.com/jo-hoe/recognizer/internal/apperr"
	"github.com/jo-hoe/recognizer/internal/imaging"
	"github.com/jo-hoe/recognizer/internal/llm"
	"github.com/jo-hoe/recognizer/internal/params"
)

var _ llm.Recognizer = (*Client)(nil)

const errorSnippetLimit = 400

// Client implements llm.Recognizer against an OpenAI-compatible chat completions endpoint.
type Client struct {
	log        *slog.Logger
	normalizer *imaging.Normalizer
	transport  *Transport
}

// Option customizes a Client.
type Option func(*Client)

// WithNormalizer replaces the default image normalizer.
func WithNormalizer(n *imaging.Normalizer) Option {
	return func(c *Client) {
		if n != nil {
			c.normalizer = n
		}
	}
}

// WithTransport replaces the default transport.
func WithTransport(t *Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

// New creates a Client. A nil logger discards output.
func New(log *slog.Logger, opts ...Option) *Client {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Client{
		log:        log,
		normalizer: imaging.New(log),
		transport:  NewTransport(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recognize resolves parameters, normalizes the image, sends one request and extracts the answer.
func (c *Client) Recognize(ctx context.Context, req llm.Request) (string, error) {
	cfg, err := params.Resolve(req.Parameters)
	if err != nil {
		return "", err
	}

	img, err := c.normalizer.Normalize(req.ImageBase64)
	if err != nil {
		return "", err
	}

	body, err := sonic.Marshal(BuildRequest(cfg, img, req.Language))
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransport, apperr.ReasonConnection, "build", "marshal request", err)
	}

	log := c.log.With("endpoint", cfg.Endpoint, "model", cfg.Model)
	log.Debug("sending recognition request",
		"language", req.Language,
		"stream", cfg.Stream,
		"timeout", cfg.Timeout(),
		"payload", humanize.IBytes(uint64(len(body))))

	start := time.Now()
	raw, err := c.transport.Post(ctx, cfg, body)
	if err != nil {
		log.Error("recognition request failed", "err", err, "duration", time.Since(start))
		return "", err
	}

	text, err := ExtractContent(raw)
	if err != nil {
		if b, ok := apperr.Body(err); ok {
			log.Warn("unparsable response body", "status", raw.Status, "body", truncate(b, errorSnippetLimit))
		}
		return "", err
	}
	log.Info("recognized image", "status", raw.Status, "chars", len(text), "duration", time.Since(start))
	return text, nil
}
