package mock

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jo-hoe/recognizer/internal/apperr"
	"github.com/jo-hoe/recognizer/internal/config"
	"github.com/jo-hoe/recognizer/internal/llm"
	"github.com/jo-hoe/recognizer/internal/params"
)

var _ llm.Recognizer = (*Client)(nil)

// Client is an offline recognizer that describes the payload instead of calling a model.
type Client struct {
	delay  time.Duration
	prefix string
}

func New(cfg config.MockSettings) *Client {
	return &Client{delay: cfg.Delay, prefix: cfg.Prefix}
}

func (c *Client) Recognize(ctx context.Context, req llm.Request) (string, error) {
	if _, err := params.Resolve(req.Parameters); err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		return "", apperr.Wrap(apperr.KindImage, apperr.ReasonDecode, "mock", "invalid base64", err)
	}

	if c.delay > 0 {
		timer := time.NewTimer(c.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", apperr.Wrap(apperr.KindTransport, apperr.ReasonTimeout, "mock", "cancelled", ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return "", apperr.Wrap(apperr.KindTransport, apperr.ReasonTimeout, "mock", "cancelled", err)
	}

	return fmt.Sprintf("%s [%s] %d bytes", c.prefix, req.Language, len(raw)), nil
}
