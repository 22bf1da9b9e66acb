package aiproxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/jo-hoe/recognizer/internal/apperr"
	"github.com/jo-hoe/recognizer/internal/common"
	"github.com/jo-hoe/recognizer/internal/params"
)

const (
	acceptJSONOrEventStream = "application/json, text/event-stream"
	authSchemeBearer        = "Bearer"

	// browserUserAgent is a desktop Chrome identity.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// RawResponse is the unparsed upstream reply.
type RawResponse struct {
	Status int
	Body   string
}

// Transport performs a single POST per call with a call-local http.Client.
type Transport struct {
	// RoundTripper overrides http.DefaultTransport when set.
	RoundTripper http.RoundTripper
	UserAgent    string
}

// NewTransport returns a Transport using the default round tripper.
func NewTransport() *Transport {
	return &Transport{UserAgent: browserUserAgent}
}

// Post sends body to cfg.Endpoint once, bounded by cfg.Timeout(). There is no retry.
func (t *Transport) Post(ctx context.Context, cfg params.Resolved, body []byte) (RawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return RawResponse{}, apperr.Wrap(apperr.KindTransport, apperr.ReasonConnection, "post", "new request", err)
	}
	req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)
	req.Header.Set(common.HeaderAccept, acceptJSONOrEventStream)
	req.Header.Set(common.HeaderAuthorization, authSchemeBearer+" "+cfg.APIKey)
	if t.UserAgent != "" {
		req.Header.Set(common.HeaderUserAgent, t.UserAgent)
	}

	client := &http.Client{
		Timeout:   cfg.Timeout(),
		Transport: t.RoundTripper,
	}
	resp, err := client.Do(req)
	if err != nil {
		return RawResponse{}, classifyTransportError("http do", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawResponse{}, classifyTransportError("read body", err)
	}
	return RawResponse{Status: resp.StatusCode, Body: string(respBytes)}, nil
}

func classifyTransportError(msg string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.Wrap(apperr.KindTransport, apperr.ReasonTimeout, "post", msg, err)
	}
	return apperr.Wrap(apperr.KindTransport, apperr.ReasonConnection, "post", msg, err)
}
