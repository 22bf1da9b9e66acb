package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jo-hoe/recognizer/internal/apperr"
	"github.com/jo-hoe/recognizer/internal/common"
	"github.com/jo-hoe/recognizer/internal/config"
	"github.com/jo-hoe/recognizer/internal/llm"
	"github.com/jo-hoe/recognizer/internal/llm/mock"
	"github.com/jo-hoe/recognizer/internal/params"
)

type captureRecognizer struct {
	mu   sync.Mutex
	last llm.Request
	text string
	err  error
}

func (r *captureRecognizer) Recognize(ctx context.Context, req llm.Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = req
	return r.text, r.err
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Addr:          ":0",
			MaxUploadSize: config.ByteSize(1 << 20),
			LogLevel:      "info",
		},
		Recognition: config.RecognitionConfig{
			Parameters: params.Bag{params.KeyAPIKey: "cfg-key", params.KeyModel: "cfg-model"},
		},
	}
}

func newTestServer(cfg *config.Config, rec llm.Recognizer) *http.Server {
	return NewHTTPServer(&Service{Cfg: cfg, Recognizer: rec})
}

func do(t *testing.T, srv *http.Server, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("json: %v (body %q)", err, rec.Body.String())
		}
	}
	return rec, body
}

func jsonRequest(t *testing.T, payload any) *http.Request {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, common.PathRecognitions, bytes.NewReader(b))
	req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)
	return req
}

var imageB64 = base64.StdEncoding.EncodeToString([]byte("fakeimagedata"))

func TestHealthz(t *testing.T) {
	srv := newTestServer(testConfig(), &captureRecognizer{})
	rec, body := do(t, srv, httptest.NewRequest(http.MethodGet, common.PathHealthz, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestCreateRecognition_JSONWithMock(t *testing.T) {
	srv := newTestServer(testConfig(), mock.New(config.MockSettings{Prefix: "Mock"}))

	rec, body := do(t, srv, jsonRequest(t, map[string]any{
		"image":    imageB64,
		"language": "de",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %v", rec.Code, body)
	}
	if body["text"] != "Mock [de] 13 bytes" {
		t.Fatalf("text = %v", body["text"])
	}
	id, _ := body["id"].(string)
	if id == "" || rec.Header().Get(common.HeaderRequestID) != id {
		t.Fatalf("request id mismatch: body %q header %q", id, rec.Header().Get(common.HeaderRequestID))
	}
}

func TestCreateRecognition_KeepsClientRequestID(t *testing.T) {
	srv := newTestServer(testConfig(), &captureRecognizer{text: "ok"})
	req := jsonRequest(t, map[string]any{"image": imageB64, "language": "en"})
	req.Header.Set(common.HeaderRequestID, "client-id-1")

	rec, body := do(t, srv, req)
	if rec.Code != http.StatusOK || body["id"] != "client-id-1" {
		t.Fatalf("status %d, body %v", rec.Code, body)
	}
}

func TestCreateRecognition_MergesParameters(t *testing.T) {
	capture := &captureRecognizer{text: "ok"}
	srv := newTestServer(testConfig(), capture)

	rec, body := do(t, srv, jsonRequest(t, map[string]any{
		"image":    imageB64,
		"language": "en",
		"parameters": map[string]any{
			"model":   "req-model",
			"stream":  true,
			"timeout": 5,
		},
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %v", rec.Code, body)
	}

	got := capture.last.Parameters
	want := params.Bag{
		params.KeyAPIKey:  "cfg-key",
		params.KeyModel:   "req-model",
		params.KeyStream:  "true",
		params.KeyTimeout: "5",
	}
	if len(got) != len(want) {
		t.Fatalf("parameters = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("parameter %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestCreateRecognition_BadRequests(t *testing.T) {
	srv := newTestServer(testConfig(), &captureRecognizer{text: "ok"})

	cases := map[string]*http.Request{
		"missing language": jsonRequest(t, map[string]any{"image": imageB64}),
		"missing image":    jsonRequest(t, map[string]any{"language": "en"}),
		"nested parameter": jsonRequest(t, map[string]any{"image": imageB64, "language": "en", "parameters": map[string]any{"x": []int{1}}}),
	}
	broken := httptest.NewRequest(http.MethodPost, common.PathRecognitions, strings.NewReader("{"))
	broken.Header.Set(common.HeaderContentType, common.ContentTypeJSON)
	cases["invalid json"] = broken

	for name, req := range cases {
		rec, body := do(t, srv, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d, body %v", name, rec.Code, body)
		}
		if body["error"] == "" {
			t.Fatalf("%s: missing error message", name)
		}
	}
}

func TestCreateRecognition_MissingAPIKeyIsBadRequest(t *testing.T) {
	cfg := testConfig()
	cfg.Recognition.Parameters = nil
	srv := newTestServer(cfg, mock.New(config.MockSettings{Prefix: "Mock"}))

	rec, body := do(t, srv, jsonRequest(t, map[string]any{"image": imageB64, "language": "en"}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, body %v", rec.Code, body)
	}
	if body["kind"] != string(apperr.KindConfig) || body["reason"] != string(apperr.ReasonMissingAPIKey) {
		t.Fatalf("unexpected classification: %v", body)
	}
}

func TestCreateRecognition_ErrorStatusMapping(t *testing.T) {
	parseErr := apperr.New(apperr.KindResponse, apperr.ReasonParse, "extract", "not json")
	parseErr.Body = strings.Repeat("x", 1000)

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"config", apperr.New(apperr.KindConfig, apperr.ReasonMissingAPIKey, "resolve", "apikey not found"), http.StatusBadRequest},
		{"image decode", apperr.New(apperr.KindImage, apperr.ReasonDecode, "normalize", "bad"), http.StatusUnprocessableEntity},
		{"image too large", apperr.New(apperr.KindImage, apperr.ReasonTooLarge, "normalize", "big"), http.StatusUnprocessableEntity},
		{"timeout", apperr.New(apperr.KindTransport, apperr.ReasonTimeout, "post", "slow"), http.StatusGatewayTimeout},
		{"connection", apperr.New(apperr.KindTransport, apperr.ReasonConnection, "post", "refused"), http.StatusBadGateway},
		{"shape", apperr.New(apperr.KindResponse, apperr.ReasonShape, "extract", "no content"), http.StatusBadGateway},
		{"parse", parseErr, http.StatusBadGateway},
		{"untyped", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, c := range cases {
		srv := newTestServer(testConfig(), &captureRecognizer{err: c.err})
		rec, body := do(t, srv, jsonRequest(t, map[string]any{"image": imageB64, "language": "en"}))
		if rec.Code != c.want {
			t.Fatalf("%s: status %d, want %d", c.name, rec.Code, c.want)
		}
		upstream, _ := body["upstream_body"].(string)
		if c.name == "parse" {
			if len(upstream) != upstreamBodyLimit {
				t.Fatalf("upstream_body length %d, want %d", len(upstream), upstreamBodyLimit)
			}
		} else if upstream != "" {
			t.Fatalf("%s: unexpected upstream_body", c.name)
		}
	}
}

func TestCreateRecognition_RequiresAPIKeyHeader(t *testing.T) {
	cfg := testConfig()
	cfg.Server.APIKey = "secret"
	srv := newTestServer(cfg, &captureRecognizer{text: "ok"})

	rec, _ := do(t, srv, jsonRequest(t, map[string]any{"image": imageB64, "language": "en"}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}

	req := jsonRequest(t, map[string]any{"image": imageB64, "language": "en"})
	req.Header.Set(common.HeaderAPIKey, "secret")
	rec, _ = do(t, srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
}

func TestCreateRecognition_BodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxUploadSize = 64
	srv := newTestServer(cfg, &captureRecognizer{text: "ok"})

	rec, _ := do(t, srv, jsonRequest(t, map[string]any{
		"image":    strings.Repeat("A", 256),
		"language": "en",
	}))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status %d, want 413", rec.Code)
	}
}

func makeMultipart(t *testing.T, fields map[string]string, filename string, content []byte) (string, *bytes.Buffer) {
	t.Helper()
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := io.Copy(fw, bytes.NewReader(content)); err != nil {
			t.Fatalf("copy: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return w.FormDataContentType(), &b
}

func TestCreateRecognition_Multipart(t *testing.T) {
	capture := &captureRecognizer{text: "from file"}
	srv := newTestServer(testConfig(), capture)

	// Rely on extension detection since the writer sends application/octet-stream
	ct, body := makeMultipart(t, map[string]string{
		"language":   "fr",
		"parameters": `{"prompt":"Read the sign."}`,
	}, "sign.png", []byte("pngbytes"))
	req := httptest.NewRequest(http.MethodPost, common.PathRecognitions, body)
	req.Header.Set(common.HeaderContentType, ct)

	rec, out := do(t, srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %v", rec.Code, out)
	}
	if out["text"] != "from file" {
		t.Fatalf("text = %v", out["text"])
	}
	if capture.last.Language != "fr" || capture.last.Parameters[params.KeyPrompt] != "Read the sign." {
		t.Fatalf("unexpected request: %+v", capture.last)
	}
	if capture.last.ImageBase64 != base64.StdEncoding.EncodeToString([]byte("pngbytes")) {
		t.Fatalf("image not forwarded as base64")
	}
}

func TestCreateRecognition_MultipartRejects(t *testing.T) {
	srv := newTestServer(testConfig(), &captureRecognizer{text: "ok"})

	ct, body := makeMultipart(t, map[string]string{"language": "en"}, "", nil)
	req := httptest.NewRequest(http.MethodPost, common.PathRecognitions, body)
	req.Header.Set(common.HeaderContentType, ct)
	if rec, _ := do(t, srv, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file: status %d", rec.Code)
	}

	ct, body = makeMultipart(t, map[string]string{"language": "en"}, "notes.txt", []byte("plain text"))
	req = httptest.NewRequest(http.MethodPost, common.PathRecognitions, body)
	req.Header.Set(common.HeaderContentType, ct)
	if rec, _ := do(t, srv, req); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unsupported file: status %d", rec.Code)
	}

	ct, body = makeMultipart(t, map[string]string{"language": "en", "parameters": "{"}, "a.png", []byte("png"))
	req = httptest.NewRequest(http.MethodPost, common.PathRecognitions, body)
	req.Header.Set(common.HeaderContentType, ct)
	if rec, _ := do(t, srv, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid parameters: status %d", rec.Code)
	}
}

func TestCORS_OnlyWhenConfigured(t *testing.T) {
	preflight := func() *http.Request {
		req := httptest.NewRequest(http.MethodOptions, common.PathRecognitions, nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		return req
	}

	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	rec := httptest.NewRecorder()
	newTestServer(cfg, &captureRecognizer{}).Handler.ServeHTTP(rec, preflight())
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("cors header missing: %v", rec.Header())
	}

	rec = httptest.NewRecorder()
	newTestServer(testConfig(), &captureRecognizer{}).Handler.ServeHTTP(rec, preflight())
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("cors header set without configuration")
	}
}
