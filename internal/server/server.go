package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jo-hoe/recognizer/internal/apperr"
	"github.com/jo-hoe/recognizer/internal/common"
	"github.com/jo-hoe/recognizer/internal/config"
	"github.com/jo-hoe/recognizer/internal/llm"
	"github.com/jo-hoe/recognizer/internal/params"
	"github.com/jo-hoe/recognizer/internal/upload"
)

const (
	ctxKeyRequestID   = "request_id"
	upstreamBodyLimit = 400
)

type Service struct {
	Log        *slog.Logger
	Cfg        *config.Config
	Recognizer llm.Recognizer
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	if svc.Log == nil {
		svc.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}

	if svc.Cfg.SlogLevel() == slog.LevelDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.CustomRecovery(recoveryHandler(svc.Log)))
	engine.Use(requestIDMiddleware())
	engine.Use(loggingMiddleware(svc.Log))
	if origins := svc.Cfg.Server.AllowedOrigins; len(origins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{
				"Origin",
				common.HeaderContentType,
				common.HeaderAPIKey,
				common.HeaderRequestID,
			},
			ExposeHeaders: []string{common.HeaderRequestID},
			MaxAge:        12 * time.Hour,
		}))
	}

	engine.GET(common.PathHealthz, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("")
	api.Use(svc.apiKeyMiddleware(), svc.bodyLimitMiddleware())
	api.POST(common.PathRecognitions, svc.handleCreateRecognition)

	return &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      engine,
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
}

// Enforce API key if configured
func (svc *Service) apiKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if c.GetHeader(common.HeaderAPIKey) != key {
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
					ID:    c.GetString(ctxKeyRequestID),
					Error: "unauthorized",
				})
				return
			}
		}
		c.Next()
	}
}

func (svc *Service) bodyLimitMiddleware() gin.HandlerFunc {
	max := safeInt64(svc.Cfg.Server.MaxUploadSize)
	return func(c *gin.Context) {
		if max > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}

type createRequest struct {
	Image      string         `json:"image"`
	Language   string         `json:"language"`
	Parameters map[string]any `json:"parameters"`
}

type createResponse struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type errorResponse struct {
	ID           string `json:"id"`
	Error        string `json:"error"`
	Kind         string `json:"kind,omitempty"`
	Reason       string `json:"reason,omitempty"`
	UpstreamBody string `json:"upstream_body,omitempty"`
}

func (svc *Service) handleCreateRecognition(c *gin.Context) {
	id := c.GetString(ctxKeyRequestID)
	log := svc.Log.With("request_id", id)

	var (
		in  createRequest
		err error
	)
	if c.ContentType() == common.ContentTypeForm {
		in, err = svc.readMultipart(c)
	} else {
		in, err = readJSON(c)
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			fail(c, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		if apperr.IsKind(err, apperr.KindImage) {
			failWith(c, err)
			return
		}
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if strings.TrimSpace(in.Language) == "" {
		fail(c, http.StatusBadRequest, "language is required")
		return
	}
	if in.Image == "" {
		fail(c, http.StatusBadRequest, "image is required")
		return
	}
	overrides, err := toBag(in.Parameters)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	text, err := svc.Recognizer.Recognize(c.Request.Context(), llm.Request{
		ImageBase64: in.Image,
		Language:    in.Language,
		Parameters:  params.Merge(svc.Cfg.Recognition.Parameters, overrides),
	})
	if err != nil {
		log.Error("recognition failed", "err", err)
		failWith(c, err)
		return
	}

	log.Info("recognition completed", "language", in.Language, "chars", len(text))
	c.JSON(http.StatusOK, createResponse{ID: id, Text: text})
}

func readJSON(c *gin.Context) (createRequest, error) {
	var in createRequest
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return in, err
	}
	if err := sonic.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("invalid json body: %w", err)
	}
	return in, nil
}

func (svc *Service) readMultipart(c *gin.Context) (createRequest, error) {
	var in createRequest
	max := safeInt64(svc.Cfg.Server.MaxUploadSize)
	if err := c.Request.ParseMultipartForm(max); err != nil {
		return in, fmt.Errorf("invalid form: %w", err)
	}

	in.Language = c.Request.FormValue("language")
	if raw := strings.TrimSpace(c.Request.FormValue("parameters")); raw != "" {
		if err := sonic.UnmarshalString(raw, &in.Parameters); err != nil {
			return in, fmt.Errorf("invalid parameters json: %w", err)
		}
	}

	files := c.Request.MultipartForm.File["file"]
	if len(files) == 0 {
		return in, errors.New("file is required")
	}
	img, err := upload.ReadMultipartImage(files[0], max)
	if err != nil {
		return in, err
	}
	in.Image = img.Base64
	return in, nil
}

// toBag flattens JSON scalars to strings. Nested values are rejected.
func toBag(m map[string]any) (params.Bag, error) {
	bag := make(params.Bag, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			bag[k] = t
		case bool:
			bag[k] = strconv.FormatBool(t)
		case float64:
			bag[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case nil:
		default:
			return nil, fmt.Errorf("parameter %q must be a string, number or boolean", k)
		}
	}
	return bag, nil
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{ID: c.GetString(ctxKeyRequestID), Error: msg})
}

func failWith(c *gin.Context, err error) {
	kind, reason := apperr.KindOf(err)
	out := errorResponse{
		ID:     c.GetString(ctxKeyRequestID),
		Error:  err.Error(),
		Kind:   string(kind),
		Reason: string(reason),
	}
	if body, ok := apperr.Body(err); ok {
		out.UpstreamBody = truncate(body, upstreamBodyLimit)
	}
	c.AbortWithStatusJSON(statusFor(kind, reason), out)
}

func statusFor(kind apperr.Kind, reason apperr.Reason) int {
	switch kind {
	case apperr.KindConfig:
		return http.StatusBadRequest
	case apperr.KindImage:
		return http.StatusUnprocessableEntity
	case apperr.KindTransport:
		if reason == apperr.ReasonTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case apperr.KindResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(common.HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Header(common.HeaderRequestID, id)
		c.Next()
	}
}

func loggingMiddleware(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"remote", c.ClientIP(),
			"request_id", c.GetString(ctxKeyRequestID))
	}
}

func recoveryHandler(log *slog.Logger) gin.RecoveryFunc {
	return func(c *gin.Context, rec any) {
		log.Error("panic recovered", "panic", rec, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
			ID:    c.GetString(ctxKeyRequestID),
			Error: "internal error",
		})
	}
}
