package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey        = "X-API-Key" // #nosec G101 - header name constant, not a credential
	HeaderRequestID     = "X-Request-ID"
	HeaderContentType   = "Content-Type"
	HeaderAccept        = "Accept"
	HeaderAuthorization = "Authorization"
	HeaderUserAgent     = "User-Agent"
	ContentTypeJSON     = "application/json"
	ContentTypeForm     = "multipart/form-data"
)

// API paths
const (
	PathHealthz      = "/healthz"
	PathRecognitions = "/v1/recognitions"
)

// Defaults and limits
const (
	DefaultWorkerCount = 4
	DefaultLanguage    = "en"
)

// MIME types
const (
	MimeImagePNG  = "image/png"
	MimeImageJPEG = "image/jpeg"
	MimeImageJPG  = "image/jpg"
	MimeImageGIF  = "image/gif"
	MimeImageWEBP = "image/webp"
	MimeImageBMP  = "image/bmp"
	MimeOctet     = "application/octet-stream"
)

// Data URL parts
const (
	DataURLPrefix    = "data:"
	DataURLBase64Sep = ";base64,"
)
