package upload

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/recognizer/internal/apperr"
	"github.com/jo-hoe/recognizer/internal/common"
)

// Image is an uploaded picture held in memory, ready for recognition.
type Image struct {
	Base64   string
	MimeType string
	Size     int64
}

var allowedImageMimes = map[string]struct{}{
	common.MimeImagePNG:  {},
	common.MimeImageJPEG: {},
	common.MimeImageJPG:  {},
	common.MimeImageGIF:  {},
	common.MimeImageWEBP: {},
	common.MimeImageBMP:  {},
}

// Not every platform registers these with the mime package.
var extensionMimes = map[string]string{
	".png":  common.MimeImagePNG,
	".jpg":  common.MimeImageJPEG,
	".jpeg": common.MimeImageJPEG,
	".gif":  common.MimeImageGIF,
	".webp": common.MimeImageWEBP,
	".bmp":  common.MimeImageBMP,
}

// ReadMultipartImage validates an uploaded image and returns it base64 encoded.
// Content type is taken from the part header, then the file extension, then the content itself.
func ReadMultipartImage(fileHeader *multipart.FileHeader, maxBytes int64) (Image, error) {
	if fileHeader == nil {
		return Image{}, apperr.New(apperr.KindImage, apperr.ReasonDecode, "upload", "no file provided")
	}
	if maxBytes > 0 && fileHeader.Size > maxBytes {
		return Image{}, tooLarge(fileHeader.Filename, maxBytes)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return Image{}, apperr.Wrap(apperr.KindImage, apperr.ReasonDecode, "upload", "open uploaded file", err)
	}
	defer func() { _ = src.Close() }()

	return read(src, fileHeader.Filename, fileHeader.Header.Get(common.HeaderContentType), maxBytes)
}

// ReadFile loads an image from disk the same way ReadMultipartImage treats uploads.
func ReadFile(path string, maxBytes int64) (Image, error) {
	cleanPath := filepath.Clean(path)
	f, err := os.Open(cleanPath) // #nosec G304 - caller chooses the file to recognize
	if err != nil {
		return Image{}, apperr.Wrap(apperr.KindImage, apperr.ReasonDecode, "upload", "open file", err)
	}
	defer func() { _ = f.Close() }()

	return read(f, cleanPath, "", maxBytes)
}

func read(src io.Reader, filename, declared string, maxBytes int64) (Image, error) {
	r := src
	if maxBytes > 0 {
		r = io.LimitReader(src, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Image{}, apperr.Wrap(apperr.KindImage, apperr.ReasonDecode, "upload", "read image", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return Image{}, tooLarge(filename, maxBytes)
	}
	if len(data) == 0 {
		return Image{}, apperr.New(apperr.KindImage, apperr.ReasonDecode, "upload", "empty file")
	}

	mimeType := detectMime(declared, filename, data)
	if !isAllowedImageMime(mimeType) {
		return Image{}, apperr.New(apperr.KindImage, apperr.ReasonDecode, "upload",
			fmt.Sprintf("unsupported content type: %s", mimeType))
	}

	return Image{
		Base64:   base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, nil
}

func detectMime(declared, filename string, data []byte) string {
	mt := normalizeMime(declared)
	// Some clients set application/octet-stream for uploads; treat it as unknown.
	if mt != "" && mt != common.MimeOctet {
		return mt
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if known, ok := extensionMimes[ext]; ok {
		return known
	}
	if byExt := normalizeMime(mime.TypeByExtension(ext)); byExt != "" {
		return byExt
	}
	return normalizeMime(http.DetectContentType(data[:min(len(data), 512)]))
}

func normalizeMime(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(v); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(v)
}

func isAllowedImageMime(mimeType string) bool {
	_, ok := allowedImageMimes[mimeType]
	return ok
}

func tooLarge(name string, maxBytes int64) error {
	return apperr.New(apperr.KindImage, apperr.ReasonTooLarge, "upload",
		fmt.Sprintf("%s exceeds %d bytes", filepath.Base(name), maxBytes))
}
