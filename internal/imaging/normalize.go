package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"

	// Decoders available to image.Decode.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dustin/go-humanize"
	"golang.org/x/image/draw"

	"github.com/jo-hoe/recognizer/internal/apperr"
)

const (
	// TransferBudget is the ceiling for the embedded image payload in bytes.
	TransferBudget = 1 << 20
	// TargetLongEdge is the long edge, in pixels, of a resized image.
	TargetLongEdge = 1400

	StartQuality = 80
	QualityStep  = 5
	MinQuality   = 10
)

// QualityLadder returns the JPEG qualities tried, in order, when an image must be recompressed.
func QualityLadder() []int {
	ladder := make([]int, 0, (StartQuality-MinQuality)/QualityStep+1)
	for q := StartQuality; q >= MinQuality; q -= QualityStep {
		ladder = append(ladder, q)
	}
	return ladder
}

// Normalizer shrinks base64 images so their decoded size fits a byte budget.
type Normalizer struct {
	Budget   int
	LongEdge int
	Log      *slog.Logger
	// OnAttempt, if set, observes every encode attempt of the quality search.
	OnAttempt func(quality, size int)
}

// New returns a Normalizer with the 1 MiB budget and 1400px long edge.
func New(log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Normalizer{
		Budget:   TransferBudget,
		LongEdge: TargetLongEdge,
		Log:      log,
	}
}

// Normalize is shorthand for New(nil).Normalize.
func Normalize(b64 string) (string, error) {
	return New(nil).Normalize(b64)
}

// Normalize returns b64 unchanged when its decoded size is within budget. Otherwise the
// image is resized to the target long edge and JPEG-encoded at decreasing quality until
// it fits. The result is always base64.
func (n *Normalizer) Normalize(b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", apperr.Wrap(apperr.KindImage, apperr.ReasonDecode, "normalize", "invalid base64", err)
	}
	if len(raw) <= n.Budget {
		return b64, nil
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", apperr.Wrap(apperr.KindImage, apperr.ReasonDecode, "normalize", "unrecognized image data", err)
	}

	bounds := img.Bounds()
	w, h := scaledSize(bounds.Dx(), bounds.Dy(), n.LongEdge)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)

	n.logger().Debug("resized image",
		"format", format,
		"from", fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()),
		"to", fmt.Sprintf("%dx%d", w, h),
		"size", humanize.IBytes(uint64(len(raw))))

	var buf bytes.Buffer
	for _, q := range QualityLadder() {
		buf.Reset()
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: q}); err != nil {
			return "", apperr.Wrap(apperr.KindImage, apperr.ReasonDecode, "normalize", "jpeg encode", err)
		}
		if n.OnAttempt != nil {
			n.OnAttempt(q, buf.Len())
		}
		if buf.Len() <= n.Budget {
			n.logger().Info("image compressed",
				"quality", q,
				"from", humanize.IBytes(uint64(len(raw))),
				"to", humanize.IBytes(uint64(buf.Len())))
			return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
		}
	}

	return "", apperr.New(apperr.KindImage, apperr.ReasonTooLarge, "normalize",
		fmt.Sprintf("cannot fit %s within %s at quality %d", humanize.IBytes(uint64(buf.Len())), humanize.IBytes(uint64(n.Budget)), MinQuality))
}

func (n *Normalizer) logger() *slog.Logger {
	if n.Log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return n.Log
}

// scaledSize maps (w, h) so that the long edge equals longEdge, truncating both sides.
// Images smaller than longEdge are scaled up.
func scaledSize(w, h, longEdge int) (int, int) {
	longest := max(w, h)
	if longest <= 0 {
		return 1, 1
	}
	sw := w * longEdge / longest
	sh := h * longEdge / longest
	return max(sw, 1), max(sh, 1)
}
