// Package compress re-encodes fetched tiles into a smaller form under a
// named quality profile. Decoding back is implicit: stored bytes are served
// as-is and decoded by whatever renders them.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"math"

	_ "image/gif"
	_ "image/png"

	"github.com/HugoSmits86/nativewebp"
)

var ErrCompressionFailed = errors.New("compress: tile encode failed")

type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// Profile is a named quality preset.
type Profile string

const (
	ProfileHigh       Profile = "high"
	ProfileBalanced   Profile = "balanced"
	ProfileAggressive Profile = "aggressive"
)

func (p Profile) Valid() bool {
	switch p {
	case ProfileHigh, ProfileBalanced, ProfileAggressive:
		return true
	}
	return false
}

// Quality returns the encoder quality (0..1) and the expected size-retained
// ratio. The ratio is informational; nothing re-encodes to hit it.
func (p Profile) Quality() (quality, targetRatio float64) {
	switch p {
	case ProfileHigh:
		return 0.92, 0.5
	case ProfileAggressive:
		return 0.75, 0.8
	default:
		return 0.85, 0.7
	}
}

// CompressedTile reports one re-encode. Ratio is size retained:
// compressed/original, so 0.5 means the tile halved.
type CompressedTile struct {
	Data           []byte
	Format         Format
	Profile        Profile
	OriginalSize   int
	CompressedSize int
	Ratio          float64
}

type Engine struct {
	best   Format
	logger *slog.Logger
}

// NewEngine probes encoder support once. WebP is preferred, JPEG is the
// fallback; the probe never fails the constructor.
func NewEngine(logger *slog.Logger) *Engine {
	best := FormatJPEG
	if probeWebP() {
		best = FormatWebP
	}
	if logger != nil {
		logger.Debug("compression engine ready", "best_format", string(best))
	}
	return &Engine{best: best, logger: logger}
}

func (e *Engine) BestFormat() Format { return e.best }

// probeWebP encodes a throwaway 1x1 image. Any error or panic means
// unsupported.
func probeWebP() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, img, nil); err != nil {
		return false
	}
	return buf.Len() > 0
}

// Compress re-encodes tile bytes into the requested format. PNG is treated
// as already-final: the bytes pass through untouched with ratio 1.0.
// A corrupt input fails with ErrCompressionFailed; callers treat that like
// a failed fetch.
func (e *Engine) Compress(data []byte, format Format, profile Profile) (CompressedTile, error) {
	if format == FormatPNG {
		return CompressedTile{
			Data:           data,
			Format:         FormatPNG,
			Profile:        profile,
			OriginalSize:   len(data),
			CompressedSize: len(data),
			Ratio:          1.0,
		}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return CompressedTile{}, fmt.Errorf("%w: decode: %v", ErrCompressionFailed, err)
	}

	quality, _ := profile.Quality()
	var buf bytes.Buffer
	switch format {
	case FormatWebP:
		// nativewebp is lossless; the profile quality applies to the
		// JPEG path only.
		err = nativewebp.Encode(&buf, img, nil)
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: int(math.Round(quality * 100))})
	default:
		return CompressedTile{}, fmt.Errorf("%w: unsupported format %q", ErrCompressionFailed, format)
	}
	if err != nil {
		return CompressedTile{}, fmt.Errorf("%w: encode %s: %v", ErrCompressionFailed, format, err)
	}

	out := CompressedTile{
		Data:           buf.Bytes(),
		Format:         format,
		Profile:        profile,
		OriginalSize:   len(data),
		CompressedSize: buf.Len(),
	}
	if out.OriginalSize > 0 {
		out.Ratio = float64(out.CompressedSize) / float64(out.OriginalSize)
	}
	return out, nil
}

// CompressAuto uses the probed best format.
func (e *Engine) CompressAuto(data []byte, profile Profile) (CompressedTile, error) {
	return e.Compress(data, e.best, profile)
}

// Decompress is a passthrough kept for API symmetry; stored tiles are
// decoded by the consumer, not here.
func (e *Engine) Decompress(data []byte) []byte { return data }
