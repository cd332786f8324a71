// Package avatar derives the small face image shown next to an account
// from its skin texture. Everything here is best-effort: a failure
// yields the bundled fallback, never an aborted login.
package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"

	"github.com/blockforge/launcher/pkg/http/exchange"
)

// Skin layout constants. Face and hat overlay are 8x8 regions of the
// 64-wide texture; larger textures scale all offsets proportionally.
const (
	baseTextureWidth = 64
	faceX, faceY     = 8, 8
	hatX, hatY       = 40, 8
	regionSize       = 8

	// Output follows the HMCL rendering: a 64px canvas where the face is
	// inset by round(size/18) and the hat layer covers the full canvas.
	outputSize = 64
)

var errNoSkin = errors.New("skin reference is empty or unreadable")

// Extractor composites face + hat-overlay crops into a cached avatar
// image. A nil *Extractor is a valid configuration meaning "no image
// processing available"; all methods degrade to the fallback.
type Extractor struct {
	client   *exchange.Client
	cacheDir string
	fallback string
	logger   zerolog.Logger
}

// New creates an extractor writing into cacheDir. fallback is the
// bundled default-avatar path returned when extraction fails; it may be
// empty, in which case failures return "".
func New(client *exchange.Client, cacheDir, fallback string, logger zerolog.Logger) *Extractor {
	return &Extractor{client: client, cacheDir: cacheDir, fallback: fallback, logger: logger}
}

// CachePath is where the avatar for an account lives once extracted.
func (e *Extractor) CachePath(accountID string) string {
	if e == nil {
		return ""
	}
	return filepath.Join(e.cacheDir, accountID+".png")
}

// Fallback returns the default-avatar reference.
func (e *Extractor) Fallback() string {
	if e == nil {
		return ""
	}
	return e.fallback
}

// Extract fetches the skin (URL download or local file read), composites
// the face, and writes the cached image keyed by accountID. On any
// failure it returns the fallback reference; the error is informational
// only and must not stop a login.
func (e *Extractor) Extract(ctx context.Context, skinRef, accountID string) (string, error) {
	if e == nil {
		return "", errNoSkin
	}
	path, err := e.extract(ctx, skinRef, accountID)
	if err != nil {
		e.logger.Warn().Err(err).Str("account", accountID).Msg("avatar extraction failed, using fallback")
		return e.fallback, err
	}
	return path, nil
}

func (e *Extractor) extract(ctx context.Context, skinRef, accountID string) (string, error) {
	data, err := e.fetch(ctx, skinRef)
	if err != nil {
		return "", err
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode skin: %w", err)
	}

	avatar, err := Compose(src)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(e.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create avatar cache: %w", err)
	}
	out := e.CachePath(accountID)
	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("write avatar: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, avatar); err != nil {
		return "", fmt.Errorf("encode avatar: %w", err)
	}
	return out, nil
}

func (e *Extractor) fetch(ctx context.Context, skinRef string) ([]byte, error) {
	switch {
	case skinRef == "":
		return nil, errNoSkin
	case strings.HasPrefix(skinRef, "http://"), strings.HasPrefix(skinRef, "https://"):
		out, err := e.client.Get(ctx, skinRef)
		if err != nil {
			return nil, fmt.Errorf("download skin: %w", err)
		}
		if !out.OK() {
			return nil, fmt.Errorf("download skin: HTTP %d", out.Status)
		}
		return out.Raw, nil
	default:
		data, err := os.ReadFile(skinRef)
		if err != nil {
			return nil, fmt.Errorf("read skin file: %w", err)
		}
		return data, nil
	}
}

// Compose crops the face and hat-overlay regions out of a skin texture
// and composites them onto the output canvas with nearest-neighbor
// upscaling, keeping the pixel-art edges hard.
func Compose(src image.Image) (image.Image, error) {
	w := src.Bounds().Dx()
	if w < baseTextureWidth || w%baseTextureWidth != 0 {
		return nil, fmt.Errorf("unexpected skin width %d", w)
	}
	// 64x64 skins scale 1, 128x128 scale 2, and so on. The legacy 64x32
	// layout keeps both regions in the top half, so height is not
	// checked beyond what the crops need.
	scale := w / baseTextureWidth
	if src.Bounds().Dy() < (faceY+regionSize)*scale {
		return nil, fmt.Errorf("skin texture too short: %d", src.Bounds().Dy())
	}

	face := regionRect(faceX, faceY, scale, src.Bounds())
	hat := regionRect(hatX, hatY, scale, src.Bounds())

	faceOffset := int(math.Round(float64(outputSize) / 18.0))
	faceSize := outputSize - 2*faceOffset

	dst := image.NewNRGBA(image.Rect(0, 0, outputSize, outputSize))
	xdraw.NearestNeighbor.Scale(dst,
		image.Rect(faceOffset, faceOffset, faceOffset+faceSize, faceOffset+faceSize),
		src, face, xdraw.Over, nil)
	xdraw.NearestNeighbor.Scale(dst,
		dst.Bounds(),
		src, hat, xdraw.Over, nil)
	return dst, nil
}

func regionRect(x, y, scale int, bounds image.Rectangle) image.Rectangle {
	return image.Rect(
		bounds.Min.X+x*scale,
		bounds.Min.Y+y*scale,
		bounds.Min.X+(x+regionSize)*scale,
		bounds.Min.Y+(y+regionSize)*scale,
	)
}
