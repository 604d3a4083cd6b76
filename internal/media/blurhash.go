// Package media handles image payloads: placeholder hashes, data URLs and type detection.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	"github.com/bbrks/go-blurhash"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// blurHashSize is the longest side of the thumbnail the hash is computed from.
const blurHashSize = 64

// BlurHash generates a BlurHash placeholder from encoded image bytes.
// Uses 4x3 components, roughly 20-30 characters.
func BlurHash(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	hash, err := blurhash.Encode(4, 3, thumbnail(img))
	if err != nil {
		return "", fmt.Errorf("encode blurhash: %w", err)
	}
	return hash, nil
}

// thumbnail scales img down with nearest-neighbor sampling so its longest side
// is at most blurHashSize.
func thumbnail(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= blurHashSize && h <= blurHashSize {
		return img
	}

	dw, dh := blurHashSize, max(1, h*blurHashSize/w)
	if h > w {
		dw, dh = max(1, w*blurHashSize/h), blurHashSize
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := range dh {
		for x := range dw {
			dst.Set(x, y, img.At(bounds.Min.X+x*w/dw, bounds.Min.Y+y*h/dh))
		}
	}
	return dst
}
