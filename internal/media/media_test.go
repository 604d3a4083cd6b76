package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestBlurHash(t *testing.T) {
	hash, err := BlurHash(testPNG(t, 200, 100))
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	_, err = BlurHash([]byte("not an image"))
	assert.Error(t, err)
}

func TestThumbnail_KeepsAspect(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 320))
	b := thumbnail(img).Bounds()
	assert.Equal(t, 64, b.Dx())
	assert.Equal(t, 32, b.Dy())

	small := image.NewRGBA(image.Rect(0, 0, 10, 10))
	assert.Same(t, small, thumbnail(small))
}

func TestDataURL_RoundTrip(t *testing.T) {
	data := testPNG(t, 4, 4)
	u := EncodeDataURL(data)
	assert.True(t, IsDataURL(u))

	got, mediaType, err := DecodeDataURL(u)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "image/png", mediaType)
	assert.Equal(t, "png", Extension(got))
}

func TestDecodeDataURL_Plain(t *testing.T) {
	got, mediaType, err := DecodeDataURL("data:,hello%20world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
	assert.Equal(t, "text/plain", mediaType)
}

func TestDecodeDataURL_Errors(t *testing.T) {
	_, _, err := DecodeDataURL("https://example.com/a.png")
	assert.ErrorIs(t, err, ErrNotDataURL)

	_, _, err = DecodeDataURL("data:image/png;base64")
	assert.Error(t, err)

	_, _, err = DecodeDataURL("data:image/png;base64,!!!")
	assert.Error(t, err)
}

func TestExtensionForType(t *testing.T) {
	assert.Equal(t, "png", ExtensionForType("image/png"))
	assert.Equal(t, "webp", ExtensionForType("image/webp"))
	assert.Equal(t, "bin", ExtensionForType("application/x-unknown-thing"))
}
