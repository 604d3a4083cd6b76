package blobstore

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/listenupapp/gallery/internal/errors"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "images/img-1.png", ObjectKey("img-1", pngBytes(t)))
	assert.Equal(t, "images/img-2.txt", ObjectKey("img-2", []byte("plain text payload")))
}

func TestObjectURL(t *testing.T) {
	endpoint, err := url.Parse("https://blobs.example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.example.com/gallery-images/images/img-1.png",
		ObjectURL(endpoint, "gallery-images", "images/img-1.png"))
}

func TestNewMinIO_RequiresEndpoint(t *testing.T) {
	_, err := NewMinIO(context.Background(), Options{Bucket: "b"})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

// TestUpload runs against a live server when GALLERY_TEST_MINIO_ENDPOINT is set.
func TestUpload(t *testing.T) {
	endpoint := os.Getenv("GALLERY_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("GALLERY_TEST_MINIO_ENDPOINT not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	up, err := NewMinIO(ctx, Options{
		Endpoint:  endpoint,
		Bucket:    "gallery-test",
		AccessKey: os.Getenv("GALLERY_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("GALLERY_TEST_MINIO_SECRET_KEY"),
	})
	require.NoError(t, err)

	u, err := up.Upload(ctx, "img-test", pngBytes(t))
	require.NoError(t, err)
	assert.Contains(t, u, "/gallery-test/images/img-test.png")

	_, err = up.Upload(ctx, "img-empty", nil)
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}
