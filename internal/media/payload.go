package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrNotDataURL is returned when a string is not a data: URL.
var ErrNotDataURL = errors.New("not a data URL")

// IsDataURL reports whether s is an inline data: URL.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// DecodeDataURL decodes an RFC 2397 data URL and returns the payload and its
// declared media type. The media type defaults to text/plain as the RFC says.
func DecodeDataURL(s string) ([]byte, string, error) {
	if !IsDataURL(s) {
		return nil, "", ErrNotDataURL
	}

	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data URL: missing comma")
	}

	isBase64 := strings.HasSuffix(meta, ";base64")
	mediaType := strings.TrimSuffix(meta, ";base64")
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	if mediaType == "" {
		mediaType = "text/plain"
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Some encoders drop padding.
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
			if err != nil {
				return nil, "", fmt.Errorf("decode base64 payload: %w", err)
			}
		}
		return data, mediaType, nil
	}

	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("unescape payload: %w", err)
	}
	return []byte(text), mediaType, nil
}

// EncodeDataURL returns data as a base64 data URL, detecting the media type.
func EncodeDataURL(data []byte) string {
	return "data:" + ContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ContentType sniffs the media type of data.
func ContentType(data []byte) string {
	return mimetype.Detect(data).String()
}

// Extension returns the file extension of data without the leading dot,
// falling back to "bin" when the type is unknown.
func Extension(data []byte) string {
	ext := strings.TrimPrefix(mimetype.Detect(data).Extension(), ".")
	if ext == "" {
		return "bin"
	}
	return ext
}

// ExtensionForType returns the extension registered for a media type.
func ExtensionForType(mediaType string) string {
	if m := mimetype.Lookup(mediaType); m != nil {
		if ext := strings.TrimPrefix(m.Extension(), "."); ext != "" {
			return ext
		}
	}
	return "bin"
}
