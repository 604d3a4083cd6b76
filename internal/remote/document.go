package remote

import (
	"encoding/json"
	"maps"

	"github.com/google/uuid"

	domainerrors "github.com/listenupapp/gallery/internal/errors"
)

// Document is a remote document: a JSON object. Numbers decode as float64.
type Document map[string]any

// Encode converts a JSON-tagged struct into a Document.
func Encode(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "encode document")
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "encode document")
	}
	return doc, nil
}

// Decode fills the JSON-tagged struct v from the document.
func (d Document) Decode(v any) error {
	data, err := json.Marshal(d)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeValidation, "decode document")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeValidation, "decode document")
	}
	return nil
}

// ID returns the "id" field, or "" when absent.
func (d Document) ID() string {
	s, _ := d["id"].(string)
	return s
}

// WithID returns a copy of d carrying id. An empty id is replaced by a new UUID.
func (d Document) WithID(id string) Document {
	if id == "" {
		id = uuid.NewString()
	}
	out := maps.Clone(d)
	if out == nil {
		out = Document{}
	}
	out["id"] = id
	return out
}

// Merge returns base with the top-level fields of patch applied. The id of
// base is kept.
func Merge(base, patch Document) Document {
	out := maps.Clone(base)
	if out == nil {
		out = Document{}
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

// Marshal encodes the document as JSON.
func (d Document) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// Unmarshal decodes a JSON object into a Document.
func Unmarshal(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
