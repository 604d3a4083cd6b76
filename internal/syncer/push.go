package syncer

import (
	"context"
	"time"

	"github.com/listenupapp/gallery/internal/domain"
	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/media"
	"github.com/listenupapp/gallery/internal/normalize"
	"github.com/listenupapp/gallery/internal/remote"
)

// push sends one pending image and confirms it locally. Any failure leaves
// the local record as it was.
func (e *Engine) push(ctx context.Context, img *domain.Image, tags map[string]domain.EmbeddedTag) error {
	doc, err := e.buildDocument(ctx, img, tags)
	if err != nil {
		return err
	}

	remoteID, err := e.write(ctx, img, doc)
	if err != nil {
		return err
	}

	var stored remote.Document
	err = e.call(ctx, "get", func(ctx context.Context) error {
		var err error
		stored, err = e.remote.Get(ctx, domain.CollectionImages, remoteID)
		return err
	})
	if err != nil {
		return err
	}
	if stored == nil {
		return domainerrors.Network("remote store lost image " + remoteID + " after writing it")
	}

	var confirmed domain.ImageDocument
	if err := stored.Decode(&confirmed); err != nil {
		return err
	}
	if confirmed.ID == "" {
		confirmed.ID = remoteID
	}

	_, err = e.data.ConfirmImage(ctx, img.ID, img.Version, &confirmed)
	return err
}

// write creates or updates the remote document and returns its id. A local
// image is looked up by its client id first so a push repeated after a lost
// response updates the earlier document instead of creating a second one.
func (e *Engine) write(ctx context.Context, img *domain.Image, doc *domain.ImageDocument) (string, error) {
	remoteID := ""
	if img.IsLocal {
		err := e.call(ctx, "query", func(ctx context.Context) error {
			found, err := e.remote.Query(ctx, domain.CollectionImages, remote.Filter{"clientId": img.ID})
			if err == nil && len(found) > 0 {
				remoteID = found[0].ID()
			}
			return err
		})
		if err != nil {
			return "", err
		}
	} else {
		remoteID = img.ID
	}

	fields, err := remote.Encode(doc)
	if err != nil {
		return "", err
	}

	if remoteID != "" {
		err := e.call(ctx, "update", func(ctx context.Context) error {
			return e.remote.Update(ctx, domain.CollectionImages, remoteID, fields)
		})
		if err == nil || !domainerrors.Is(err, domainerrors.ErrNotFound) || img.IsLocal {
			return remoteID, err
		}
		// A confirmed image whose document was removed remotely is recreated
		// under the same id.
		fields = fields.WithID(remoteID)
	}

	err = e.call(ctx, "create", func(ctx context.Context) error {
		var err error
		remoteID, err = e.remote.Create(ctx, domain.CollectionImages, fields)
		return err
	})
	return remoteID, err
}

// buildDocument assembles the remote document of img, uploading its payload
// when an uploader is configured.
func (e *Engine) buildDocument(ctx context.Context, img *domain.Image, tags map[string]domain.EmbeddedTag) (*domain.ImageDocument, error) {
	doc := &domain.ImageDocument{
		URL:       img.URL,
		Title:     img.Title,
		Tags:      make([]domain.EmbeddedTag, 0, len(img.Tags)),
		SortOrder: img.SortOrder,
		BlurHash:  img.BlurHash,
		CreatedAt: img.CreatedAt,
		UpdatedAt: time.Now(),
	}
	if img.IsLocal {
		doc.ClientID = img.ID
	}

	for _, name := range img.Tags {
		t, ok := tags[normalize.TagName(name)]
		if !ok {
			t = domain.EmbeddedTag{Name: name}
		}
		doc.Tags = append(doc.Tags, t)
	}

	blocks, err := e.data.ListPromptBlocks(ctx, img.ID)
	if err != nil {
		return nil, err
	}
	for _, b := range blocks {
		doc.PromptBlocks = append(doc.PromptBlocks, domain.EmbeddedBlock{
			Title:     b.Title,
			Content:   b.Content,
			SortOrder: b.SortOrder,
		})
	}

	payload, err := e.payload(ctx, img)
	if err != nil {
		return nil, err
	}
	if payload != nil && e.uploader != nil {
		var url string
		err := e.call(ctx, "upload", func(ctx context.Context) error {
			var err error
			url, err = e.uploader.Upload(ctx, img.ID, payload)
			return err
		})
		if err != nil {
			return nil, err
		}
		doc.URL = url
	}
	if doc.BlurHash == "" && payload != nil {
		if hash, err := media.BlurHash(payload); err == nil {
			doc.BlurHash = hash
		}
	}
	return doc, nil
}

// payload returns the image bytes from the blob cache, or decoded from a data
// URL. It returns nil when the image only has a remote URL.
func (e *Engine) payload(ctx context.Context, img *domain.Image) ([]byte, error) {
	blob, err := e.data.GetCachedBlob(ctx, img.ID)
	if err != nil {
		return nil, err
	}
	if blob != nil && len(blob.Data) > 0 {
		return blob.Data, nil
	}
	if media.IsDataURL(img.URL) {
		data, _, err := media.DecodeDataURL(img.URL)
		if err != nil {
			return nil, domainerrors.Wrapf(err, domainerrors.CodeValidation, "image %s payload", img.ID)
		}
		return data, nil
	}
	return nil, nil
}

// tagCatalog maps the normalized tag names used by images to their embedded
// form with group details. When several groups hold a tag of that name the
// first match wins.
func (e *Engine) tagCatalog(ctx context.Context, images []*domain.Image) map[string]domain.EmbeddedTag {
	out := make(map[string]domain.EmbeddedTag)

	groups, err := e.data.ListTagGroups(ctx)
	if err != nil {
		e.logger.Warn("sync pushes tags without groups; group list unavailable", "error", err)
	}
	byID := make(map[string]*domain.TagGroup, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	looked := make(map[string]bool)
	for _, img := range images {
		for _, name := range img.Tags {
			key := normalize.TagName(name)
			if looked[key] {
				continue
			}
			looked[key] = true

			matches, err := e.data.FindTagsByName(ctx, key)
			if err != nil {
				e.logger.Warn("sync pushes bare tag name; tag lookup failed", "tag", key, "error", err)
				continue
			}
			if len(matches) == 0 {
				continue
			}
			t := matches[0]
			et := domain.EmbeddedTag{Name: t.Name, Color: t.Color}
			if g, ok := byID[t.GroupID]; ok {
				et.GroupID = g.ID
				et.GroupName = g.Name
				et.GroupColor = g.Color
			}
			out[key] = et
		}
	}
	return out
}

func (e *Engine) logPushFailure(img *domain.Image, err error) {
	switch {
	case domainerrors.Is(err, domainerrors.ErrConflict):
		e.logger.Info("image changed while syncing; pushing again next cycle", "image_id", img.ID)
	case domainerrors.IsRetryable(err):
		e.logger.Warn("remote store unreachable; image stays pending", "image_id", img.ID, "error", err)
	default:
		e.logger.Error("image sync failed", "image_id", img.ID, "error", err)
	}
}
