package gallery

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/gallery/internal/domain"
	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/search"
)

func setupTestService(t *testing.T) (*Service, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "gallery-test-*")
	require.NoError(t, err)

	index, err := search.Open(search.Options{DataPath: filepath.Join(tmpDir, "search")})
	require.NoError(t, err)

	s := Open(Options{StorePath: filepath.Join(tmpDir, "db"), Index: index})
	require.True(t, s.Available())

	cleanup := func() {
		_ = s.Close()
		_ = index.Close()
		_ = os.RemoveAll(tmpDir)
	}
	return s, cleanup
}

func addImage(t *testing.T, s *Service, title string, tags ...string) *domain.Image {
	t.Helper()
	img, err := s.AddImage(context.Background(), &domain.Image{
		URL:   "https://cdn.example.com/" + title + ".png",
		Title: title,
		Tags:  tags,
	})
	require.NoError(t, err)
	require.NotNil(t, img)
	return img
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := range 8 {
		for x := range 8 {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAddImage_TemplateBlocksAndSortOrder(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	first := addImage(t, s, "first", " red ", "red", "sky")
	second := addImage(t, s, "second")

	assert.Equal(t, 1, first.SortOrder)
	assert.Equal(t, 2, second.SortOrder)
	assert.True(t, first.IsLocal)
	assert.True(t, first.IsPendingSync)
	assert.Equal(t, []string{"red", "sky"}, first.Tags)
	assert.NotEqual(t, first.ID, second.ID)

	blocks, err := s.ListPromptBlocks(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, domain.TemplateBlockTitles(), []string{blocks[0].Title, blocks[1].Title, blocks[2].Title})
	for i, b := range blocks {
		assert.Equal(t, i+1, b.SortOrder)
		assert.Equal(t, first.ID, b.ImageID)
		assert.Equal(t, first.PromptBlockIDs[i], b.ID)
	}
}

func TestAddImage_ConcurrentCallsAllSucceed(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Go(func() {
			_, err := s.AddImage(ctx, &domain.Image{
				URL:   fmt.Sprintf("https://cdn.example.com/%d.png", i),
				Title: fmt.Sprintf("image %d", i),
			})
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	images, err := s.ListImages(ctx)
	require.NoError(t, err)
	require.Len(t, images, 16)
	orders := make(map[int]bool)
	for _, img := range images {
		assert.False(t, orders[img.SortOrder], "duplicate sort order %d", img.SortOrder)
		orders[img.SortOrder] = true

		blocks, err := s.ListPromptBlocks(ctx, img.ID)
		require.NoError(t, err)
		assert.Len(t, blocks, 3)
	}
}

func TestAddImage_ExplicitBlocks(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()

	img, err := s.AddImage(context.Background(),
		&domain.Image{URL: "u", Title: "custom"},
		&domain.PromptBlock{Title: "Prompt", Content: "a cat"},
	)
	require.NoError(t, err)
	require.Len(t, img.PromptBlockIDs, 1)

	_, err = s.AddImage(context.Background(), &domain.Image{Title: "no url"})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestAddPromptBlock_AppendsToImage(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	img := addImage(t, s, "cat")
	block, err := s.AddPromptBlock(ctx, &domain.PromptBlock{ImageID: img.ID, Title: "Notes", Content: "seed 42"})
	require.NoError(t, err)
	assert.Equal(t, 4, block.SortOrder)

	got, err := s.GetImage(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, got.PromptBlockIDs, 4)
	assert.Equal(t, block.ID, got.PromptBlockIDs[3])

	_, err = s.AddPromptBlock(ctx, &domain.PromptBlock{ImageID: "img-missing", Title: "x"})
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestDuplicateImage(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	src, err := s.AddImage(ctx, &domain.Image{URL: "u", Title: "src", Tags: []string{"red"}},
		&domain.PromptBlock{Title: "Prompt", Content: "a red fox"},
		&domain.PromptBlock{Title: "Parameters", Content: "steps 30"},
	)
	require.NoError(t, err)
	addImage(t, s, "other")
	_, err = s.CacheImageBlob(ctx, src.ID, testPNG(t))
	require.NoError(t, err)

	dup, err := s.DuplicateImage(ctx, src.ID)
	require.NoError(t, err)
	require.NotNil(t, dup)

	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, -1, dup.SortOrder, "duplicate goes before every image, skipping zero")
	assert.Equal(t, src.Tags, dup.Tags)

	srcBlocks, err := s.ListPromptBlocks(ctx, src.ID)
	require.NoError(t, err)
	dupBlocks, err := s.ListPromptBlocks(ctx, dup.ID)
	require.NoError(t, err)
	require.Len(t, dupBlocks, len(srcBlocks))
	for i := range srcBlocks {
		assert.Equal(t, srcBlocks[i].Content, dupBlocks[i].Content)
		assert.Equal(t, srcBlocks[i].Title, dupBlocks[i].Title)
		assert.NotEqual(t, srcBlocks[i].ID, dupBlocks[i].ID)
		assert.Equal(t, dupBlocks[i].ID, dup.PromptBlockIDs[i])
	}

	blob, err := s.GetCachedBlob(ctx, dup.ID)
	require.NoError(t, err)
	require.NotNil(t, blob)

	images, err := s.ListImages(ctx)
	require.NoError(t, err)
	assert.Equal(t, dup.ID, images[0].ID)

	again, err := s.DuplicateImage(ctx, dup.ID)
	require.NoError(t, err)
	assert.Equal(t, -2, again.SortOrder)

	missing, err := s.DuplicateImage(ctx, "img-missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetTagUsageCount(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	addImage(t, s, "a", "red", "sky")
	addImage(t, s, "b", "red")
	addImage(t, s, "c", "sky")

	n, err := s.GetTagUsageCount(ctx, "red")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.GetTagUsageCount(ctx, "green")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateImageSortOrder_SwapsAndChecksVersion(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	a := addImage(t, s, "a")
	b := addImage(t, s, "b")

	moved, err := s.UpdateImageSortOrder(ctx, a.ID, 2, a.Version)
	require.NoError(t, err)
	assert.Equal(t, 2, moved.SortOrder)

	gotB, err := s.GetImage(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotB.SortOrder)

	// a's caller still holds the version from before the move.
	_, err = s.UpdateImageSortOrder(ctx, a.ID, 1, a.Version)
	assert.ErrorIs(t, err, domainerrors.ErrConflict)

	_, err = s.UpdateImageSortOrder(ctx, "img-missing", 1, 0)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestUpdatePromptBlockSortOrder_RewritesImageBlockIDs(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	img := addImage(t, s, "a")
	last := img.PromptBlockIDs[2]

	_, err := s.UpdatePromptBlockSortOrder(ctx, last, 1, 0)
	require.NoError(t, err)

	got, err := s.GetImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, last, got.PromptBlockIDs[0])
	assert.Equal(t, img.PromptBlockIDs[0], got.PromptBlockIDs[2])
}

func TestUpdateImage_Conflict(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	img := addImage(t, s, "a")
	stale := *img

	img.Title = "renamed"
	updated, err := s.UpdateImage(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)

	stale.Title = "lost"
	_, err = s.UpdateImage(ctx, &stale)
	assert.ErrorIs(t, err, domainerrors.ErrConflict)
}

func TestDeleteImage_Cascades(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	img := addImage(t, s, "a")
	_, err := s.CacheImageBlob(ctx, img.ID, testPNG(t))
	require.NoError(t, err)

	require.NoError(t, s.DeleteImage(ctx, img.ID))

	_, err = s.GetImage(ctx, img.ID)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	blocks, err := s.ListPromptBlocks(ctx, img.ID)
	require.NoError(t, err)
	assert.Empty(t, blocks)
	blob, err := s.GetCachedBlob(ctx, img.ID)
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestTags_GroupsAndDetach(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	group, err := s.AddTagGroup(ctx, &domain.TagGroup{Name: "Colors"})
	require.NoError(t, err)
	assert.NotEmpty(t, group.Color)

	red, err := s.AddTag(ctx, &domain.Tag{Name: "red", GroupID: group.ID})
	require.NoError(t, err)
	blue, err := s.AddTag(ctx, &domain.Tag{Name: "blue", GroupID: group.ID, Color: "#0000FF"})
	require.NoError(t, err)
	assert.Equal(t, 1, red.SortOrder)
	assert.Equal(t, 2, blue.SortOrder)
	assert.Equal(t, "#0000FF", blue.Color)

	_, err = s.AddTag(ctx, &domain.Tag{Name: "x", GroupID: "grp-missing"})
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	groups, err := s.ListTagGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].TagCount)

	require.NoError(t, s.DeleteTagGroup(ctx, group.ID))

	for _, id := range []string{red.ID, blue.ID} {
		tag, err := s.GetTag(ctx, id)
		require.NoError(t, err, "tags survive group deletion")
		assert.Empty(t, tag.GroupID)
	}
	_, err = s.GetTagGroup(ctx, group.ID)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestUpdateTag_RenamesOnImages(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	tag, err := s.AddTag(ctx, &domain.Tag{Name: "red"})
	require.NoError(t, err)
	img := addImage(t, s, "a", "red", "sky")

	tag.Name = "crimson"
	_, err = s.UpdateTag(ctx, tag)
	require.NoError(t, err)

	got, err := s.GetImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"crimson", "sky"}, got.Tags)

	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, 1, tags[0].UsageCount)

	require.NoError(t, s.DeleteTag(ctx, tag.ID))
	got, err = s.GetImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"sky"}, got.Tags)
}

func TestCache_CleanExpired(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	img := addImage(t, s, "a")
	blob, err := s.CacheImageBlob(ctx, img.ID, testPNG(t))
	require.NoError(t, err)
	assert.Equal(t, "png", blob.Extension)
	assert.NotEmpty(t, blob.BlurHash)

	got, err := s.GetImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, blob.BlurHash, got.BlurHash)

	sweep, err := s.CleanExpiredCache(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, sweep.Removed)

	miss, err := s.GetCachedBlob(ctx, "img-missing")
	require.NoError(t, err)
	assert.Nil(t, miss)

	_, err = s.CacheImageBlob(ctx, "img-missing", []byte("data"))
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestConfirmImage_RekeysRecordBlocksAndBlob(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	img := addImage(t, s, "local", "red")
	_, err := s.CacheImageBlob(ctx, img.ID, testPNG(t))
	require.NoError(t, err)
	img, err = s.GetImage(ctx, img.ID)
	require.NoError(t, err)

	pending, err := s.PendingImages(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	confirmed := &domain.ImageDocument{
		ID:        "remote-1",
		URL:       "https://cdn.example.com/remote-1.png",
		Title:     "local",
		Tags:      []domain.EmbeddedTag{{Name: "red"}},
		UpdatedAt: time.Now(),
	}
	got, err := s.ConfirmImage(ctx, img.ID, img.Version, confirmed)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", got.ID)
	assert.False(t, got.IsPending())
	assert.Equal(t, img.SortOrder, got.SortOrder)
	assert.Equal(t, img.PromptBlockIDs, got.PromptBlockIDs)

	_, err = s.GetImage(ctx, img.ID)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	blocks, err := s.ListPromptBlocks(ctx, "remote-1")
	require.NoError(t, err)
	assert.Len(t, blocks, 3)
	blob, err := s.GetCachedBlob(ctx, "remote-1")
	require.NoError(t, err)
	assert.NotNil(t, blob)

	pending, err = s.PendingImages(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCacheImageBlob_NewBlurHashMarksImagePending(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	img := addImage(t, s, "remote")
	confirmed, err := s.ConfirmImage(ctx, img.ID, img.Version, &domain.ImageDocument{
		ID:        "remote-1",
		URL:       img.URL,
		Title:     img.Title,
		UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.False(t, confirmed.IsPending())
	require.Empty(t, confirmed.BlurHash)

	_, err = s.CacheImageBlob(ctx, "remote-1", testPNG(t))
	require.NoError(t, err)

	pending, err := s.PendingImages(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "remote-1", pending[0].ID)
	assert.NotEmpty(t, pending[0].BlurHash)

	// Caching the same payload again leaves a confirmed image alone.
	again, err := s.ConfirmImage(ctx, "remote-1", pending[0].Version, &domain.ImageDocument{
		ID:        "remote-1",
		URL:       img.URL,
		Title:     img.Title,
		BlurHash:  pending[0].BlurHash,
		UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.False(t, again.IsPending())

	_, err = s.CacheImageBlob(ctx, "remote-1", testPNG(t))
	require.NoError(t, err)
	pending, err = s.PendingImages(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConfirmImage_StaleVersion(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	img := addImage(t, s, "local")
	pushed := img.Version

	img.Title = "edited during push"
	_, err := s.UpdateImage(ctx, img)
	require.NoError(t, err)

	_, err = s.ConfirmImage(ctx, img.ID, pushed, &domain.ImageDocument{ID: "remote-1", Title: "local"})
	assert.ErrorIs(t, err, domainerrors.ErrConflict)

	still, err := s.GetImage(ctx, img.ID)
	require.NoError(t, err)
	assert.True(t, still.IsPending())
}

func TestSearchImages(t *testing.T) {
	s, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	fox, err := s.AddImage(ctx, &domain.Image{URL: "u", Title: "Fox", Tags: []string{"animal"}},
		&domain.PromptBlock{Title: "Prompt", Content: "a fox in the snow"},
	)
	require.NoError(t, err)
	addImage(t, s, "Harbor", "seascape")

	hits, err := s.SearchImages(ctx, "snow", nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, fox.ID, hits[0].ID)

	hits, err = s.SearchImages(ctx, "", []string{"seascape"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Harbor", hits[0].Title)

	require.NoError(t, s.ReindexSearch(ctx))
	hits, err = s.SearchImages(ctx, "", nil, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSearchImages_ScanWithoutIndex(t *testing.T) {
	s := Open(Options{StorePath: filepath.Join(t.TempDir(), "db")})
	defer s.Close()
	ctx := context.Background()

	addImage(t, s, "Mountain", "landscape")
	addImage(t, s, "Harbor", "seascape")

	hits, err := s.SearchImages(ctx, "mount", nil, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Mountain", hits[0].Title)

	hits, err = s.SearchImages(ctx, "scape", nil, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestDegradedService(t *testing.T) {
	s := Open(Options{})
	assert.False(t, s.Available())
	ctx := context.Background()

	img, err := s.AddImage(ctx, &domain.Image{URL: "u"})
	assert.NoError(t, err)
	assert.Nil(t, img)

	images, err := s.ListImages(ctx)
	assert.NoError(t, err)
	assert.Empty(t, images)

	dup, err := s.DuplicateImage(ctx, "img-1")
	assert.NoError(t, err)
	assert.Nil(t, dup)

	pending, err := s.PendingImages(ctx)
	assert.NoError(t, err)
	assert.Empty(t, pending)
}
