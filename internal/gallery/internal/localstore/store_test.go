package localstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/gallery/internal/domain"
	domainerrors "github.com/listenupapp/gallery/internal/errors"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "localstore-test-*")
	require.NoError(t, err)

	s := Open(filepath.Join(tmpDir, "db"), nil)
	require.True(t, s.Available())

	cleanup := func() {
		_ = s.Close()
		_ = os.RemoveAll(tmpDir)
	}
	return s, cleanup
}

func newImage(id string) *domain.Image {
	img := &domain.Image{URL: "https://example.com/" + id + ".png", Title: id}
	img.ID = id
	img.InitTimestamps()
	return img
}

func newBlock(id, imageID string) *domain.PromptBlock {
	b := &domain.PromptBlock{ImageID: imageID, Title: "Prompt", Content: id}
	b.ID = id
	return b
}

func newTag(id, name, groupID string) *domain.Tag {
	tag := &domain.Tag{Name: name, GroupID: groupID}
	tag.ID = id
	return tag
}

func TestEncodeOrder_PreservesNumericOrder(t *testing.T) {
	values := []int{-1 << 40, -3, -1, 0, 1, 2, 10, 1 << 40}
	for i := 1; i < len(values); i++ {
		assert.Less(t, encodeOrder(values[i-1]), encodeOrder(values[i]))
	}
	for _, v := range values {
		got, err := decodeOrder(encodeOrder(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestPut_AssignsSortOrderPerScope(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		rec, err := s.Put(ctx, newImage(fmt.Sprintf("img-%d", i)))
		require.NoError(t, err)
		assert.Equal(t, i, rec.(*domain.Image).SortOrder)
	}

	// Blocks are scoped to their parent image.
	for _, parent := range []string{"img-1", "img-2"} {
		for i := 1; i <= 2; i++ {
			rec, err := s.Put(ctx, newBlock(fmt.Sprintf("%s-blk-%d", parent, i), parent))
			require.NoError(t, err)
			assert.Equal(t, i, rec.(*domain.PromptBlock).SortOrder)
		}
	}

	// Tags are scoped to their group, the empty group included.
	rec, err := s.Put(ctx, newTag("tag-1", "red", "grp-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.(*domain.Tag).SortOrder)
	rec, err = s.Put(ctx, newTag("tag-2", "sky", ""))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.(*domain.Tag).SortOrder)
	rec, err = s.Put(ctx, newTag("tag-3", "blue", "grp-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.(*domain.Tag).SortOrder)
}

func TestPut_ExplicitSortOrderKept(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	img := newImage("img-1")
	img.SortOrder = 42
	_, err := s.Put(ctx, img)
	require.NoError(t, err)

	rec, err := s.Put(ctx, newImage("img-2"))
	require.NoError(t, err)
	assert.Equal(t, 43, rec.(*domain.Image).SortOrder)
}

func TestPut_SkipsUnsortedAfterNegativeMax(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	img := newImage("img-1")
	img.SortOrder = -1
	_, err := s.Put(ctx, img)
	require.NoError(t, err)

	rec, err := s.Put(ctx, newImage("img-2"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.(*domain.Image).SortOrder)
}

func TestPut_ValidationError(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := s.Put(context.Background(), &domain.Image{URL: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = s.Put(context.Background(), nil)
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestPut_VersionConflict(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := s.Put(ctx, newImage("img-1"))
	require.NoError(t, err)

	first, err := s.Get(ctx, domain.KindImage, "img-1")
	require.NoError(t, err)
	second, err := s.Get(ctx, domain.KindImage, "img-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.RecordVersion())

	first.(*domain.Image).SortOrder = 10
	_, err = s.Put(ctx, first)
	require.NoError(t, err)

	second.(*domain.Image).SortOrder = 20
	_, err = s.Put(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrConflict)

	got, err := s.Get(ctx, domain.KindImage, "img-1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.(*domain.Image).SortOrder)
	assert.Equal(t, int64(2), got.RecordVersion())
}

func TestGet_NotFound(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := s.Get(context.Background(), domain.KindTag, "tag-missing")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	_, err = s.Get(context.Background(), "video", "x")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestAll_OrderedBySortOrder(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for i, order := range []int{3, -2, 7} {
		img := newImage(fmt.Sprintf("img-%d", i))
		img.SortOrder = order
		_, err := s.Put(ctx, img)
		require.NoError(t, err)
	}

	all, err := s.All(ctx, domain.KindImage)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "img-1", all[0].RecordID())
	assert.Equal(t, "img-0", all[1].RecordID())
	assert.Equal(t, "img-2", all[2].RecordID())
}

func TestByIndex(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := s.Put(ctx, newTag("tag-1", "red", "grp-1"))
	require.NoError(t, err)
	_, err = s.Put(ctx, newTag("tag-2", " red ", "grp-2"))
	require.NoError(t, err)
	_, err = s.Put(ctx, newTag("tag-3", "blue", "grp-1"))
	require.NoError(t, err)

	byName, err := s.ByIndex(ctx, domain.KindTag, IndexName, "red")
	require.NoError(t, err)
	assert.Len(t, byName, 2)

	byGroup, err := s.ByIndex(ctx, domain.KindTag, IndexGroup, "grp-1")
	require.NoError(t, err)
	assert.Len(t, byGroup, 2)

	_, err = s.ByIndex(ctx, domain.KindImage, IndexParent, "x")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestPut_MovesIndexEntries(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rec, err := s.Put(ctx, newTag("tag-1", "red", "grp-1"))
	require.NoError(t, err)

	tag := rec.(*domain.Tag)
	tag.GroupID = "grp-2"
	tag.SortOrder = domain.Unsorted
	_, err = s.Put(ctx, tag)
	require.NoError(t, err)

	old, err := s.ByIndex(ctx, domain.KindTag, IndexGroup, "grp-1")
	require.NoError(t, err)
	assert.Empty(t, old)

	moved, err := s.ByIndex(ctx, domain.KindTag, IndexSort, "grp-2")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, 1, moved[0].(*domain.Tag).SortOrder)
}

func TestDeleteImageCascade(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := s.Put(ctx, newImage("img-1"))
	require.NoError(t, err)
	_, err = s.Put(ctx, newImage("img-2"))
	require.NoError(t, err)
	for i := range 3 {
		_, err = s.Put(ctx, newBlock(fmt.Sprintf("blk-%d", i), "img-1"))
		require.NoError(t, err)
	}
	_, err = s.Put(ctx, newBlock("blk-other", "img-2"))
	require.NoError(t, err)

	blob := &domain.CachedBlob{Data: []byte{1, 2, 3}, Extension: "png", CachedAt: time.Now().UnixMilli()}
	blob.ID = "img-1"
	_, err = s.Put(ctx, blob)
	require.NoError(t, err)

	removed, err := s.DeleteImageCascade(ctx, "img-1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = s.Get(ctx, domain.KindImage, "img-1")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	_, err = s.Get(ctx, domain.KindCachedBlob, "img-1")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	blocks, err := s.All(ctx, domain.KindPromptBlock)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "blk-other", blocks[0].RecordID())

	// Deleting again is a no-op.
	removed, err = s.DeleteImageCascade(ctx, "img-1")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestDeleteTagGroupDetach(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	group := &domain.TagGroup{Name: "Colors"}
	group.ID = "grp-1"
	_, err := s.Put(ctx, group)
	require.NoError(t, err)

	_, err = s.Put(ctx, newTag("tag-loose", "sky", ""))
	require.NoError(t, err)
	_, err = s.Put(ctx, newTag("tag-1", "red", "grp-1"))
	require.NoError(t, err)
	_, err = s.Put(ctx, newTag("tag-2", "blue", "grp-1"))
	require.NoError(t, err)

	detached, err := s.DeleteTagGroupDetach(ctx, "grp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, detached)

	_, err = s.Get(ctx, domain.KindTagGroup, "grp-1")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	ungrouped, err := s.ByIndex(ctx, domain.KindTag, IndexSort, "")
	require.NoError(t, err)
	require.Len(t, ungrouped, 3)
	assert.Equal(t, "tag-loose", ungrouped[0].RecordID())
	assert.Equal(t, "tag-1", ungrouped[1].RecordID())
	assert.Equal(t, "tag-2", ungrouped[2].RecordID())
	for _, r := range ungrouped {
		assert.Empty(t, r.(*domain.Tag).GroupID)
	}
}

func TestCleanExpiredCache(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	old := &domain.CachedBlob{Data: make([]byte, 1024), Extension: "png", CachedAt: time.Now().Add(-200 * time.Hour).UnixMilli()}
	old.ID = "img-old"
	fresh := &domain.CachedBlob{Data: make([]byte, 10), Extension: "png", CachedAt: time.Now().UnixMilli()}
	fresh.ID = "img-fresh"
	_, err := s.Put(ctx, old)
	require.NoError(t, err)
	_, err = s.Put(ctx, fresh)
	require.NoError(t, err)

	sweep, err := s.CleanExpiredCache(ctx, 168*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Removed)
	assert.Equal(t, int64(1024), sweep.FreedBytes)

	_, err = s.Get(ctx, domain.KindCachedBlob, "img-fresh")
	assert.NoError(t, err)
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.Put(newImage("img-1")); err != nil {
			return err
		}
		return domainerrors.Internal("boom")
	})
	require.Error(t, err)

	_, err = s.Get(ctx, domain.KindImage, "img-1")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestView_RejectsWrites(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	err := s.View(context.Background(), func(tx *Tx) error {
		return tx.Put(newImage("img-1"))
	})
	assert.ErrorIs(t, err, domainerrors.ErrInternal)
}

func TestConcurrentPuts_UniqueSortOrders(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			_, err := s.Put(ctx, newImage(fmt.Sprintf("img-%02d", i)))
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	all, err := s.All(ctx, domain.KindImage)
	require.NoError(t, err)
	require.Len(t, all, 20)
	seen := make(map[int]bool)
	for _, r := range all {
		order := r.(*domain.Image).SortOrder
		assert.False(t, seen[order], "duplicate sort order %d", order)
		seen[order] = true
	}
}

func TestConcurrentEdits_DifferentImagesAllSucceed(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for i := range 16 {
		_, err := s.Put(ctx, newImage(fmt.Sprintf("img-%02d", i)))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Go(func() {
			rec, err := s.Get(ctx, domain.KindImage, fmt.Sprintf("img-%02d", i))
			if !assert.NoError(t, err) {
				return
			}
			rec.(*domain.Image).Title = "edited"
			_, err = s.Put(ctx, rec)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	all, err := s.All(ctx, domain.KindImage)
	require.NoError(t, err)
	for _, r := range all {
		img := r.(*domain.Image)
		assert.Equal(t, "edited", img.Title)
		assert.Equal(t, int64(2), img.Version)
	}
}

func TestUpdate_RerunsAfterLosingCommitRace(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := s.Put(ctx, newImage("img-1"))
	require.NoError(t, err)

	attempts := 0
	added := newImage("img-2")
	err = s.Update(ctx, func(tx *Tx) error {
		attempts++
		if _, err := tx.Get(domain.KindImage, "img-1"); err != nil {
			return err
		}
		if err := tx.Put(added); err != nil {
			return err
		}
		if attempts == 1 {
			// Another writer commits img-1 after this transaction read it.
			cur, err := s.Get(ctx, domain.KindImage, "img-1")
			if err != nil {
				return err
			}
			cur.(*domain.Image).Title = "renamed"
			if _, err := s.Put(ctx, cur); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(1), added.Version)
	assert.Equal(t, 2, added.SortOrder)

	got, err := s.Get(ctx, domain.KindImage, "img-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.RecordVersion())
}

func TestUpdate_EditInPlaceDoesNotDisturbAdd(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := s.Put(ctx, newImage("img-1"))
	require.NoError(t, err)

	attempts := 0
	err = s.Update(ctx, func(tx *Tx) error {
		attempts++
		if err := tx.Put(newImage("img-2")); err != nil {
			return err
		}
		if attempts == 1 {
			cur, err := s.Get(ctx, domain.KindImage, "img-1")
			if err != nil {
				return err
			}
			cur.(*domain.Image).Title = "renamed"
			if _, err := s.Put(ctx, cur); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestUpdate_FailureLeavesRecordUntouched(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	img := newImage("img-1")
	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.Put(img); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)
	assert.Equal(t, int64(0), img.Version)
	assert.Equal(t, domain.Unsorted, img.SortOrder)

	_, err = s.Put(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, int64(1), img.Version)
}

func TestClosedEngine_ReportsCacheError(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "db"), nil)
	require.True(t, s.Available())
	require.NoError(t, s.Close())

	_, err := s.Put(context.Background(), newImage("img-1"))
	assert.ErrorIs(t, err, domainerrors.ErrCache)

	_, err = s.Get(context.Background(), domain.KindImage, "img-1")
	assert.ErrorIs(t, err, domainerrors.ErrCache)
}

func TestDegradedStore_NoOps(t *testing.T) {
	s := Open("", nil)
	assert.False(t, s.Available())
	ctx := context.Background()

	rec, err := s.Put(ctx, newImage("img-1"))
	assert.NoError(t, err)
	assert.Nil(t, rec)

	got, err := s.Get(ctx, domain.KindImage, "img-1")
	assert.NoError(t, err)
	assert.Nil(t, got)

	all, err := s.All(ctx, domain.KindImage)
	assert.NoError(t, err)
	assert.Empty(t, all)

	removed, err := s.DeleteImageCascade(ctx, "img-1")
	assert.NoError(t, err)
	assert.Zero(t, removed)

	sweep, err := s.CleanExpiredCache(ctx, time.Hour)
	assert.NoError(t, err)
	assert.Zero(t, sweep.Removed)

	assert.NoError(t, s.Close())
}

func TestCanceledContext(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Put(ctx, newImage("img-1"))
	assert.ErrorIs(t, err, context.Canceled)
}
