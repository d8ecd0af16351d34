package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/snapmatch/internal/models"
)

// runStoreSuite exercises the Store contract. Both implementations must pass
// it. Owners are scoped to the subtest name so a shared store works too.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	newFolder := func(t *testing.T, s Store) *models.Folder {
		t.Helper()
		f := &models.Folder{OwnerID: t.Name(), Name: "Wedding", Client: "Smith"}
		require.NoError(t, s.CreateFolder(ctx, f))
		return f
	}

	t.Run("create and get folder", func(t *testing.T) {
		s := newStore(t)
		f := newFolder(t, s)

		got, err := s.GetFolder(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, "Wedding", got.Name)
		assert.Equal(t, t.Name(), got.OwnerID)
		assert.Equal(t, 0, got.PhotoCount())
	})

	t.Run("missing folder is not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetFolder(ctx, uuid.New())
		assert.True(t, errors.Is(err, models.ErrNotFound))

		_, err = s.ListVectors(ctx, uuid.New())
		assert.True(t, errors.Is(err, models.ErrNotFound))

		_, err = s.AppendPhotos(ctx, uuid.New(), []models.Photo{{StorageKey: "k"}})
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})

	t.Run("list folders by owner", func(t *testing.T) {
		s := newStore(t)
		newFolder(t, s)
		newFolder(t, s)
		require.NoError(t, s.CreateFolder(ctx, &models.Folder{OwnerID: t.Name() + "-other", Name: "Other"}))

		folders, err := s.ListFolders(ctx, t.Name())
		require.NoError(t, err)
		assert.Len(t, folders, 2)

		none, err := s.ListFolders(ctx, t.Name()+"-nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("update folder", func(t *testing.T) {
		s := newStore(t)
		f := newFolder(t, s)
		name := "Reception"
		link := "https://example.com/album"

		got, err := s.UpdateFolder(ctx, f.ID, models.FolderUpdate{Name: &name, WebLink: &link})
		require.NoError(t, err)
		assert.Equal(t, "Reception", got.Name)
		assert.Equal(t, "Smith", got.Client)
		assert.Equal(t, link, got.WebLink)

		_, err = s.UpdateFolder(ctx, uuid.New(), models.FolderUpdate{Name: &name})
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})

	t.Run("append keeps zero-face photos", func(t *testing.T) {
		s := newStore(t)
		f := newFolder(t, s)
		v1 := models.FaceVector{0.1, 0.2, 0.3}

		res, err := s.AppendPhotos(ctx, f.ID, []models.Photo{
			{StorageKey: "A", Vectors: []models.FaceVector{v1}},
			{StorageKey: "B"},
		})
		require.NoError(t, err)
		assert.Equal(t, models.AppendResult{Inserted: 2}, res)

		photos, err := s.ListVectors(ctx, f.ID)
		require.NoError(t, err)
		byKey := photosByKey(photos)
		require.Len(t, byKey, 2)
		require.Len(t, byKey["A"].Vectors, 1)
		assert.InDeltaSlice(t, []float32(v1), []float32(byKey["A"].Vectors[0]), 1e-6)
		assert.Empty(t, byKey["B"].Vectors)
	})

	t.Run("append replaces vectors for an existing key", func(t *testing.T) {
		s := newStore(t)
		f := newFolder(t, s)

		_, err := s.AppendPhotos(ctx, f.ID, []models.Photo{
			{StorageKey: "A", Vectors: []models.FaceVector{{1, 0, 0}, {0, 1, 0}}},
		})
		require.NoError(t, err)

		res, err := s.AppendPhotos(ctx, f.ID, []models.Photo{
			{StorageKey: "A", Vectors: []models.FaceVector{{0, 0, 1}}},
			{StorageKey: "C"},
		})
		require.NoError(t, err)
		assert.Equal(t, models.AppendResult{Inserted: 1, Replaced: 1}, res)

		photos, err := s.ListVectors(ctx, f.ID)
		require.NoError(t, err)
		byKey := photosByKey(photos)
		require.Len(t, byKey["A"].Vectors, 1)
		assert.InDeltaSlice(t, []float32{0, 0, 1}, []float32(byKey["A"].Vectors[0]), 1e-6)
	})

	t.Run("remove then list never shows key", func(t *testing.T) {
		s := newStore(t)
		f := newFolder(t, s)
		_, err := s.AppendPhotos(ctx, f.ID, []models.Photo{
			{StorageKey: "A", Vectors: []models.FaceVector{{1, 2, 3}}},
			{StorageKey: "B"},
		})
		require.NoError(t, err)

		removed, err := s.RemovePhoto(ctx, f.ID, "A")
		require.NoError(t, err)
		assert.True(t, removed)

		photos, err := s.ListVectors(ctx, f.ID)
		require.NoError(t, err)
		assert.NotContains(t, photosByKey(photos), "A")

		removed, err = s.RemovePhoto(ctx, f.ID, "A")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("append remove append yields one record", func(t *testing.T) {
		s := newStore(t)
		f := newFolder(t, s)
		p := models.Photo{StorageKey: "A", Vectors: []models.FaceVector{{1, 1, 1}}}

		_, err := s.AppendPhotos(ctx, f.ID, []models.Photo{p})
		require.NoError(t, err)
		_, err = s.RemovePhoto(ctx, f.ID, "A")
		require.NoError(t, err)
		_, err = s.AppendPhotos(ctx, f.ID, []models.Photo{p})
		require.NoError(t, err)

		photos, err := s.ListVectors(ctx, f.ID)
		require.NoError(t, err)
		require.Len(t, photos, 1)
		assert.Len(t, photos[0].Vectors, 1)
	})

	t.Run("remove on missing folder is not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.RemovePhoto(ctx, uuid.New(), "A")
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})

	t.Run("delete folder returns its keys", func(t *testing.T) {
		s := newStore(t)
		f := newFolder(t, s)
		_, err := s.AppendPhotos(ctx, f.ID, []models.Photo{{StorageKey: "A"}, {StorageKey: "B"}})
		require.NoError(t, err)

		keys, err := s.DeleteFolder(ctx, f.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"A", "B"}, keys)

		_, err = s.GetFolder(ctx, f.ID)
		assert.True(t, errors.Is(err, models.ErrNotFound))

		_, err = s.DeleteFolder(ctx, f.ID)
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})

	t.Run("referenced keys", func(t *testing.T) {
		s := newStore(t)
		f := newFolder(t, s)
		_, err := s.AppendPhotos(ctx, f.ID, []models.Photo{{StorageKey: "uploads/a"}})
		require.NoError(t, err)

		refs, err := s.ReferencedKeys(ctx, []string{"uploads/a", "uploads/orphan"})
		require.NoError(t, err)
		assert.True(t, refs["uploads/a"])
		assert.False(t, refs["uploads/orphan"])
	})
}

func photosByKey(photos []models.Photo) map[string]models.Photo {
	out := make(map[string]models.Photo, len(photos))
	for _, p := range photos {
		out[p.StorageKey] = p
	}
	return out
}
