package match

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/snapmatch/internal/models"
)

func TestEuclidean(t *testing.T) {
	assert.Equal(t, 0.0, Euclidean(models.FaceVector{1, 2, 3}, models.FaceVector{1, 2, 3}))
	assert.InDelta(t, 5.0, Euclidean(models.FaceVector{0, 0}, models.FaceVector{3, 4}), 1e-9)
	assert.True(t, math.IsInf(Euclidean(models.FaceVector{1}, models.FaceVector{1, 2}), 1))
}

func TestMatchPhotos(t *testing.T) {
	q := models.FaceVector{0, 0, 0}
	photos := []models.Photo{
		{StorageKey: "identical", Vectors: []models.FaceVector{{0, 0, 0}}},
		{StorageKey: "far", Vectors: []models.FaceVector{{1, 0, 0}}},
		{StorageKey: "second-face", Vectors: []models.FaceVector{{5, 5, 5}, {0.3, 0, 0}}},
		{StorageKey: "boundary", Vectors: []models.FaceVector{{0.5, 0, 0}}},
		{StorageKey: "no-faces", Vectors: []models.FaceVector{}},
	}

	got := MatchPhotos(photos, q, 0.5)
	assert.Equal(t, []string{"identical", "second-face"}, got, "distance equal to threshold is excluded")
}

func TestMatchPhotos_EmptyFolder(t *testing.T) {
	got := MatchPhotos(nil, models.FaceVector{1, 2}, 0.6)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestMatchPhotos_DedupesKeys(t *testing.T) {
	photos := []models.Photo{
		{StorageKey: "A", Vectors: []models.FaceVector{{0, 0}}},
		{StorageKey: "A", Vectors: []models.FaceVector{{0, 0}}},
	}
	assert.Equal(t, []string{"A"}, MatchPhotos(photos, models.FaceVector{0, 0}, 0.6))
}
