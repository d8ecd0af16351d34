package match

import (
	"math"
	"sort"

	"github.com/your-org/snapmatch/internal/models"
)

// Euclidean returns the L2 distance between a and b, accumulated in float64.
// Vectors of different length are infinitely far apart.
func Euclidean(a, b models.FaceVector) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// MatchPhotos returns the sorted keys of photos holding at least one vector
// strictly closer than threshold to query.
func MatchPhotos(photos []models.Photo, query models.FaceVector, threshold float64) []string {
	seen := make(map[string]struct{})
	keys := []string{}
	for _, p := range photos {
		if _, ok := seen[p.StorageKey]; ok {
			continue
		}
		for _, v := range p.Vectors {
			if Euclidean(query, v) < threshold {
				seen[p.StorageKey] = struct{}{}
				keys = append(keys, p.StorageKey)
				break
			}
		}
	}
	sort.Strings(keys)
	return keys
}
