package models

import (
	"math"
	"time"
)

// FaceVector is the embedding of one detected face.
type FaceVector []float32

// Photo is a stored object reference plus the faces found in it.
// Vectors is empty when no face was detected.
type Photo struct {
	StorageKey string       `json:"storage_key" db:"storage_key"`
	Vectors    []FaceVector `json:"vectors" db:"-"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// Clone returns a deep copy of the photo.
func (p Photo) Clone() Photo {
	out := Photo{StorageKey: p.StorageKey, CreatedAt: p.CreatedAt}
	if p.Vectors != nil {
		out.Vectors = make([]FaceVector, len(p.Vectors))
		for i, v := range p.Vectors {
			out.Vectors[i] = append(FaceVector(nil), v...)
		}
	}
	return out
}

// Valid reports whether v has exactly dim finite components.
func (v FaceVector) Valid(dim int) bool {
	if len(v) != dim {
		return false
	}
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}

// AppendResult reports how a keyed append changed a folder.
type AppendResult struct {
	Inserted int `json:"inserted"`
	Replaced int `json:"replaced"`
}
