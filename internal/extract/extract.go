// Package extract defines the face-extraction capability and its HTTP backend.
package extract

import (
	"context"

	"github.com/your-org/snapmatch/internal/models"
)

// Extractor turns image bytes into one vector per detected face.
//
// Implementations return an empty slice when no face is present,
// models.ErrUnreadableImage when the bytes cannot be decoded, and
// models.ErrExternalService for any internal failure. Faces are ordered
// so the first element is the primary face. The image slice may be reused
// by the caller once Extract returns.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]models.FaceVector, error)
}

// Func adapts a plain function to Extractor.
type Func func(ctx context.Context, image []byte) ([]models.FaceVector, error)

func (f Func) Extract(ctx context.Context, image []byte) ([]models.FaceVector, error) {
	return f(ctx, image)
}
