// Package match answers "which photos in this folder contain this face".
package match

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/snapmatch/internal/extract"
	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/internal/observability"
)

// Snapshotter returns a consistent read of a folder's photos.
type Snapshotter interface {
	ListVectors(ctx context.Context, folderID uuid.UUID) ([]models.Photo, error)
}

type Matcher struct {
	store     Snapshotter
	extractor extract.Extractor
	threshold float64
	dimension int
	maxBytes  int64
}

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

func NewMatcher(store Snapshotter, extractor extract.Extractor, threshold float64, dimension int, maxSelfieBytes int64) *Matcher {
	return &Matcher{
		store:     store,
		extractor: extractor,
		threshold: threshold,
		dimension: dimension,
		maxBytes:  maxSelfieBytes,
	}
}

// Threshold returns the distance below which two faces match.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match reads the selfie, takes the folder snapshot, extracts the first face
// and returns the keys of every photo containing it.
func (m *Matcher) Match(ctx context.Context, folderID uuid.UUID, selfie io.Reader) ([]string, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	if err := m.readSelfie(buf, selfie); err != nil {
		observability.MatchRequests.WithLabelValues("rejected").Inc()
		return nil, err
	}

	keys, err := m.matchBytes(ctx, folderID, buf.Bytes())
	observability.MatchRequests.WithLabelValues(matchStatus(err)).Inc()
	return keys, err
}

func (m *Matcher) readSelfie(buf *bytes.Buffer, selfie io.Reader) error {
	r := selfie
	if m.maxBytes > 0 {
		r = io.LimitReader(selfie, m.maxBytes+1)
	}
	n, err := buf.ReadFrom(r)
	if err != nil {
		return fmt.Errorf("read selfie: %w: %v", models.ErrValidation, err)
	}
	if n == 0 {
		return fmt.Errorf("empty selfie: %w", models.ErrUnreadableImage)
	}
	if m.maxBytes > 0 && n > m.maxBytes {
		return fmt.Errorf("selfie exceeds %d bytes: %w", m.maxBytes, models.ErrValidation)
	}
	return nil
}

func (m *Matcher) matchBytes(ctx context.Context, folderID uuid.UUID, image []byte) ([]string, error) {
	photos, err := m.store.ListVectors(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("snapshot folder: %w", err)
	}

	faces, err := m.extractor.Extract(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("extract selfie: %w", err)
	}
	if len(faces) == 0 {
		return nil, models.ErrNoFaceDetected
	}
	if len(faces) > 1 {
		slog.Debug("selfie has several faces, using the first", "folder_id", folderID, "faces", len(faces))
	}

	return m.scan(folderID, photos, faces[0])
}

// MatchVector matches a vector the caller already extracted.
func (m *Matcher) MatchVector(ctx context.Context, folderID uuid.UUID, v models.FaceVector) ([]string, error) {
	photos, err := m.store.ListVectors(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("snapshot folder: %w", err)
	}
	return m.scan(folderID, photos, v)
}

func (m *Matcher) scan(folderID uuid.UUID, photos []models.Photo, v models.FaceVector) ([]string, error) {
	if m.dimension > 0 && !v.Valid(m.dimension) {
		return nil, fmt.Errorf("query vector has %d components, want %d finite: %w", len(v), m.dimension, models.ErrExternalService)
	}

	start := time.Now()
	keys := MatchPhotos(photos, v, m.threshold)
	observability.MatchDuration.Observe(time.Since(start).Seconds())

	slog.Info("selfie matched",
		"folder_id", folderID,
		"photos", len(photos),
		"matches", len(keys),
	)
	return keys, nil
}

func matchStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrNoFaceDetected):
		return "no_face"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrUnreadableImage), errors.Is(err, models.ErrValidation):
		return "rejected"
	default:
		return "error"
	}
}
