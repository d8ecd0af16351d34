// Package ingest turns registered storage keys into face vectors and commits
// them to a folder as one batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/snapmatch/internal/extract"
	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/internal/observability"
)

// ObjectGetter fetches stored photo bytes.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Appender commits extracted photos to a folder.
type Appender interface {
	AppendPhotos(ctx context.Context, folderID uuid.UUID, photos []models.Photo) (models.AppendResult, error)
}

type Pipeline struct {
	objects     ObjectGetter
	extractor   extract.Extractor
	store       Appender
	dimension   int
	concurrency int
}

func NewPipeline(objects ObjectGetter, extractor extract.Extractor, store Appender, dimension, concurrency int) *Pipeline {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pipeline{
		objects:     objects,
		extractor:   extractor,
		store:       store,
		dimension:   dimension,
		concurrency: concurrency,
	}
}

// Ingest fetches and extracts every key with at most p.concurrency calls in
// flight. The first failure cancels the rest and is returned alone; on
// success the photos come back in input order with duplicates dropped.
func (p *Pipeline) Ingest(ctx context.Context, keys []string) ([]models.Photo, error) {
	keys = dedupe(keys)
	photos := make([]models.Photo, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vecs, err := p.extractOne(gctx, key)
			if err != nil {
				return err
			}
			photos[i] = models.Photo{StorageKey: key, Vectors: vecs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return photos, nil
}

// IngestInto runs Ingest and appends the result to the folder in one call.
// Nothing is appended unless every key succeeded.
func (p *Pipeline) IngestInto(ctx context.Context, folderID uuid.UUID, keys []string) (models.AppendResult, error) {
	start := time.Now()

	photos, err := p.Ingest(ctx, keys)
	if err != nil {
		observability.IngestBatches.WithLabelValues(batchStatus(err)).Inc()
		slog.Warn("ingest batch failed", "folder_id", folderID, "keys", len(keys), "error", err)
		return models.AppendResult{}, err
	}
	if err := ctx.Err(); err != nil {
		observability.IngestBatches.WithLabelValues("cancelled").Inc()
		return models.AppendResult{}, err
	}

	res, err := p.store.AppendPhotos(ctx, folderID, photos)
	if err != nil {
		observability.IngestBatches.WithLabelValues("error").Inc()
		return models.AppendResult{}, fmt.Errorf("append photos: %w", err)
	}

	faces := 0
	for _, ph := range photos {
		faces += len(ph.Vectors)
	}
	observability.IngestBatches.WithLabelValues("ok").Inc()
	observability.IngestDuration.Observe(time.Since(start).Seconds())
	observability.PhotosIngested.WithLabelValues("inserted").Add(float64(res.Inserted))
	observability.PhotosIngested.WithLabelValues("replaced").Add(float64(res.Replaced))
	observability.FacesExtracted.Add(float64(faces))

	slog.Info("ingested photos",
		"folder_id", folderID,
		"inserted", res.Inserted,
		"replaced", res.Replaced,
		"faces", faces,
		"duration", time.Since(start),
	)
	return res, nil
}

func (p *Pipeline) extractOne(ctx context.Context, key string) ([]models.FaceVector, error) {
	data, err := p.objects.GetObject(ctx, key)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			return nil, fmt.Errorf("photo %q has not been uploaded: %w", key, models.ErrValidation)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, fmt.Errorf("fetch photo %q: %w: %v", key, models.ErrExternalService, err)
		}
	}

	vecs, err := p.extractor.Extract(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("extract %q: %w", key, err)
	}
	for i, v := range vecs {
		if !v.Valid(p.dimension) {
			return nil, fmt.Errorf("extract %q: face %d has invalid vector (len %d, want %d finite values): %w",
				key, i, len(v), p.dimension, models.ErrExternalService)
		}
	}
	if vecs == nil {
		vecs = []models.FaceVector{}
	}
	return vecs, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func batchStatus(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrUnreadableImage):
		return "rejected"
	default:
		return "error"
	}
}
