package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/your-org/snapmatch/internal/observability"
)

const referenceChunk = 500

// Sweeper removes objects under the upload prefix that no folder references
// once they are older than the grace period. Young objects are skipped so a
// slot being uploaded right now is never swept.
type Sweeper struct {
	meta    MetadataStore
	objects ObjectStore
	prefix  string
	grace   time.Duration
	now     func() time.Time
}

func NewSweeper(meta MetadataStore, objects ObjectStore, prefix string, grace time.Duration) *Sweeper {
	return &Sweeper{
		meta:    meta,
		objects: objects,
		prefix:  strings.Trim(prefix, "/") + "/",
		grace:   grace,
		now:     time.Now,
	}
}

// Sweep runs one pass and returns the number of objects removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	objects, err := s.objects.ListObjects(ctx, s.prefix)
	if err != nil {
		return 0, fmt.Errorf("list objects: %w", err)
	}

	cutoff := s.now().Add(-s.grace)
	var candidates []string
	for _, o := range objects {
		if o.LastModified.Before(cutoff) {
			candidates = append(candidates, o.Key)
		}
	}

	removed := 0
	for start := 0; start < len(candidates); start += referenceChunk {
		end := min(start+referenceChunk, len(candidates))
		chunk := candidates[start:end]

		refs, err := s.meta.ReferencedKeys(ctx, chunk)
		if err != nil {
			return removed, fmt.Errorf("check references: %w", err)
		}
		var orphans []string
		for _, k := range chunk {
			if !refs[k] {
				orphans = append(orphans, k)
			}
		}
		if len(orphans) == 0 {
			continue
		}

		failed, err := s.objects.DeleteObjects(ctx, orphans)
		removed += len(orphans) - len(failed)
		if err != nil {
			observability.OrphansSwept.Add(float64(len(orphans) - len(failed)))
			return removed, fmt.Errorf("delete orphans: %w", err)
		}
		observability.OrphansSwept.Add(float64(len(orphans)))
	}

	slog.Info("orphan sweep finished",
		"prefix", s.prefix,
		"objects", len(objects),
		"candidates", len(candidates),
		"removed", removed,
	)
	return removed, nil
}
