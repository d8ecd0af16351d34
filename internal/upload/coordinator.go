// Package upload issues presigned upload slots and registers uploaded photos
// against folders.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/snapmatch/internal/config"
	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/internal/observability"
)

// Presigner is the object storage surface the coordinator needs.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// FolderReader loads folder metadata.
type FolderReader interface {
	GetFolder(ctx context.Context, id uuid.UUID) (*models.Folder, error)
}

// Ingester extracts and commits a batch of keys to a folder.
type Ingester interface {
	IngestInto(ctx context.Context, folderID uuid.UUID, keys []string) (models.AppendResult, error)
}

// EventPublisher announces folder changes. Failures are logged, never
// returned to the caller.
type EventPublisher interface {
	PublishFolderEvent(ctx context.Context, ev models.FolderEvent) error
}

// Slot is one presigned upload target.
type Slot struct {
	UploadURL   string    `json:"uploadUrl"`
	StorageKey  string    `json:"storageKey"`
	ContentType string    `json:"contentType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

const (
	keyAttempts    = 3
	maxNameLength  = 100
	presignWorkers = 8
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type Coordinator struct {
	objects Presigner
	folders FolderReader
	ingest  Ingester
	events  EventPublisher
	cfg     config.UploadConfig
	allowed map[string]bool
	keyRe   *regexp.Regexp
	now     func() time.Time
}

func NewCoordinator(objects Presigner, folders FolderReader, ingest Ingester, events EventPublisher, cfg config.UploadConfig) *Coordinator {
	allowed := make(map[string]bool, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[strings.ToLower(t)] = true
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	return &Coordinator{
		objects: objects,
		folders: folders,
		ingest:  ingest,
		events:  events,
		cfg:     cfg,
		allowed: allowed,
		keyRe:   regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `/[A-Za-z0-9][A-Za-z0-9._-]*$`),
		now:     time.Now,
	}
}

// RequestUploadSlots returns one presigned PUT per file. Nothing is persisted;
// a slot that is never used simply expires.
func (c *Coordinator) RequestUploadSlots(ctx context.Context, fileNames, fileTypes []string) ([]Slot, error) {
	if len(fileNames) == 0 {
		return nil, fmt.Errorf("no files requested: %w", models.ErrValidation)
	}
	if len(fileNames) != len(fileTypes) {
		return nil, fmt.Errorf("got %d file names and %d file types: %w", len(fileNames), len(fileTypes), models.ErrValidation)
	}
	if c.cfg.MaxBatch > 0 && len(fileNames) > c.cfg.MaxBatch {
		return nil, fmt.Errorf("batch of %d exceeds limit %d: %w", len(fileNames), c.cfg.MaxBatch, models.ErrValidation)
	}
	for i, ct := range fileTypes {
		if !c.allowed[strings.ToLower(ct)] {
			return nil, fmt.Errorf("file %q has unsupported type %q: %w", fileNames[i], ct, models.ErrValidation)
		}
	}

	expiry := c.cfg.URLExpiryDuration()
	expiresAt := c.now().Add(expiry)
	slots := make([]Slot, len(fileNames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(presignWorkers)
	for i := range fileNames {
		g.Go(func() error {
			key, err := c.freshKey(gctx, fileNames[i])
			if err != nil {
				return err
			}
			ct := strings.ToLower(fileTypes[i])
			u, err := c.objects.PresignPut(gctx, key, ct, expiry)
			if err != nil {
				return fmt.Errorf("presign %q: %w: %v", fileNames[i], models.ErrExternalService, err)
			}
			slots[i] = Slot{UploadURL: u, StorageKey: key, ContentType: ct, ExpiresAt: expiresAt}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	observability.UploadSlotsIssued.Add(float64(len(slots)))
	return slots, nil
}

// NewKey returns an unused storage key for a server-side upload of fileName.
func (c *Coordinator) NewKey(ctx context.Context, fileName string) (string, error) {
	return c.freshKey(ctx, fileName)
}

// freshKey generates a key and regenerates it while an object already exists
// under it.
func (c *Coordinator) freshKey(ctx context.Context, fileName string) (string, error) {
	name := SanitizeFileName(fileName)
	for attempt := 0; attempt < keyAttempts; attempt++ {
		key := fmt.Sprintf("%s/%s-%s", strings.Trim(c.cfg.Prefix, "/"), uuid.NewString(), name)
		exists, err := c.objects.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("check key %q: %w: %v", key, models.ErrExternalService, err)
		}
		if !exists {
			return key, nil
		}
		slog.Warn("storage key collision, regenerating", "key", key)
	}
	return "", fmt.Errorf("no free storage key for %q after %d attempts: %w", fileName, keyAttempts, models.ErrExternalService)
}

// RegisterPhotoLinks runs the ingestion pipeline for keys and returns the
// updated folder. The batch either lands whole or not at all.
func (c *Coordinator) RegisterPhotoLinks(ctx context.Context, folderID uuid.UUID, storageKeys []string) (*models.Folder, error) {
	if len(storageKeys) == 0 {
		return nil, fmt.Errorf("no storage keys: %w", models.ErrValidation)
	}
	if c.cfg.MaxBatch > 0 && len(storageKeys) > c.cfg.MaxBatch {
		return nil, fmt.Errorf("batch of %d exceeds limit %d: %w", len(storageKeys), c.cfg.MaxBatch, models.ErrValidation)
	}
	for _, k := range storageKeys {
		if err := c.ValidateKey(k); err != nil {
			return nil, err
		}
	}

	if _, err := c.folders.GetFolder(ctx, folderID); err != nil {
		return nil, err
	}

	res, err := c.ingest.IngestInto(ctx, folderID, storageKeys)
	if err != nil {
		return nil, err
	}

	folder, err := c.folders.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	if c.events != nil {
		ev := models.FolderEvent{
			Type:        models.EventPhotosRegistered,
			FolderID:    folderID,
			StorageKeys: storageKeys,
			PhotoCount:  folder.PhotoCount(),
			Timestamp:   c.now(),
		}
		if err := c.events.PublishFolderEvent(ctx, ev); err != nil {
			slog.Warn("publish folder event", "folder_id", folderID, "error", err)
		}
	}

	slog.Info("photos registered",
		"folder_id", folderID,
		"inserted", res.Inserted,
		"replaced", res.Replaced,
		"photo_count", folder.PhotoCount(),
	)
	return folder, nil
}

// ValidateKey accepts only keys this coordinator could have issued.
func (c *Coordinator) ValidateKey(key string) error {
	if !c.keyRe.MatchString(key) || strings.Contains(key, "..") {
		return fmt.Errorf("malformed storage key %q: %w", key, models.ErrValidation)
	}
	return nil
}

// SanitizeFileName reduces a client-supplied name to a safe base name.
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > maxNameLength {
		ext := path.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:maxNameLength-len(ext)] + ext
	}
	if name == "" {
		return "photo"
	}
	return name
}
