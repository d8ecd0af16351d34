// Package reconcile keeps object storage in step with folder metadata:
// deletions remove metadata first and clean objects up afterwards.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/internal/observability"
	"github.com/your-org/snapmatch/internal/storage"
)

// MetadataStore is the slice of storage.Store used for deletions.
type MetadataStore interface {
	GetFolder(ctx context.Context, id uuid.UUID) (*models.Folder, error)
	RemovePhoto(ctx context.Context, folderID uuid.UUID, storageKey string) (bool, error)
	DeleteFolder(ctx context.Context, id uuid.UUID) ([]string, error)
	ReferencedKeys(ctx context.Context, keys []string) (map[string]bool, error)
}

// ObjectStore deletes and lists stored objects.
type ObjectStore interface {
	DeleteObject(ctx context.Context, key string) error
	DeleteObjects(ctx context.Context, keys []string) ([]string, error)
	ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

// TaskQueue accepts cleanup work for the background worker.
type TaskQueue interface {
	PublishCleanup(ctx context.Context, task models.CleanupTask) error
}

// EventPublisher announces folder changes.
type EventPublisher interface {
	PublishFolderEvent(ctx context.Context, ev models.FolderEvent) error
}

type Deleter struct {
	meta    MetadataStore
	objects ObjectStore
	tasks   TaskQueue
	events  EventPublisher
	now     func() time.Time
}

func NewDeleter(meta MetadataStore, objects ObjectStore, tasks TaskQueue, events EventPublisher) *Deleter {
	return &Deleter{meta: meta, objects: objects, tasks: tasks, events: events, now: time.Now}
}

// DeletePhoto removes key from the folder, then deletes the object. An object
// delete failure is queued for retry and does not fail the call.
func (d *Deleter) DeletePhoto(ctx context.Context, folderID uuid.UUID, key string) (*models.Folder, error) {
	if key == "" {
		return nil, fmt.Errorf("storage key is required: %w", models.ErrValidation)
	}
	removed, err := d.meta.RemovePhoto(ctx, folderID, key)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, fmt.Errorf("photo %q in folder %s: %w", key, folderID, models.ErrNotFound)
	}

	if orphans := d.unreferenced(ctx, []string{key}); len(orphans) > 0 {
		if err := d.objects.DeleteObject(ctx, key); err != nil {
			d.inconsistent(ctx, folderID, orphans, "photo_delete", err)
		}
	}

	folder, err := d.meta.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	d.publish(ctx, models.FolderEvent{
		Type:        models.EventPhotoDeleted,
		FolderID:    folderID,
		StorageKeys: []string{key},
		PhotoCount:  folder.PhotoCount(),
		Timestamp:   d.now(),
	})
	return folder, nil
}

// DeleteFolder removes the folder with its photos and vectors, then batch
// deletes the objects no other folder references.
func (d *Deleter) DeleteFolder(ctx context.Context, folderID uuid.UUID) error {
	keys, err := d.meta.DeleteFolder(ctx, folderID)
	if err != nil {
		return err
	}

	orphans := d.unreferenced(ctx, keys)
	if len(orphans) > 0 {
		failed, err := d.objects.DeleteObjects(ctx, orphans)
		if err != nil {
			if len(failed) == 0 {
				failed = orphans
			}
			d.inconsistent(ctx, folderID, failed, "folder_delete", err)
		}
	}

	slog.Info("folder deleted", "folder_id", folderID, "photos", len(keys), "objects", len(orphans))
	d.publish(ctx, models.FolderEvent{
		Type:        models.EventFolderDeleted,
		FolderID:    folderID,
		StorageKeys: keys,
		Timestamp:   d.now(),
	})
	return nil
}

// ProcessCleanup retries a queued object deletion. Keys that were registered
// again since the task was queued are left alone.
func (d *Deleter) ProcessCleanup(ctx context.Context, task models.CleanupTask) error {
	refs, err := d.meta.ReferencedKeys(ctx, task.StorageKeys)
	if err != nil {
		observability.CleanupProcessed.WithLabelValues("retry").Inc()
		return fmt.Errorf("check references: %w", err)
	}
	var orphans []string
	for _, k := range task.StorageKeys {
		if !refs[k] {
			orphans = append(orphans, k)
		}
	}
	if len(orphans) == 0 {
		observability.CleanupProcessed.WithLabelValues("skipped").Inc()
		return nil
	}
	failed, err := d.objects.DeleteObjects(ctx, orphans)
	if err == nil && len(failed) > 0 {
		err = fmt.Errorf("%d of %d objects not deleted", len(failed), len(orphans))
	}
	if err != nil {
		observability.CleanupProcessed.WithLabelValues("retry").Inc()
		return fmt.Errorf("delete objects: %w", err)
	}
	observability.CleanupProcessed.WithLabelValues("done").Inc()
	slog.Info("cleanup task done", "folder_id", task.FolderID, "objects", len(orphans), "reason", task.Reason)
	return nil
}

// unreferenced filters keys down to those no folder still points at. On a
// lookup error it returns nothing; the sweeper collects what is missed.
func (d *Deleter) unreferenced(ctx context.Context, keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	refs, err := d.meta.ReferencedKeys(ctx, keys)
	if err != nil {
		slog.Warn("reference check failed, leaving objects for the sweeper", "keys", len(keys), "error", err)
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !refs[k] {
			out = append(out, k)
		}
	}
	return out
}

func (d *Deleter) inconsistent(ctx context.Context, folderID uuid.UUID, keys []string, reason string, cause error) {
	observability.CleanupFailures.Add(float64(len(keys)))
	slog.Error("storage inconsistency: metadata removed but object delete failed",
		"folder_id", folderID,
		"keys", keys,
		"reason", reason,
		"error", cause,
	)
	if d.tasks == nil {
		return
	}
	task := models.CleanupTask{FolderID: folderID, StorageKeys: keys, Reason: reason, EnqueuedAt: d.now()}
	// Detached so a cancelled request still gets its cleanup queued.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.tasks.PublishCleanup(pubCtx, task); err != nil {
		slog.Error("queue cleanup task", "folder_id", folderID, "keys", len(keys), "error", err)
	}
}

func (d *Deleter) publish(ctx context.Context, ev models.FolderEvent) {
	if d.events == nil {
		return
	}
	if err := d.events.PublishFolderEvent(ctx, ev); err != nil {
		slog.Warn("publish folder event", "folder_id", ev.FolderID, "type", ev.Type, "error", err)
	}
}
