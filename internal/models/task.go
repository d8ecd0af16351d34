package models

import (
	"time"

	"github.com/google/uuid"
)

// CleanupTask asks the worker to delete objects whose metadata is already gone.
type CleanupTask struct {
	FolderID    uuid.UUID `json:"folder_id"`
	StorageKeys []string  `json:"storage_keys"`
	Reason      string    `json:"reason"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

type FolderEventType string

const (
	EventPhotosRegistered FolderEventType = "photos_registered"
	EventPhotoDeleted     FolderEventType = "photo_deleted"
	EventFolderDeleted    FolderEventType = "folder_deleted"
)

// FolderEvent is published on every folder mutation and fanned out to
// WebSocket subscribers.
type FolderEvent struct {
	Type        FolderEventType `json:"type"`
	FolderID    uuid.UUID       `json:"folder_id"`
	StorageKeys []string        `json:"storage_keys,omitempty"`
	PhotoCount  int             `json:"photo_count"`
	Timestamp   time.Time       `json:"timestamp"`
}
