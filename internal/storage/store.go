package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/snapmatch/internal/config"
	"github.com/your-org/snapmatch/internal/models"
)

// Store is the folder and embedding store. PostgresStore is the production
// implementation; MemoryStore backs tests and single-node development.
type Store interface {
	CreateFolder(ctx context.Context, f *models.Folder) error
	GetFolder(ctx context.Context, id uuid.UUID) (*models.Folder, error)
	ListFolders(ctx context.Context, ownerID string) ([]models.Folder, error)
	UpdateFolder(ctx context.Context, id uuid.UUID, upd models.FolderUpdate) (*models.Folder, error)
	// DeleteFolder removes the folder with all its photos and vectors and
	// returns the storage keys that were referenced.
	DeleteFolder(ctx context.Context, id uuid.UUID) ([]string, error)

	// AppendPhotos is keyed by storage key: an existing key has its vectors
	// replaced, a new key is inserted. The whole call is atomic.
	AppendPhotos(ctx context.Context, folderID uuid.UUID, photos []models.Photo) (models.AppendResult, error)
	// RemovePhoto removes every record with exactly this key.
	RemovePhoto(ctx context.Context, folderID uuid.UUID, storageKey string) (bool, error)
	// ListVectors returns a consistent snapshot of the folder's photos.
	ListVectors(ctx context.Context, folderID uuid.UUID) ([]models.Photo, error)

	// ReferencedKeys reports which of keys are registered in any folder.
	ReferencedKeys(ctx context.Context, keys []string) (map[string]bool, error)

	Ping(ctx context.Context) error
	Close()
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Open returns the store selected by cfg.Driver. The postgres store is
// migrated before it is returned.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		slog.Warn("using in-memory store, data is lost on restart")
		return NewMemoryStore(), nil
	case "postgres", "":
		db, err := NewPostgresStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
