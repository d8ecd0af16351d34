package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/snapmatch/internal/models"
)

// MemoryStore keeps folders in process memory. Reads hand out deep copies so
// callers never observe later mutations.
type MemoryStore struct {
	mu      sync.RWMutex
	folders map[uuid.UUID]*models.Folder
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		folders: make(map[uuid.UUID]*models.Folder),
		now:     time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) CreateFolder(_ context.Context, f *models.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if _, ok := s.folders[f.ID]; ok {
		return fmt.Errorf("create folder %s: %w: duplicate id", f.ID, models.ErrValidation)
	}
	now := s.now()
	f.CreatedAt, f.UpdatedAt = now, now
	f.Photos = []models.Photo{}

	stored := *f
	stored.Photos = []models.Photo{}
	s.folders[f.ID] = &stored
	return nil
}

func (s *MemoryStore) GetFolder(_ context.Context, id uuid.UUID) (*models.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.folders[id]
	if !ok {
		return nil, fmt.Errorf("folder %s: %w", id, models.ErrNotFound)
	}
	out := folderKeys(f)
	return &out, nil
}

func (s *MemoryStore) ListFolders(_ context.Context, ownerID string) ([]models.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Folder{}
	for _, f := range s.folders {
		if f.OwnerID == ownerID {
			out = append(out, folderKeys(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateFolder(_ context.Context, id uuid.UUID, upd models.FolderUpdate) (*models.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.folders[id]
	if !ok {
		return nil, fmt.Errorf("folder %s: %w", id, models.ErrNotFound)
	}
	if upd.Name != nil {
		f.Name = *upd.Name
	}
	if upd.Client != nil {
		f.Client = *upd.Client
	}
	if upd.Purpose != nil {
		f.Purpose = *upd.Purpose
	}
	if upd.WebLink != nil {
		f.WebLink = *upd.WebLink
	}
	f.UpdatedAt = s.now()

	out := folderKeys(f)
	return &out, nil
}

func (s *MemoryStore) DeleteFolder(_ context.Context, id uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.folders[id]
	if !ok {
		return nil, fmt.Errorf("folder %s: %w", id, models.ErrNotFound)
	}
	keys := make([]string, 0, len(f.Photos))
	for _, p := range f.Photos {
		keys = append(keys, p.StorageKey)
	}
	delete(s.folders, id)
	return keys, nil
}

func (s *MemoryStore) AppendPhotos(_ context.Context, folderID uuid.UUID, photos []models.Photo) (models.AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res models.AppendResult
	f, ok := s.folders[folderID]
	if !ok {
		return res, fmt.Errorf("folder %s: %w", folderID, models.ErrNotFound)
	}

	now := s.now()
	for _, p := range photos {
		stored := p.Clone()
		if stored.Vectors == nil {
			stored.Vectors = []models.FaceVector{}
		}
		if i := indexOfKey(f.Photos, p.StorageKey); i >= 0 {
			stored.CreatedAt = f.Photos[i].CreatedAt
			f.Photos[i] = stored
			res.Replaced++
			continue
		}
		stored.CreatedAt = now
		f.Photos = append(f.Photos, stored)
		res.Inserted++
	}
	f.UpdatedAt = now
	return res, nil
}

func (s *MemoryStore) RemovePhoto(_ context.Context, folderID uuid.UUID, storageKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.folders[folderID]
	if !ok {
		return false, fmt.Errorf("folder %s: %w", folderID, models.ErrNotFound)
	}
	kept := f.Photos[:0]
	removed := false
	for _, p := range f.Photos {
		if p.StorageKey == storageKey {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	f.Photos = kept
	if removed {
		f.UpdatedAt = s.now()
	}
	return removed, nil
}

func (s *MemoryStore) ListVectors(_ context.Context, folderID uuid.UUID) ([]models.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.folders[folderID]
	if !ok {
		return nil, fmt.Errorf("folder %s: %w", folderID, models.ErrNotFound)
	}
	out := make([]models.Photo, len(f.Photos))
	for i, p := range f.Photos {
		out[i] = p.Clone()
	}
	return out, nil
}

func (s *MemoryStore) ReferencedKeys(_ context.Context, keys []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := make(map[string]bool)
	for _, f := range s.folders {
		for _, p := range f.Photos {
			if want[p.StorageKey] {
				out[p.StorageKey] = true
			}
		}
	}
	return out, nil
}

// folderKeys copies folder metadata and photo keys without vectors.
func folderKeys(f *models.Folder) models.Folder {
	out := *f
	out.Photos = make([]models.Photo, len(f.Photos))
	for i, p := range f.Photos {
		out.Photos[i] = models.Photo{StorageKey: p.StorageKey, CreatedAt: p.CreatedAt}
	}
	return out
}

func indexOfKey(photos []models.Photo, key string) int {
	for i, p := range photos {
		if p.StorageKey == key {
			return i
		}
	}
	return -1
}
