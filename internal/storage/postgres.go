package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/snapmatch/internal/config"
	"github.com/your-org/snapmatch/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	return NewPostgresStoreFromDSN(ctx, cfg.DSN(), cfg.MaxConns)
}

func NewPostgresStoreFromDSN(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Folders ---

func (s *PostgresStore) CreateFolder(ctx context.Context, f *models.Folder) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO folders (id, owner_id, name, client, purpose, web_link)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		f.ID, f.OwnerID, f.Name, f.Client, f.Purpose, f.WebLink,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	f.Photos = []models.Photo{}
	return nil
}

const folderColumns = `id, owner_id, name, client, purpose, web_link, created_at, updated_at`

func scanFolder(row pgx.Row, f *models.Folder) error {
	return row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.Client, &f.Purpose, &f.WebLink, &f.CreatedAt, &f.UpdatedAt)
}

// GetFolder returns the folder with its photo keys. Vectors are not loaded.
func (s *PostgresStore) GetFolder(ctx context.Context, id uuid.UUID) (*models.Folder, error) {
	f := &models.Folder{}
	err := scanFolder(s.pool.QueryRow(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = $1`, id), f)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("folder %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("get folder: %w", err)
	}

	photos, err := s.photoKeys(ctx, s.pool, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	f.Photos = photos[id]
	if f.Photos == nil {
		f.Photos = []models.Photo{}
	}
	return f, nil
}

func (s *PostgresStore) ListFolders(ctx context.Context, ownerID string) ([]models.Folder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	folders := []models.Folder{}
	var ids []uuid.UUID
	for rows.Next() {
		var f models.Folder
		if err := scanFolder(rows, &f); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, f)
		ids = append(ids, f.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	if len(ids) == 0 {
		return folders, nil
	}

	photos, err := s.photoKeys(ctx, s.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range folders {
		folders[i].Photos = photos[folders[i].ID]
		if folders[i].Photos == nil {
			folders[i].Photos = []models.Photo{}
		}
	}
	return folders, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) photoKeys(ctx context.Context, q querier, folderIDs []uuid.UUID) (map[uuid.UUID][]models.Photo, error) {
	rows, err := q.Query(ctx,
		`SELECT folder_id, storage_key, created_at FROM photos
		 WHERE folder_id = ANY($1::uuid[]) ORDER BY created_at, storage_key`, uuidStrings(folderIDs))
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]models.Photo, len(folderIDs))
	for rows.Next() {
		var folderID uuid.UUID
		var p models.Photo
		if err := rows.Scan(&folderID, &p.StorageKey, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		out[folderID] = append(out[folderID], p)
	}
	return out, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func (s *PostgresStore) UpdateFolder(ctx context.Context, id uuid.UUID, upd models.FolderUpdate) (*models.Folder, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE folders SET
			name     = COALESCE($2, name),
			client   = COALESCE($3, client),
			purpose  = COALESCE($4, purpose),
			web_link = COALESCE($5, web_link),
			updated_at = NOW()
		 WHERE id = $1`,
		id, upd.Name, upd.Client, upd.Purpose, upd.WebLink)
	if err != nil {
		return nil, fmt.Errorf("update folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("folder %s: %w", id, models.ErrNotFound)
	}
	return s.GetFolder(ctx, id)
}

func (s *PostgresStore) DeleteFolder(ctx context.Context, id uuid.UUID) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin delete folder: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `SELECT storage_key FROM photos WHERE folder_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("list folder keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan folder keys: %w", err)
	}

	// photos and face_vectors go with the folder via ON DELETE CASCADE.
	tag, err := tx.Exec(ctx, `DELETE FROM folders WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("delete folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("folder %s: %w", id, models.ErrNotFound)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit delete folder: %w", err)
	}
	return keys, nil
}

// --- Photos and face vectors ---

func (s *PostgresStore) AppendPhotos(ctx context.Context, folderID uuid.UUID, photos []models.Photo) (models.AppendResult, error) {
	var res models.AppendResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock the folder row so a concurrent delete cannot interleave.
	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM folders WHERE id = $1 FOR UPDATE`, folderID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return res, fmt.Errorf("folder %s: %w", folderID, models.ErrNotFound)
		}
		return res, fmt.Errorf("lock folder: %w", err)
	}

	now := time.Now()
	for _, p := range photos {
		var photoID uuid.UUID
		var inserted bool
		// xmax is zero only for rows created by this statement.
		err := tx.QueryRow(ctx,
			`INSERT INTO photos (id, folder_id, storage_key, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $4)
			 ON CONFLICT (folder_id, storage_key) DO UPDATE SET updated_at = EXCLUDED.updated_at
			 RETURNING id, (xmax = 0)`,
			uuid.New(), folderID, p.StorageKey, now,
		).Scan(&photoID, &inserted)
		if err != nil {
			return res, fmt.Errorf("upsert photo %s: %w", p.StorageKey, err)
		}

		if inserted {
			res.Inserted++
		} else {
			res.Replaced++
			if _, err := tx.Exec(ctx, `DELETE FROM face_vectors WHERE photo_id = $1`, photoID); err != nil {
				return res, fmt.Errorf("clear vectors %s: %w", p.StorageKey, err)
			}
		}

		if len(p.Vectors) == 0 {
			continue
		}
		batch := &pgx.Batch{}
		for i, v := range p.Vectors {
			batch.Queue(`INSERT INTO face_vectors (photo_id, face_index, embedding) VALUES ($1, $2, $3)`,
				photoID, i, pgvector.NewVector(v))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return res, fmt.Errorf("insert vectors %s: %w", p.StorageKey, err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE folders SET updated_at = $2 WHERE id = $1`, folderID, now); err != nil {
		return res, fmt.Errorf("touch folder: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit append: %w", err)
	}
	return res, nil
}

func (s *PostgresStore) RemovePhoto(ctx context.Context, folderID uuid.UUID, storageKey string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM photos WHERE folder_id = $1 AND storage_key = $2`, folderID, storageKey)
	if err != nil {
		return false, fmt.Errorf("remove photo: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM folders WHERE id = $1)`, folderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check folder: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("folder %s: %w", folderID, models.ErrNotFound)
	}
	return false, nil
}

// ListVectors reads photos and vectors inside one REPEATABLE READ read-only
// transaction so both queries see the same snapshot.
func (s *PostgresStore) ListVectors(ctx context.Context, folderID uuid.UUID) ([]models.Photo, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM folders WHERE id = $1)`, folderID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check folder: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("folder %s: %w", folderID, models.ErrNotFound)
	}

	byFolder, err := s.photoKeys(ctx, tx, []uuid.UUID{folderID})
	if err != nil {
		return nil, err
	}
	photos := byFolder[folderID]
	index := make(map[string]int, len(photos))
	for i := range photos {
		photos[i].Vectors = []models.FaceVector{}
		index[photos[i].StorageKey] = i
	}

	rows, err := tx.Query(ctx,
		`SELECT p.storage_key, fv.embedding
		 FROM face_vectors fv
		 JOIN photos p ON p.id = fv.photo_id
		 WHERE p.folder_id = $1
		 ORDER BY p.storage_key, fv.face_index`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var vec pgvector.Vector
		if err := rows.Scan(&key, &vec); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		if i, ok := index[key]; ok {
			photos[i].Vectors = append(photos[i].Vectors, models.FaceVector(vec.Slice()))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list vectors: %w", err)
	}
	if photos == nil {
		photos = []models.Photo{}
	}
	return photos, nil
}

func (s *PostgresStore) ReferencedKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT storage_key FROM photos WHERE storage_key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("referenced keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out[k] = true
	}
	return out, rows.Err()
}
