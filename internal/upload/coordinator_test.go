package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/your-org/snapmatch/internal/config"
	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/internal/storage"
)

type mockPresigner struct {
	mock.Mock
}

func (m *mockPresigner) PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, key, contentType, expiry)
	return args.String(0), args.Error(1)
}

func (m *mockPresigner) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

type fakeIngester struct {
	store *storage.MemoryStore
	err   error
	calls int
}

func (f *fakeIngester) IngestInto(ctx context.Context, folderID uuid.UUID, keys []string) (models.AppendResult, error) {
	f.calls++
	if f.err != nil {
		return models.AppendResult{}, f.err
	}
	photos := make([]models.Photo, len(keys))
	for i, k := range keys {
		photos[i] = models.Photo{StorageKey: k}
	}
	return f.store.AppendPhotos(ctx, folderID, photos)
}

type recordingPublisher struct {
	events []models.FolderEvent
}

func (r *recordingPublisher) PublishFolderEvent(_ context.Context, ev models.FolderEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func testConfig() config.UploadConfig {
	return config.UploadConfig{
		Prefix:       "uploads",
		URLExpiry:    15,
		MaxBatch:     3,
		AllowedTypes: []string{"image/jpeg", "image/png"},
	}
}

func TestRequestUploadSlots(t *testing.T) {
	p := new(mockPresigner)
	p.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	p.On("PresignPut", mock.Anything, mock.Anything, mock.Anything, 15*time.Minute).
		Return("https://minio.local/signed", nil)

	c := NewCoordinator(p, nil, nil, nil, testConfig())
	slots, err := c.RequestUploadSlots(context.Background(),
		[]string{"IMG 001.jpg", "../../etc/passwd.png"},
		[]string{"image/jpeg", "IMAGE/PNG"})
	require.NoError(t, err)
	require.Len(t, slots, 2)

	assert.True(t, strings.HasPrefix(slots[0].StorageKey, "uploads/"))
	assert.True(t, strings.HasSuffix(slots[0].StorageKey, "-IMG_001.jpg"))
	assert.True(t, strings.HasSuffix(slots[1].StorageKey, "-passwd.png"))
	assert.NotEqual(t, slots[0].StorageKey, slots[1].StorageKey)
	assert.Equal(t, "image/png", slots[1].ContentType)
	assert.Equal(t, "https://minio.local/signed", slots[0].UploadURL)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), slots[0].ExpiresAt, time.Minute)

	for _, s := range slots {
		require.NoError(t, c.ValidateKey(s.StorageKey))
		p.AssertCalled(t, "PresignPut", mock.Anything, s.StorageKey, s.ContentType, 15*time.Minute)
	}
}

func TestRequestUploadSlots_RegeneratesOnCollision(t *testing.T) {
	p := new(mockPresigner)
	p.On("Exists", mock.Anything, mock.Anything).Return(true, nil).Once()
	p.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	p.On("PresignPut", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("u", nil)

	c := NewCoordinator(p, nil, nil, nil, testConfig())
	slots, err := c.RequestUploadSlots(context.Background(), []string{"a.jpg"}, []string{"image/jpeg"})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	p.AssertNumberOfCalls(t, "Exists", 2)
}

func TestRequestUploadSlots_GivesUpAfterRepeatedCollisions(t *testing.T) {
	p := new(mockPresigner)
	p.On("Exists", mock.Anything, mock.Anything).Return(true, nil)

	c := NewCoordinator(p, nil, nil, nil, testConfig())
	_, err := c.RequestUploadSlots(context.Background(), []string{"a.jpg"}, []string{"image/jpeg"})
	assert.True(t, errors.Is(err, models.ErrExternalService))
	p.AssertNumberOfCalls(t, "Exists", keyAttempts)
	p.AssertNotCalled(t, "PresignPut", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestUploadSlots_Validation(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		types []string
	}{
		{"empty", nil, nil},
		{"length mismatch", []string{"a.jpg", "b.jpg"}, []string{"image/jpeg"}},
		{"too many", []string{"a", "b", "c", "d"}, []string{"image/jpeg", "image/jpeg", "image/jpeg", "image/jpeg"}},
		{"disallowed type", []string{"a.gif"}, []string{"image/gif"}},
		{"not an image", []string{"a.pdf"}, []string{"application/pdf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(mockPresigner)
			c := NewCoordinator(p, nil, nil, nil, testConfig())
			_, err := c.RequestUploadSlots(context.Background(), tt.names, tt.types)
			assert.True(t, errors.Is(err, models.ErrValidation), "got %v", err)
			p.AssertNotCalled(t, "PresignPut", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRequestUploadSlots_PresignFailure(t *testing.T) {
	p := new(mockPresigner)
	p.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	p.On("PresignPut", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", fmt.Errorf("minio down"))

	c := NewCoordinator(p, nil, nil, nil, testConfig())
	_, err := c.RequestUploadSlots(context.Background(), []string{"a.jpg"}, []string{"image/jpeg"})
	assert.True(t, errors.Is(err, models.ErrExternalService))
}

func TestRegisterPhotoLinks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	f := &models.Folder{OwnerID: "o", Name: "n"}
	require.NoError(t, store.CreateFolder(ctx, f))

	ing := &fakeIngester{store: store}
	pub := &recordingPublisher{}
	c := NewCoordinator(new(mockPresigner), store, ing, pub, testConfig())

	keys := []string{"uploads/" + uuid.NewString() + "-a.jpg", "uploads/" + uuid.NewString() + "-b.jpg"}
	folder, err := c.RegisterPhotoLinks(ctx, f.ID, keys)
	require.NoError(t, err)
	assert.Equal(t, 2, folder.PhotoCount())

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.EventPhotosRegistered, pub.events[0].Type)
	assert.Equal(t, 2, pub.events[0].PhotoCount)
}

func TestRegisterPhotoLinks_Errors(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	f := &models.Folder{OwnerID: "o", Name: "n"}
	require.NoError(t, store.CreateFolder(ctx, f))
	good := "uploads/" + uuid.NewString() + "-a.jpg"

	tests := []struct {
		name     string
		folderID uuid.UUID
		keys     []string
		ingErr   error
		want     error
	}{
		{"empty list", f.ID, nil, nil, models.ErrValidation},
		{"wrong prefix", f.ID, []string{"other/x.jpg"}, nil, models.ErrValidation},
		{"traversal", f.ID, []string{"uploads/..secret"}, nil, models.ErrValidation},
		{"nested path", f.ID, []string{"uploads/a/b.jpg"}, nil, models.ErrValidation},
		{"unknown folder", uuid.New(), []string{good}, nil, models.ErrNotFound},
		{"pipeline failure", f.ID, []string{good}, fmt.Errorf("x: %w", models.ErrExternalService), models.ErrExternalService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &fakeIngester{store: store, err: tt.ingErr}
			pub := &recordingPublisher{}
			c := NewCoordinator(new(mockPresigner), store, ing, pub, testConfig())

			folder, err := c.RegisterPhotoLinks(ctx, tt.folderID, tt.keys)
			assert.Nil(t, folder)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Empty(t, pub.events)
		})
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"IMG_0001.JPG":             "IMG_0001.JPG",
		"my photo (1).jpg":         "my_photo_1_.jpg",
		`C:\Users\me\selfie.png`:   "selfie.png",
		"../../etc/passwd":         "passwd",
		"":                         "photo",
		"..":                       "photo",
		"ünïcødé.webp":             "n_c_d_.webp",
		strings.Repeat("a", 150) + ".jpg": strings.Repeat("a", 96) + ".jpg",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFileName(in), "input %q", in)
	}
}
