package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/internal/upload"
	"github.com/your-org/snapmatch/pkg/dto"
)

type registerFunc func(ctx context.Context, folderID uuid.UUID, keys []string) (*models.Folder, error)

func (f registerFunc) RequestUploadSlots(context.Context, []string, []string) ([]upload.Slot, error) {
	return nil, nil
}

func (f registerFunc) RegisterPhotoLinks(ctx context.Context, folderID uuid.UUID, keys []string) (*models.Folder, error) {
	return f(ctx, folderID, keys)
}

func register(t *testing.T, coord Coordinator, timeout time.Duration) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/folders/:id/photos", NewUploadHandler(coord, timeout).Register)

	body := `{"storageKeys":["uploads/a.jpg"]}`
	req := httptest.NewRequest(http.MethodPost, "/folders/"+uuid.NewString()+"/photos", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegister_TimesOutWithSingleError(t *testing.T) {
	var deadline time.Time
	slow := registerFunc(func(ctx context.Context, _ uuid.UUID, _ []string) (*models.Folder, error) {
		deadline, _ = ctx.Deadline()
		<-ctx.Done()
		return nil, fmt.Errorf("ingest batch: %w", ctx.Err())
	})

	start := time.Now()
	w := register(t, slow, 20*time.Millisecond)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.WithinDuration(t, start.Add(20*time.Millisecond), deadline, time.Second)

	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "timeout", resp.Code)
}

func TestRegister_NoTimeoutLeavesContextOpen(t *testing.T) {
	folder := &models.Folder{ID: uuid.New(), OwnerID: "owner", Name: "party"}
	fast := registerFunc(func(ctx context.Context, _ uuid.UUID, keys []string) (*models.Folder, error) {
		_, ok := ctx.Deadline()
		assert.False(t, ok)
		assert.Equal(t, []string{"uploads/a.jpg"}, keys)
		return folder, nil
	})

	w := register(t, fast, 0)
	assert.Equal(t, http.StatusOK, w.Code)
}
