package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/internal/upload"
	"github.com/your-org/snapmatch/pkg/dto"
)

// Coordinator issues upload slots and registers uploaded photos.
type Coordinator interface {
	RequestUploadSlots(ctx context.Context, fileNames, fileTypes []string) ([]upload.Slot, error)
	RegisterPhotoLinks(ctx context.Context, folderID uuid.UUID, storageKeys []string) (*models.Folder, error)
}

type UploadHandler struct {
	coord           Coordinator
	registerTimeout time.Duration
}

// NewUploadHandler returns upload handlers. A positive registerTimeout caps
// how long one registration batch may run.
func NewUploadHandler(coord Coordinator, registerTimeout time.Duration) *UploadHandler {
	return &UploadHandler{coord: coord, registerTimeout: registerTimeout}
}

func (h *UploadHandler) Slots(c *gin.Context) {
	var req dto.UploadSlotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	slots, err := h.coord.RequestUploadSlots(c.Request.Context(), req.FileNames, req.FileTypes)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.UploadSlotsResponse{PresignedURLs: make([]dto.UploadSlot, 0, len(slots))}
	for _, s := range slots {
		resp.PresignedURLs = append(resp.PresignedURLs, dto.UploadSlot{
			UploadURL:   s.UploadURL,
			StorageKey:  s.StorageKey,
			ContentType: s.ContentType,
			ExpiresAt:   s.ExpiresAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// Register links uploaded objects to a folder and ingests their faces.
func (h *UploadHandler) Register(c *gin.Context) {
	id, ok := folderID(c)
	if !ok {
		return
	}

	var req dto.RegisterPhotosRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	if h.registerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.registerTimeout)
		defer cancel()
	}

	f, err := h.coord.RegisterPhotoLinks(ctx, id, req.StorageKeys)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFolderResponse(f, true))
}
