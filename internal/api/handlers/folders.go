package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/pkg/dto"
)

// FolderStore is the folder metadata surface of storage.Store.
type FolderStore interface {
	CreateFolder(ctx context.Context, f *models.Folder) error
	GetFolder(ctx context.Context, id uuid.UUID) (*models.Folder, error)
	ListFolders(ctx context.Context, ownerID string) ([]models.Folder, error)
	UpdateFolder(ctx context.Context, id uuid.UUID, upd models.FolderUpdate) (*models.Folder, error)
}

// FolderDeleter removes folders and photos along with their objects.
type FolderDeleter interface {
	DeletePhoto(ctx context.Context, folderID uuid.UUID, key string) (*models.Folder, error)
	DeleteFolder(ctx context.Context, folderID uuid.UUID) error
}

type FolderHandler struct {
	store   FolderStore
	deleter FolderDeleter
}

func NewFolderHandler(store FolderStore, deleter FolderDeleter) *FolderHandler {
	return &FolderHandler{store: store, deleter: deleter}
}

func (h *FolderHandler) Create(c *gin.Context) {
	var req dto.CreateFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		badRequest(c, "name must not be blank")
		return
	}

	f := &models.Folder{
		OwnerID: req.OwnerID,
		Name:    strings.TrimSpace(req.Name),
		Client:  req.Client,
		Purpose: req.Purpose,
		WebLink: req.WebLink,
	}
	if err := h.store.CreateFolder(c.Request.Context(), f); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewFolderResponse(f, false))
}

func (h *FolderHandler) List(c *gin.Context) {
	owner := c.Query("owner_id")
	if owner == "" {
		badRequest(c, "owner_id is required")
		return
	}

	folders, err := h.store.ListFolders(c.Request.Context(), owner)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.FolderResponse, 0, len(folders))
	for i := range folders {
		resp = append(resp, dto.NewFolderResponse(&folders[i], false))
	}
	c.JSON(http.StatusOK, dto.FolderListResponse{Folders: resp, Total: len(resp)})
}

func (h *FolderHandler) Get(c *gin.Context) {
	id, ok := folderID(c)
	if !ok {
		return
	}

	f, err := h.store.GetFolder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFolderResponse(f, true))
}

func (h *FolderHandler) Update(c *gin.Context) {
	id, ok := folderID(c)
	if !ok {
		return
	}

	var req dto.UpdateFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		badRequest(c, "name must not be blank")
		return
	}

	f, err := h.store.UpdateFolder(c.Request.Context(), id, models.FolderUpdate{
		Name:    req.Name,
		Client:  req.Client,
		Purpose: req.Purpose,
		WebLink: req.WebLink,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFolderResponse(f, false))
}

func (h *FolderHandler) Delete(c *gin.Context) {
	id, ok := folderID(c)
	if !ok {
		return
	}

	if err := h.deleter.DeleteFolder(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeletePhoto removes one photo link from the folder.
func (h *FolderHandler) DeletePhoto(c *gin.Context) {
	id, ok := folderID(c)
	if !ok {
		return
	}

	var req dto.DeletePhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	f, err := h.deleter.DeletePhoto(c.Request.Context(), id, req.StorageKey)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFolderResponse(f, true))
}

func folderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid folder id %q", c.Param("id")))
		return uuid.Nil, false
	}
	return id, true
}
