package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/snapmatch/internal/models"
)

type CreateFolderRequest struct {
	OwnerID string `json:"owner_id" binding:"required"`
	Name    string `json:"name" binding:"required"`
	Client  string `json:"client"`
	Purpose string `json:"purpose"`
	WebLink string `json:"web_link"`
}

type UpdateFolderRequest struct {
	Name    *string `json:"name"`
	Client  *string `json:"client"`
	Purpose *string `json:"purpose"`
	WebLink *string `json:"web_link"`
}

type PhotoResponse struct {
	StorageKey string `json:"storage_key"`
	CreatedAt  string `json:"created_at"`
}

type FolderResponse struct {
	ID         uuid.UUID       `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Name       string          `json:"name"`
	Client     string          `json:"client"`
	Purpose    string          `json:"purpose"`
	WebLink    string          `json:"web_link"`
	PhotoCount int             `json:"photo_count"`
	Photos     []PhotoResponse `json:"photos,omitempty"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

type FolderListResponse struct {
	Folders []FolderResponse `json:"folders"`
	Total   int              `json:"total"`
}

// NewFolderResponse converts a folder. Photos are listed only when
// withPhotos is set.
func NewFolderResponse(f *models.Folder, withPhotos bool) FolderResponse {
	resp := FolderResponse{
		ID:         f.ID,
		OwnerID:    f.OwnerID,
		Name:       f.Name,
		Client:     f.Client,
		Purpose:    f.Purpose,
		WebLink:    f.WebLink,
		PhotoCount: f.PhotoCount(),
		CreatedAt:  f.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  f.UpdatedAt.Format(time.RFC3339),
	}
	if withPhotos {
		resp.Photos = make([]PhotoResponse, 0, len(f.Photos))
		for _, p := range f.Photos {
			resp.Photos = append(resp.Photos, PhotoResponse{
				StorageKey: p.StorageKey,
				CreatedAt:  p.CreatedAt.Format(time.RFC3339),
			})
		}
	}
	return resp
}
