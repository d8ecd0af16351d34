package dto

type UploadSlotsRequest struct {
	FileNames []string `json:"fileNames" binding:"required"`
	FileTypes []string `json:"fileTypes" binding:"required"`
}

type UploadSlot struct {
	UploadURL   string `json:"uploadUrl"`
	StorageKey  string `json:"storageKey"`
	ContentType string `json:"contentType"`
	ExpiresAt   string `json:"expiresAt"`
}

type UploadSlotsResponse struct {
	PresignedURLs []UploadSlot `json:"presignedUrls"`
}

type RegisterPhotosRequest struct {
	StorageKeys []string `json:"storageKeys" binding:"required"`
}

type DeletePhotoRequest struct {
	StorageKey string `json:"storageKey" binding:"required"`
}
