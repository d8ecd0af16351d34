package dto

import "github.com/google/uuid"

type MatchedPhoto struct {
	StorageKey string `json:"storageKey"`
	URL        string `json:"url"`
}

type MatchResponse struct {
	MatchedKeys []string       `json:"matchedKeys"`
	Photos      []MatchedPhoto `json:"photos"`
}

type SessionResponse struct {
	ID          uuid.UUID      `json:"id"`
	FolderID    uuid.UUID      `json:"folder_id"`
	State       string         `json:"state"`
	Message     string         `json:"message,omitempty"`
	MatchedKeys []string       `json:"matchedKeys,omitempty"`
	Photos      []MatchedPhoto `json:"photos,omitempty"`
	UpdatedAt   string         `json:"updated_at"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// FolderEventMessage is pushed to WebSocket subscribers.
type FolderEventMessage struct {
	Type        string    `json:"type"`
	FolderID    uuid.UUID `json:"folder_id"`
	StorageKeys []string  `json:"storage_keys,omitempty"`
	PhotoCount  int       `json:"photo_count"`
	Timestamp   string    `json:"timestamp"`
}
