package models

import (
	"time"

	"github.com/google/uuid"
)

// Folder is a photographer's event folder. OwnerID refers to the owning user;
// users enumerate their folders by querying on it.
type Folder struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Name      string    `json:"name" db:"name"`
	Client    string    `json:"client" db:"client"`
	Purpose   string    `json:"purpose" db:"purpose"`
	WebLink   string    `json:"web_link" db:"web_link"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	Photos    []Photo   `json:"photos"`
}

// PhotoCount returns the number of photos registered in the folder.
func (f *Folder) PhotoCount() int {
	return len(f.Photos)
}

// FolderUpdate carries the optional fields of a folder edit.
// Nil fields are left unchanged.
type FolderUpdate struct {
	Name    *string
	Client  *string
	Purpose *string
	WebLink *string
}
