package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	DisplayName  string
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

// DocumentModel carries a composite unique index on (owner_id, name): a
// given owner holds at most one live document per display name.
type DocumentModel struct {
	ID        string         `gorm:"primaryKey"`
	Name      string         `gorm:"not null;uniqueIndex:idx_owner_name"`
	OwnerID   string         `gorm:"not null;index;uniqueIndex:idx_owner_name"`
	Status    string         `gorm:"not null"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

// documentMetadata is the shape stored in DocumentModel.Metadata.
type documentMetadata struct {
	SizeBytes   int64  `json:"sizeBytes"`
	ContentType string `json:"contentType,omitempty"`
}
