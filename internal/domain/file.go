package domain

import "time"

// FileStatus classifies an uploaded file record
type FileStatus string

const (
	FileStatusActive      FileStatus = "active"
	FileStatusTemp        FileStatus = "temp"
	FileStatusQuarantined FileStatus = "quarantined"
)

// FileRecord is the metadata row the upload layer keeps for each stored file
type FileRecord struct {
	ID        string     `json:"id"`
	Path      string     `json:"path"`
	Checksum  string     `json:"checksum"`
	SizeBytes int64      `json:"size_bytes"`
	Status    FileStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Session is a login session owned by the identity layer
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
