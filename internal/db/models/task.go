package models

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// File is a deduplicated source upload, keyed by the SHA-256 of its content.
type File struct {
	Hash       string    `json:"file_hash"`
	Path       string    `json:"file_path"`
	Name       string    `json:"file_name"`
	Size       int64     `json:"file_size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Task is one video moving through detect, confirm and transform.
type Task struct {
	ID         string    `json:"task_id"`
	FileHash   string    `json:"file_hash"`
	FilePath   string    `json:"-"`
	FileName   string    `json:"file_name"`
	Status     Status    `json:"status"`
	Progress   float64   `json:"progress"`
	Message    string    `json:"message"`
	OutputPath string    `json:"output_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
