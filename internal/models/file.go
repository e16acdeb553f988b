package models

// Category ranks an uploaded document. Protocol text outranks manuals.
type Category string

const (
	CategoryProtocol Category = "protocol-text"
	CategoryManual   Category = "manual-pdf"
	CategoryVideo    Category = "training-video"
)

type UploadedFile struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category Category `json:"category"`
	MimeType string   `json:"mime_type"`
	Payload  string   `json:"-"` // base64 of the full content
}
