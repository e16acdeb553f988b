// Package ingest validates and encodes reference documents before they join a
// session's file set.
package ingest

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/RichardoC/labassist/internal/models"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// LargeFileThreshold is the size above which ingestion asks for confirmation.
const LargeFileThreshold = 50 * 1024 * 1024

var (
	ErrEmptyFile       = errors.New("ingest: file is empty")
	ErrUnsupportedType = errors.New("ingest: unsupported file type")
	ErrReadFailure     = errors.New("ingest: failed to read file")
	// ErrDeclined means the user turned down a large file. Callers drop it silently.
	ErrDeclined = errors.New("ingest: large file declined")
)

// Descriptor is a candidate file as handed over by a picker.
type Descriptor struct {
	Name     string
	MimeType string
	Size     int64
	Content  io.Reader
}

// Confirmer is asked before a file above LargeFileThreshold is read.
type Confirmer func(name string, size int64) bool

var mimeCategories = map[string]models.Category{
	"text/plain":      models.CategoryProtocol,
	"application/pdf": models.CategoryManual,
	"video/mp4":       models.CategoryVideo,
}

var extCategories = map[string]models.Category{
	".txt": models.CategoryProtocol,
	".pdf": models.CategoryManual,
	".mp4": models.CategoryVideo,
}

// categoryMimeTypes gives the canonical type sent upstream when a file was
// classified by extension only.
var categoryMimeTypes = map[models.Category]string{
	models.CategoryProtocol: "text/plain",
	models.CategoryManual:   "application/pdf",
	models.CategoryVideo:    "video/mp4",
}

// Classify maps a declared MIME type to a category. The file extension is only
// consulted when the type is missing or generic; a declared type outside the
// allow-list is rejected whatever the name says.
func Classify(mimeType, name string) (models.Category, bool) {
	mediaType := baseMediaType(mimeType)
	if mediaType != "" && mediaType != "application/octet-stream" {
		c, ok := mimeCategories[mediaType]
		return c, ok
	}
	c, ok := extCategories[strings.ToLower(filepath.Ext(name))]
	return c, ok
}

func baseMediaType(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(mimeType)
	}
	return mediaType
}

// Ingest runs the acceptance checks on d and returns the encoded record. The
// caller owns appending it to the file set.
func Ingest(d Descriptor, confirm Confirmer) (models.UploadedFile, error) {
	if d.Size == 0 {
		return models.UploadedFile{}, ErrEmptyFile
	}

	category, ok := Classify(d.MimeType, d.Name)
	if !ok {
		return models.UploadedFile{}, fmt.Errorf("%w: %q (%s)", ErrUnsupportedType, d.Name, d.MimeType)
	}

	if d.Size > LargeFileThreshold {
		if confirm == nil || !confirm(d.Name, d.Size) {
			return models.UploadedFile{}, ErrDeclined
		}
	}

	if d.Content == nil {
		return models.UploadedFile{}, fmt.Errorf("%w: %s: no content", ErrReadFailure, d.Name)
	}
	data, err := io.ReadAll(d.Content)
	if err != nil {
		return models.UploadedFile{}, fmt.Errorf("%w: %s: %w", ErrReadFailure, d.Name, err)
	}

	mimeType := baseMediaType(d.MimeType)
	if _, known := mimeCategories[mimeType]; !known {
		mimeType = categoryMimeTypes[category]
	}

	return models.UploadedFile{
		ID:       uuid.NewString(),
		Name:     d.Name,
		Category: category,
		MimeType: mimeType,
		Payload:  base64.StdEncoding.EncodeToString(data),
	}, nil
}

// DeclaredType returns the type a file picker would declare for path: the
// canonical type of a recognised extension, otherwise the sniffed content type.
func DeclaredType(path string) (string, error) {
	if c, ok := extCategories[strings.ToLower(filepath.Ext(path))]; ok {
		return categoryMimeTypes[c], nil
	}
	return DetectMimeType(path)
}

// DetectMimeType sniffs the content type of a file on disk.
func DetectMimeType(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect mime type of %s: %w", path, err)
	}
	return mt.String(), nil
}

// Notice is the blocking message shown for an ingestion failure.
func Notice(err error) string {
	switch {
	case errors.Is(err, ErrEmptyFile):
		return "Error: The selected file is empty (0 bytes). Please upload a valid file."
	case errors.Is(err, ErrUnsupportedType):
		return "Please upload only PDF documents, Text files (.txt), or MP4 videos."
	case errors.Is(err, ErrDeclined):
		return "This file is large (>50MB). It may take a while to process. Confirm to continue."
	default:
		return "Failed to read file."
	}
}
