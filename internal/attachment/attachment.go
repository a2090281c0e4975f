package attachment

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
)

// MaxSize is the largest attachment accepted for upload.
const MaxSize int64 = 10 * 1024 * 1024

var (
	ErrTooLarge = errors.New("attachment too large")
	ErrEmpty    = errors.New("attachment is empty")
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

// Classify maps a filename to the message type used to render it.
func Classify(filename string) models.MessageType {
	ext := Extension(filename)
	if _, ok := imageExtensions[ext]; ok {
		return models.MessageTypeImage
	}
	if ext == ".pdf" {
		return models.MessageTypePrescription
	}
	return models.MessageTypeFile
}

// ClassifyURL classifies an already uploaded attachment by the extension of
// its URL path, ignoring any query string.
func ClassifyURL(rawURL string) models.MessageType {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Classify(rawURL)
	}
	return Classify(path.Base(parsed.Path))
}

func Extension(filename string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
}

// Validate enforces the size limit before any upload is attempted. A limit
// of zero or less falls back to MaxSize.
func Validate(size int64, limit int64) error {
	if limit <= 0 {
		limit = MaxSize
	}
	if size <= 0 {
		return ErrEmpty
	}
	if size > limit {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, limit)
	}
	return nil
}

func ContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
