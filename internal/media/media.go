// Package media holds the image payload passed between acquisition,
// hosting and publishing.
package media

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	MaxUploadFiles = 5
	MaxUploadBytes = 5 << 20
)

var (
	ErrTooManyFiles = fmt.Errorf("at most %d images are allowed", MaxUploadFiles)
	ErrFileTooLarge = fmt.Errorf("each image must be at most %d MiB", MaxUploadBytes>>20)
	ErrNotAnImage   = errors.New("only image files are allowed")
	ErrEmptyFile    = errors.New("image file is empty")
)

// File is an image either held in memory (Data) or addressable by URL.
type File struct {
	Name     string
	MimeType string
	URL      string
	Data     []byte
}

func (f File) HasData() bool {
	return len(f.Data) > 0
}

// Extension returns the extension for the declared type, sniffing the
// bytes when the type is missing or unknown. Includes the leading dot.
func (f File) Extension() string {
	switch f.MimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	}
	if len(f.Data) > 0 {
		if detected := mimetype.Detect(f.Data); strings.HasPrefix(detected.String(), "image/") {
			return detected.Extension()
		}
	}
	return ".jpg"
}

// Sniff fills MimeType from the content when the declared type is missing
// or generic.
func Sniff(f File) File {
	if len(f.Data) == 0 {
		return f
	}
	if f.MimeType == "" || f.MimeType == "application/octet-stream" {
		f.MimeType = mimetype.Detect(f.Data).String()
	}
	return f
}

// ValidateUploads enforces the public submission limits. The content type is
// taken from the bytes, not from what the client declared.
func ValidateUploads(files []File) ([]File, error) {
	if len(files) > MaxUploadFiles {
		return nil, ErrTooManyFiles
	}
	out := make([]File, 0, len(files))
	for _, f := range files {
		if len(f.Data) == 0 {
			return nil, ErrEmptyFile
		}
		if len(f.Data) > MaxUploadBytes {
			return nil, ErrFileTooLarge
		}
		detected := mimetype.Detect(f.Data)
		if !strings.HasPrefix(detected.String(), "image/") {
			return nil, ErrNotAnImage
		}
		f.MimeType = detected.String()
		out = append(out, f)
	}
	return out, nil
}
