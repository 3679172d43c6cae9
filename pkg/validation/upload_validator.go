package validation

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
)

// UploadValidator checks uploaded image files before they are stored
type UploadValidator struct {
	allowedExtensions []string
	maxBytes          int64
}

// NewUploadValidator accepts extensions with or without a leading dot.
// maxBytes <= 0 disables the size check.
func NewUploadValidator(allowedExtensions []string, maxBytes int64) *UploadValidator {
	exts := make([]string, 0, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			exts = append(exts, ext)
		}
	}
	return &UploadValidator{allowedExtensions: exts, maxBytes: maxBytes}
}

// ValidateFilename requires a name whose extension is allowed
func (v *UploadValidator) ValidateFilename(filename string) error {
	if strings.TrimSpace(filename) == "" {
		return apperrors.NewValidationError("No selected file", nil)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !v.isExtensionAllowed(ext) {
		return apperrors.NewValidationError(
			fmt.Sprintf("File type not allowed (allowed: %s)", strings.Join(v.allowedExtensions, ", ")), nil)
	}
	return nil
}

// ValidateContent sniffs the bytes and returns their MIME type, which must
// be an image.
func (v *UploadValidator) ValidateContent(data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperrors.NewValidationError("Empty file", nil)
	}
	if v.maxBytes > 0 && int64(len(data)) > v.maxBytes {
		return "", apperrors.NewValidationError(fmt.Sprintf("File exceeds %d bytes", v.maxBytes), nil)
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", apperrors.NewValidationError(fmt.Sprintf("File is not an image (detected %s)", mtype.String()), nil)
	}
	return mtype.String(), nil
}

func (v *UploadValidator) isExtensionAllowed(ext string) bool {
	for _, allowed := range v.allowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
