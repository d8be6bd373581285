package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const mimePDF = "application/pdf"

// ErrUnsupportedType is returned for payloads that are neither a supported
// image format nor a readable PDF.
var ErrUnsupportedType = errors.New("unsupported document type")

var imageMimes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
	"image/gif":  {},
}

// ValidateUpload sniffs the payload and returns its normalized MIME type.
// PDFs are opened with github.com/ledongthuc/pdf before acceptance so a
// corrupt or encrypted file fails here instead of at analysis time.
func ValidateUpload(data []byte, fileName string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrUnsupportedType)
	}

	sniffLen := len(data)
	if sniffLen > 512 {
		sniffLen = 512
	}
	detected := normalizeMimeType(http.DetectContentType(data[:sniffLen]), fileName)

	if _, ok := imageMimes[detected]; ok {
		return detected, nil
	}
	if detected == mimePDF {
		if err := validatePDF(data); err != nil {
			return "", err
		}
		return mimePDF, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, detected)
}

func validatePDF(data []byte) (err error) {
	// The parser panics on some malformed files instead of returning an error.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: unreadable pdf: %v", ErrUnsupportedType, rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: unreadable pdf: %v", ErrUnsupportedType, err)
	}
	if reader.NumPage() < 1 {
		return fmt.Errorf("%w: pdf has no pages", ErrUnsupportedType)
	}
	return nil
}

func normalizeMimeType(detected string, fileName string) string {
	clean := strings.ToLower(strings.TrimSpace(strings.Split(detected, ";")[0]))
	if clean != "application/octet-stream" && clean != "text/plain" {
		return clean
	}

	// Sniffing is inconclusive; fall back to the extension.
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return mimePDF
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return clean
	}
}
