package files

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrInvalidPayload = errors.New("malformed base64 payload")

// DecodePayload decodes inbound file content. Clients may prefix the
// base64 with a data-URL header ("<mime>;base64,<payload>"), which is
// stripped before decoding.
func DecodePayload(data string) ([]byte, error) {
	if idx := strings.Index(data, ";base64,"); idx >= 0 {
		data = data[idx+len(";base64,"):]
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	return decoded, nil
}

// Category buckets a filename by extension into the coarse MIME
// categories the UI renders. Unrecognized extensions fall back to
// "file".
func Category(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case "jpg", "jpeg", "png", "gif", "webp":
		return "image"
	case "mp4", "avi", "mov", "wmv":
		return "video"
	case "mp3", "wav", "ogg", "flac":
		return "audio"
	case "pdf":
		return "pdf"
	case "doc", "docx":
		return "word"
	case "xls", "xlsx":
		return "excel"
	case "zip", "rar", "7z":
		return "archive"
	case "txt":
		return "text"
	default:
		return "file"
	}
}

// FormatSize renders a byte count for display ("1.5MB").
func FormatSize(size int64) string {
	if size == 0 {
		return "0B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	value := float64(size)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d%s", size, units[0])
	}
	return fmt.Sprintf("%.1f%s", value, units[i])
}
