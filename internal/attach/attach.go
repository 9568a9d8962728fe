// Package attach validates chat attachments against the portal's
// constraints before a message is sent.
package attach

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
)

var (
	ErrTooManyFiles    = errors.New("too many attachments")
	ErrFileTooLarge    = errors.New("attachment exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported attachment type")
	ErrBadPayload      = errors.New("attachment payload is not raw base64")
)

// Limits bounds what a single message may carry.
type Limits struct {
	MaxFileBytes int64
	MaxFiles     int
}

// DefaultLimits returns the stock limits: 10 MiB per file, 5 files.
func DefaultLimits() Limits {
	return Limits{MaxFileBytes: 10 << 20, MaxFiles: 5}
}

// allowedTypes is the attachment allow-list: common image formats plus
// text-bearing documents.
var allowedTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
	"text/plain":      true,
	"text/csv":        true,
	"text/markdown":   true,
}

// extTypes pins the extensions the portal cares about; the system mime
// table is consulted for anything else.
var extTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".md":   "text/markdown",
}

// Allowed reports whether the content type is on the allow-list.
func Allowed(contentType string) bool {
	return allowedTypes[contentType]
}

// DetectType determines the content type from the filename extension,
// falling back to content sniffing.
func DetectType(filename string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := extTypes[ext]; ok {
		return ct
	}
	if ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return stripParams(ct)
		}
	}
	return stripParams(http.DetectContentType(data))
}

func stripParams(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// Build constructs a validated attachment from raw file contents.
func Build(filename string, data []byte) (domain.Attachment, error) {
	ct := DetectType(filename, data)
	if !Allowed(ct) {
		return domain.Attachment{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, filename, ct)
	}
	return domain.Attachment{
		Filename:    filepath.Base(filename),
		ContentType: ct,
		DataBase64:  base64.StdEncoding.EncodeToString(data),
		SizeBytes:   int64(len(data)),
	}, nil
}

// Validate checks a message's attachment set against the limits: count,
// per-file size, allow-listed type, and a well-formed raw base64 payload
// whose decoded size matches the declared one.
func Validate(limits Limits, atts []domain.Attachment) error {
	if len(atts) > limits.MaxFiles {
		return fmt.Errorf("%w: %d files, limit %d", ErrTooManyFiles, len(atts), limits.MaxFiles)
	}
	for _, a := range atts {
		if !Allowed(a.ContentType) {
			return fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, a.Filename, a.ContentType)
		}
		if a.SizeBytes > limits.MaxFileBytes {
			return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, a.Filename, a.SizeBytes, limits.MaxFileBytes)
		}
		if strings.HasPrefix(a.DataBase64, "data:") {
			return fmt.Errorf("%w: %s carries a data: URI prefix", ErrBadPayload, a.Filename)
		}
		decoded, err := base64.StdEncoding.DecodeString(a.DataBase64)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadPayload, a.Filename, err)
		}
		if int64(len(decoded)) != a.SizeBytes {
			return fmt.Errorf("%w: %s decodes to %d bytes, declared %d", ErrBadPayload, a.Filename, len(decoded), a.SizeBytes)
		}
	}
	return nil
}
