// Package blob stores uploaded binaries either in a MinIO bucket or in a
// local directory.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
	// ErrUnsupportedType rejects uploads whose extension is not allowed.
	ErrUnsupportedType = errors.New("unsupported file type")
)

type Object struct {
	Key         string
	Size        int64
	ContentType string
}

type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, Object, error)
	Ping(ctx context.Context) error
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".json": "application/json",
	".css":  "text/css; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".mdx":  "text/markdown; charset=utf-8",
}

// rasterImages are the only post image types accepted. SVG is excluded
// because browsers run scripts embedded in it.
var rasterImages = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// IsRasterImage reports whether name has an accepted image extension.
func IsRasterImage(name string) bool {
	return rasterImages[strings.ToLower(path.Ext(name))]
}

// Inline reports whether a stored object may be shown in the browser
// rather than downloaded.
func Inline(contentType string) bool {
	switch strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]) {
	case "image/jpeg", "image/png", "image/gif", "image/webp", "image/x-icon", "application/pdf", "text/plain":
		return true
	}
	return false
}

// ContentType maps a file name to its content type by extension, defaulting
// to application/octet-stream.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// CleanKey normalizes a slash separated key and rejects anything that would
// escape the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	cleaned := strings.Trim(path.Clean("/"+key), "/")
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	return cleaned, nil
}
