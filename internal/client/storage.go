// Package client implements the blob stores for project archives, rendered
// stems and stem exports.
package client

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by Download when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// StorageClient defines the interface for object storage operations
type StorageClient interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	GetPublicURL(key string) string
}

// exportPrefix holds zipped stem bundles, which are served as downloads.
const exportPrefix = "exports/"

// contentDisposition returns the attachment header for download keys and ""
// for everything else.
func contentDisposition(key string) string {
	if !strings.HasPrefix(key, exportPrefix) {
		return ""
	}
	return `attachment; filename="` + path.Base(key) + `"`
}
