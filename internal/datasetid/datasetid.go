// Package datasetid derives dataset IDs. File and URL sources get a
// deterministic ID so reloading replaces the stored copy; uploads get a random one.
package datasetid

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	filePrefix   = "file:"
	urlPrefix    = "url:"
	uploadPrefix = "upload:"
)

// FromPath returns a stable ID for the given absolute path.
// Same path always yields the same ID.
func FromPath(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return filePrefix + hex.EncodeToString(hash[:])
}

// FromURL returns a stable ID for a remote source. The fragment is ignored.
func FromURL(rawURL string) string {
	normalized := strings.TrimSpace(rawURL)
	if u, err := url.Parse(normalized); err == nil {
		u.Fragment = ""
		u.RawFragment = ""
		normalized = u.String()
	}
	hash := sha256.Sum256([]byte(normalized))
	return urlPrefix + hex.EncodeToString(hash[:])
}

// New returns a random ID for sources without a stable identity.
func New() string {
	return uploadPrefix + uuid.New().String()
}

// IsFile reports whether id was derived from a file path.
func IsFile(id string) bool { return strings.HasPrefix(id, filePrefix) }
