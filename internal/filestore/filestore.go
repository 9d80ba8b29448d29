package filestore

import (
	"encoding/hex"
	"io"

	"golang.org/x/crypto/blake2b"
)

// FileStore stores attachment bytes addressed by their content hash.
type FileStore interface {
	// Save saves the content under the given hash.
	// It is idempotent: if the hash already exists, it returns nil.
	Save(r io.Reader, hash string) error

	// Get opens the content stored under the given hash.
	Get(hash string) (io.ReadCloser, error)
}

// Hash returns the hex encoded BLAKE2b-256 digest used as a content address.
func Hash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
