package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// urlHash mirrors dedup.URLHash without importing internal/dedup: the
// state store only needs a stable identifier for url_hash/UNIQUE columns,
// not the dedup package's Bloom/LSH machinery.
func urlHash(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}
