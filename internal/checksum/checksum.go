// Package checksum computes content digests for change detection and HTTP
// validators.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ETag derives a strong entity tag from a Sum digest and a snapshot
// generation. Templates may change output without the source changing, so
// the generation is part of the tag.
func ETag(sum string, generation uint64) string {
	if len(sum) > 16 {
		sum = sum[:16]
	}
	return strconv.Quote(sum + "-" + strconv.FormatUint(generation, 10))
}
