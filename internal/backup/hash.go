package backup

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Hasher produces the content digest used as the sole dedup key. The
// repository compares only digests; timestamps and metadata never factor
// into the unchanged check.
type Hasher interface {
	Sum(data []byte) string
}

// Blake3Hasher digests content with BLAKE3-256 and renders it as hex.
type Blake3Hasher struct{}

func (Blake3Hasher) Sum(data []byte) string {
	digest := blake3.Sum256(data)
	return hex.EncodeToString(digest[:])
}
