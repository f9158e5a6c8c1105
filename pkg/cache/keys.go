package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// maxKeyLen bounds the plaintext portion of a cache key. Longer keys are
// folded to a fixed-width hash so large filter objects do not bloat the map.
const maxKeyLen = 256

// Key builds a cache key from a logical operation tag and a parameter shape,
// using the canonical serialization so equivalent shapes share a key. Returns
// "" when the shape cannot be serialized; ResultCache treats "" as a bypass.
func Key(op string, params any) string {
	canon, err := Canonicalize(params)
	if err != nil {
		return ""
	}
	if len(op)+1+len(canon) > maxKeyLen {
		return op + ":" + strconv.FormatUint(xxhash.Sum64String(canon), 16)
	}
	return op + ":" + canon
}

// DeriveKey returns the lowercase hex SHA-256 digest of the canonical form
// of shape. Identical shapes always produce the same digest; any content
// difference produces a different one with overwhelming probability. Returns
// "" when the shape cannot be serialized, in which case callers proceed
// without a key and downstream caches simply miss.
//
// Used to tag outbound LLM requests so a cache in front of the provider can
// deduplicate identical prompts; the digest is never consulted locally.
func DeriveKey(shape any) string {
	canon, err := Canonicalize(shape)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])
}
