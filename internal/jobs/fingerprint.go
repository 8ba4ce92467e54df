package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Fingerprint returns the lowercase hex sha256 of body.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func newDigest() hash.Hash {
	return sha256.New()
}

// digestHex matches Fingerprint for a digest fed incrementally.
func digestHex(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
