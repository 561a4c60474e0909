package dms

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// CodeHasher turns secret codes into the keyed digests that are stored and
// compared. The digest is deterministic so a partition can be looked up by
// it; the pepper keeps a leaked database from being brute-forced offline
// without the server's configuration.
type CodeHasher struct {
	key []byte
}

func NewCodeHasher(pepper string) *CodeHasher {
	return &CodeHasher{key: []byte(pepper)}
}

// Digest returns the hex HMAC-SHA256 of code.
func (h *CodeHasher) Digest(code string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}
