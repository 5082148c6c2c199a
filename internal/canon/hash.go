package canon

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefix for journal entry hashes. The version suffix leaves room
// for an algorithm migration without colliding with old hashes.
const DomainJournal = "bulq/journal/v1"

// HashBytes computes SHA-256 with domain separation over already-canonical
// bytes. Format: SHA256(domain || 0x00 || data); the null byte prevents
// domain/data boundary ambiguity.
func HashBytes(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash canonicalizes v and hashes it under the given domain.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(domain, data), nil
}
