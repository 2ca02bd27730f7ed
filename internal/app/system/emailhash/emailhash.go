// Package emailhash derives the privacy-preserving identifier used to key
// cross-tenant records in the shared partition.
//
// The hash is keyed BLAKE2b-256 over the normalized (trimmed, lower-cased)
// address. Without the key the digests cannot be reversed by dictionary.
package emailhash

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Key length bounds accepted by keyed BLAKE2b.
const (
	MinKeyLen = 16
	MaxKeyLen = blake2b.Size
)

// Hasher computes email hashes with a fixed key. Safe for concurrent use.
type Hasher struct {
	key []byte
}

// New returns a Hasher for key. The key must be between MinKeyLen and
// MaxKeyLen bytes.
func New(key []byte) (*Hasher, error) {
	if len(key) < MinKeyLen || len(key) > MaxKeyLen {
		return nil, fmt.Errorf("email hash key must be %d-%d bytes, got %d", MinKeyLen, MaxKeyLen, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Hasher{key: k}, nil
}

// MustNew is like New but panics on an invalid key.
func MustNew(key []byte) *Hasher {
	h, err := New(key)
	if err != nil {
		panic(err)
	}
	return h
}

// Normalize trims surrounding whitespace and lower-cases the address.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Hash returns the hex digest of the normalized email. Equal addresses
// modulo case and surrounding whitespace produce equal digests.
func (h *Hasher) Hash(email string) string {
	// blake2b.New256 only fails for keys longer than 64 bytes, which New rejects.
	d, _ := blake2b.New256(h.key)
	d.Write([]byte(Normalize(email)))
	return hex.EncodeToString(d.Sum(nil))
}

// HashUsername hashes a username for the discovery index. The input is
// domain-separated from email addresses so a username can never collide with
// an email digest.
func (h *Hasher) HashUsername(username string) string {
	return h.Hash("username:" + username)
}
