// Package license implements license issuance and the device activation ledger.
package license

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	// KeyPrefix is the leading product marker of every license key.
	KeyPrefix = "WAB"

	// keyAlphabet omits 0, O, 1, I and L so keys survive being read aloud.
	keyAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

	keyGroups    = 4
	keyGroupSize = 5
	keyBodyLen   = keyGroups * keyGroupSize
)

// Key is a freshly generated license key. Plain is shown to the caller once
// and never persisted.
type Key struct {
	Plain string
	Hash  string
}

// GenerateKey returns a new random key in the form WAB-XXXXX-XXXXX-XXXXX-XXXXX
// together with its hash. The final character is a check character.
func GenerateKey() (Key, error) {
	body := make([]byte, keyBodyLen)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := 0; i < keyBodyLen-1; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return Key{}, fmt.Errorf("generate key: %w", err)
		}
		body[i] = keyAlphabet[n.Int64()]
	}
	body[keyBodyLen-1] = checkChar(body[:keyBodyLen-1])

	plain := FormatKey(KeyPrefix + string(body))
	return Key{Plain: plain, Hash: HashKey(plain)}, nil
}

// NormalizeKey strips separators and whitespace and uppercases the key.
func NormalizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// HashKey returns the hex SHA-256 digest of the normalized key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(NormalizeKey(key)))
	return hex.EncodeToString(sum[:])
}

// FormatKey renders a key in its canonical hyphenated form. Input that does
// not have the expected length is returned normalized but ungrouped.
func FormatKey(key string) string {
	n := NormalizeKey(key)
	if len(n) != len(KeyPrefix)+keyBodyLen || !strings.HasPrefix(n, KeyPrefix) {
		return n
	}
	parts := []string{KeyPrefix}
	body := n[len(KeyPrefix):]
	for i := 0; i < keyGroups; i++ {
		parts = append(parts, body[i*keyGroupSize:(i+1)*keyGroupSize])
	}
	return strings.Join(parts, "-")
}

// ValidateKeyFormat reports whether key is a well-formed license key,
// including its check character. It does not consult storage.
func ValidateKeyFormat(key string) bool {
	n := NormalizeKey(key)
	if len(n) != len(KeyPrefix)+keyBodyLen || !strings.HasPrefix(n, KeyPrefix) {
		return false
	}
	body := n[len(KeyPrefix):]
	for i := 0; i < len(body); i++ {
		if strings.IndexByte(keyAlphabet, body[i]) < 0 {
			return false
		}
	}
	return body[keyBodyLen-1] == checkChar([]byte(body[:keyBodyLen-1]))
}

// LooksLikeKeyHash reports whether s has the shape of a stored key hash.
func LooksLikeKeyHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// checkChar computes a position-weighted checksum over the body characters.
func checkChar(body []byte) byte {
	sum := 0
	for i, c := range body {
		sum += (i + 1) * strings.IndexByte(keyAlphabet, c)
	}
	return keyAlphabet[sum%len(keyAlphabet)]
}
