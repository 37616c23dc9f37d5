// Package digest provides the pluggable one-way hash functions used to chain
// log entries together. Every function maps an arbitrary byte sequence to a
// fixed-length lowercase hexadecimal string.
package digest

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Func computes the hex digest of data.
type Func func(data []byte) string

// ErrUnsupportedAlgorithm is returned when an unknown algorithm name is requested.
var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

// Algorithm names accepted by New.
const (
	SHA256   = "SHA256"
	SHA512   = "SHA512"
	SHA3_256 = "SHA3-256"
	SHA3_512 = "SHA3-512"
	BLAKE3   = "BLAKE3"
)

// DefaultAlgorithm is used when no algorithm is configured.
const DefaultAlgorithm = SHA256

var registry = map[string]func() Func{
	SHA256: func() Func {
		return func(data []byte) string {
			sum := sha256.Sum256(data)
			return hex.EncodeToString(sum[:])
		}
	},
	SHA512: func() Func {
		return func(data []byte) string {
			sum := sha512.Sum512(data)
			return hex.EncodeToString(sum[:])
		}
	},
	SHA3_256: func() Func {
		return func(data []byte) string {
			sum := sha3.Sum256(data)
			return hex.EncodeToString(sum[:])
		}
	},
	SHA3_512: func() Func {
		return func(data []byte) string {
			sum := sha3.Sum512(data)
			return hex.EncodeToString(sum[:])
		}
	},
	BLAKE3: func() Func {
		return func(data []byte) string {
			sum := blake3.Sum256(data)
			return hex.EncodeToString(sum[:])
		}
	},
}

// aliases maps alternative spellings onto registry keys.
var aliases = map[string]string{
	"SHA-256":    SHA256,
	"SHA-512":    SHA512,
	"SHA3256":    SHA3_256,
	"SHA3512":    SHA3_512,
	"SHA3_256":   SHA3_256,
	"SHA3_512":   SHA3_512,
	"BLAKE3-256": BLAKE3,
}

// Normalize returns the canonical registry name for name, or
// ErrUnsupportedAlgorithm if it is not known.
func Normalize(name string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if key == "" {
		return DefaultAlgorithm, nil
	}
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	if _, ok := registry[key]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
	return key, nil
}

// New returns the digest function registered under name. An empty name
// selects DefaultAlgorithm. Unknown names fail here, never at hashing time.
func New(name string) (Func, error) {
	key, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	return registry[key](), nil
}

// Default returns the SHA-256 digest function.
func Default() Func {
	return registry[DefaultAlgorithm]()
}

// HexLen returns the length in hex characters of every digest produced by f.
func HexLen(f Func) int {
	return len(f(nil))
}

// Algorithms returns the registered algorithm names in sorted order.
func Algorithms() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsHex reports whether s is a non-empty string of hex digits.
func IsHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
