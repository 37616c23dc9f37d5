// Package idempotency lets clients retry POST /log without appending the same
// entry twice. A key is reserved while the first request runs, then completed
// with the response that later retries replay.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Status values for a stored key.
const (
	// StatusProcessing marks a key whose first request is still in flight.
	StatusProcessing = "processing"
	// StatusCompleted marks a key with a stored response to replay.
	StatusCompleted = "completed"
)

var (
	// ErrKeyNotFound is returned when an idempotency key is not found.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when reserving a key that is already held.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is empty.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// DefaultExpiry is how long a key is remembered.
const DefaultExpiry = 24 * time.Hour

// Key is a stored idempotency key.
type Key struct {
	Key                string    `json:"key"`
	Method             string    `json:"method"`
	Route              string    `json:"route"`
	RequestHash        string    `json:"request_hash"` // SHA-256 of the request body
	Status             string    `json:"status"`
	ResponseBody       string    `json:"response_body,omitempty"`
	ResponseStatusCode int       `json:"response_status_code,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// ValidateKey checks if an idempotency key is valid.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// HashPayload returns the hex SHA-256 of a request body. A retry must carry
// the same body as the request that reserved the key.
func HashPayload(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Repository stores idempotency keys.
type Repository interface {
	// Get returns the key or ErrKeyNotFound.
	Get(ctx context.Context, key string) (*Key, error)

	// Reserve stores rec if its key is free and returns ErrKeyExists otherwise.
	Reserve(ctx context.Context, rec *Key) error

	// Complete overwrites a reserved key with its final response.
	Complete(ctx context.Context, rec *Key) error

	// Release forgets a key so that the request can be retried.
	Release(ctx context.Context, key string) error

	// DeleteOlderThan removes keys created more than d ago.
	DeleteOlderThan(ctx context.Context, d time.Duration) (int64, error)
}
