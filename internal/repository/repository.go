// Package repository defines the durable storage medium behind cart snapshots.
package repository

import "context"

// Storage is a key-value medium for serialized cart snapshots.
type Storage interface {
	// Read returns the bytes stored under key. A missing key yields an error
	// wrapping apperrors.ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores data under key, replacing any previous value.
	Write(ctx context.Context, key string, data []byte) error

	// Ping reports whether the medium is reachable.
	Ping(ctx context.Context) error
}
