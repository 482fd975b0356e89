// Package store defines the persistence contract used for saved
// definitions and the durable tier of the timeseries cache, with SQLite,
// JSON-file, in-memory and Redis implementations, plus a Parquet archive
// for historical series.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDecode is returned by GetJSON when a stored value cannot be decoded.
	ErrDecode = errors.New("undecodable value")
)

// KV is a string-keyed byte store.
type KV interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys starting with prefix, in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// GetJSON reads key and decodes it into a T. ok is false when the key is
// absent.
func GetJSON[T any](ctx context.Context, kv KV, key string) (v T, ok bool, err error) {
	data, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("decoding %s: %w: %w", key, ErrDecode, err)
	}
	return v, true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return kv.Set(ctx, key, data)
}
