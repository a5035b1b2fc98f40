// Package codec converts dictionary keys and records to the string keys and
// byte payloads stored by internal/store.
//
// Key encodings preserve the equality of the Go key type: two keys encode to
// the same string exactly when they are the same logical key. String keys are
// NFC-normalized first, so canonically equivalent spellings are one key.
package codec

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// ErrEmptyKey is returned when encoding an empty string key.
var ErrEmptyKey = errors.New("codec: empty key")

// KeyCodec maps a dictionary key type to its stored string form.
type KeyCodec[K comparable] interface {
	EncodeKey(k K) (string, error)
	DecodeKey(s string) (K, error)
}

// StringKeys stores string keys NFC-normalized.
type StringKeys struct{}

func (StringKeys) EncodeKey(k string) (string, error) {
	if k == "" {
		return "", ErrEmptyKey
	}
	return norm.NFC.String(k), nil
}

func (StringKeys) DecodeKey(s string) (string, error) {
	return s, nil
}

// UUIDKeys stores UUIDs in their canonical 36-character form.
type UUIDKeys struct{}

func (UUIDKeys) EncodeKey(k uuid.UUID) (string, error) {
	return k.String(), nil
}

func (UUIDKeys) DecodeKey(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("codec: decode uuid key %q: %w", s, err)
	}
	return id, nil
}

// Int64Keys stores int64 keys as 20-digit strings whose byte order matches
// numeric order, including negative numbers.
type Int64Keys struct{}

const int64Bias = uint64(1) << 63

func (Int64Keys) EncodeKey(k int64) (string, error) {
	return fmt.Sprintf("%020d", uint64(k)^int64Bias), nil
}

func (Int64Keys) DecodeKey(s string) (int64, error) {
	if len(s) != 20 {
		return 0, fmt.Errorf("codec: decode int64 key %q: want 20 digits", s)
	}
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("codec: decode int64 key %q: %w", s, err)
	}
	return int64(u ^ int64Bias), nil
}
