package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes records of type R. Encodings must be deterministic: the
// same record always yields the same bytes, since change detection compares
// payloads.
type Codec[R any] interface {
	Name() string
	Marshal(r *R) ([]byte, error)
	Unmarshal(data []byte, r *R) error
}

// Codec names accepted by ByName.
const (
	NameJSON    = "json"
	NameMsgPack = "msgpack"
)

// JSON encodes records with encoding/json without HTML escaping.
type JSON[R any] struct{}

func (JSON[R]) Name() string { return NameJSON }

func (JSON[R]) Marshal(r *R) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("failed to encode %T to JSON: %w", r, err)
	}

	// json.Encoder adds trailing newline, remove it
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}
	return result, nil
}

func (JSON[R]) Unmarshal(data []byte, r *R) error {
	if err := json.Unmarshal(data, r); err != nil {
		return fmt.Errorf("failed to decode JSON into %T: %w", r, err)
	}
	return nil
}

// MsgPack encodes records with msgpack, sorting map keys for determinism.
type MsgPack[R any] struct{}

func (MsgPack[R]) Name() string { return NameMsgPack }

func (MsgPack[R]) Marshal(r *R) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(r)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", r, err)
	}
	return buf.Bytes(), nil
}

func (MsgPack[R]) Unmarshal(data []byte, r *R) error {
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(data))
	err := dec.Decode(r)
	msgpack.PutDecoder(dec)
	if err != nil {
		return fmt.Errorf("failed to decode msgpack into %T: %w", r, err)
	}
	return nil
}

// ByName returns the codec registered under name.
func ByName[R any](name string) (Codec[R], error) {
	switch name {
	case NameJSON, "":
		return JSON[R]{}, nil
	case NameMsgPack:
		return MsgPack[R]{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}

// Clone returns a deep copy of r made by round-tripping it through c.
func Clone[R any](c Codec[R], r *R) (*R, error) {
	data, err := c.Marshal(r)
	if err != nil {
		return nil, err
	}
	out := new(R)
	if err := c.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
