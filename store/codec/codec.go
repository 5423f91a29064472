// Package codec provides document serialization for store backends that
// persist documents as opaque blobs (for example the redis backend).
//
// Two codecs are provided:
//   - JSON: human-readable, interoperable with other tooling
//   - MsgPack: compact binary encoding via MessagePack
package codec

import "errors"

// Codec errors
var (
	// ErrEncodeFailure indicates document encoding failed.
	ErrEncodeFailure = errors.New("codec: encode failure")

	// ErrDecodeFailure indicates document decoding failed.
	ErrDecodeFailure = errors.New("codec: decode failure")
)

// Codec serializes document field data to bytes and back.
type Codec interface {
	// Name returns the codec identifier, e.g. "json" or "msgpack".
	Name() string

	// Encode serializes document fields.
	Encode(fields map[string]any) ([]byte, error)

	// Decode deserializes document fields.
	Decode(data []byte) (map[string]any, error)
}

// Default is the codec used by backends when none is configured.
var Default Codec = JSON{}
