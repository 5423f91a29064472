package codec

import (
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgPack implements Codec using MessagePack serialization.
//
// Benefits over JSON:
//   - Smaller encoded size
//   - Faster encoding/decoding
//   - Binary field values survive a round trip without base64
type MsgPack struct{}

// Name returns "msgpack".
func (MsgPack) Name() string { return "msgpack" }

// Encode serializes document fields to MessagePack bytes.
func (MsgPack) Encode(fields map[string]any) ([]byte, error) {
	data, err := msgpack.Marshal(fields)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

// Decode deserializes MessagePack bytes into document fields.
func (MsgPack) Decode(data []byte) (map[string]any, error) {
	var fields map[string]any
	if err := msgpack.Unmarshal(data, &fields); err != nil {
		return nil, errors.Join(ErrDecodeFailure, err)
	}
	return fields, nil
}

var _ Codec = MsgPack{}
