package codec

import (
	"encoding/json"
	"errors"
)

// JSON implements Codec using encoding/json.
//
// JSON keeps stored blobs inspectable with standard tooling at the cost of
// a larger encoding than MsgPack. Numeric fields decode as float64, per
// encoding/json's default behavior for untyped data.
type JSON struct{}

// Name returns "json".
func (JSON) Name() string { return "json" }

// Encode serializes document fields as a JSON object.
func (JSON) Encode(fields map[string]any) ([]byte, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

// Decode deserializes a JSON object into document fields.
func (JSON) Decode(data []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.Join(ErrDecodeFailure, err)
	}
	return fields, nil
}

var _ Codec = JSON{}
