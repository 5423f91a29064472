package codec

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestJSONRoundTrip(t *testing.T) {
	c := JSON{}
	if got := c.Name(); got != "json" {
		t.Errorf("Name() = %q, want %q", got, "json")
	}

	fields := map[string]any{"status": "placed", "note": ""}
	data, err := c.Encode(fields)
	if err != nil {
		t.Fatalf("Encode() = %v", err)
	}
	got, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode() = %v", err)
	}
	if diff := cmp.Diff(fields, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONNumbersDecodeAsFloat(t *testing.T) {
	c := JSON{}
	data, err := c.Encode(map[string]any{"qty": 2})
	if err != nil {
		t.Fatalf("Encode() = %v", err)
	}
	got, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode() = %v", err)
	}
	if got["qty"] != float64(2) {
		t.Errorf("qty decoded as %T(%v), want float64(2)", got["qty"], got["qty"])
	}
}

func TestJSONDecodeFailure(t *testing.T) {
	_, err := JSON{}.Decode([]byte("{not json"))
	if !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("Decode() = %v, want ErrDecodeFailure", err)
	}
}

func TestMsgPackRoundTrip(t *testing.T) {
	c := MsgPack{}
	if got := c.Name(); got != "msgpack" {
		t.Errorf("Name() = %q, want %q", got, "msgpack")
	}

	fields := map[string]any{"status": "placed", "raw": []byte{0x01, 0x02}}
	data, err := c.Encode(fields)
	if err != nil {
		t.Fatalf("Encode() = %v", err)
	}
	got, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode() = %v", err)
	}
	if got["status"] != "placed" {
		t.Errorf("status = %v, want %q", got["status"], "placed")
	}
	raw, ok := got["raw"].([]byte)
	if !ok || len(raw) != 2 || raw[0] != 0x01 {
		t.Errorf("binary field did not survive the round trip: %v", got["raw"])
	}
}

func TestMsgPackDecodeFailure(t *testing.T) {
	_, err := MsgPack{}.Decode([]byte{0xc1})
	if !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("Decode() = %v, want ErrDecodeFailure", err)
	}
}

func TestDefaultCodec(t *testing.T) {
	if Default == nil || Default.Name() != "json" {
		t.Errorf("Default codec = %v, want JSON", Default)
	}
}
