package docid

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := Codec{Base: "https://adaptor.example.com/doc/"}
	id := New("some id/with?special&chars")

	encoded := codec.Encode(id)
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.Equal(id) {
		t.Errorf("round trip mismatch: got %q, want %q", decoded.String(), id.String())
	}
}

func TestDecodeRejectsWrongBase(t *testing.T) {
	codec := Codec{Base: "https://adaptor.example.com/doc/"}
	if _, err := codec.Decode("https://other.example.com/doc/123"); err == nil {
		t.Error("expected error decoding url with mismatched base")
	}
}
