package rlp

import (
	"bytes"
	"math/big"
	"testing"
)

func TestDecodeENRKey(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"empty key", []byte{0x80}, ""},
		{"\"udp\" key", []byte{0x83, 0x75, 0x64, 0x70}, "udp"},
		{"single char key \"a\"", []byte{0x61}, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			if err := DecodeBytes(tt.input, &got); err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeRequestID(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  uint64
	}{
		{"zero", []byte{0x80}, 0},
		{"single byte", []byte{0x01}, 1},
		{"boundary 127", []byte{0x7f}, 127},
		{"boundary 128", []byte{0x81, 0x80}, 128},
		{"two-byte id", []byte{0x82, 0xbe, 0xef}, 0xbeef},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got uint64
			if err := DecodeBytes(tt.input, &got); err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDecodeENRValueBytes(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  []byte
	}{
		{"empty value", []byte{0x80}, []byte{}},
		{"udp port 30303", []byte{0x82, 0x76, 0x5f}, []byte{0x76, 0x5f}},
		{"single byte ip octet", []byte{0x7f}, []byte{0x7f}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []byte
			if err := DecodeBytes(tt.input, &got); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("got %x, want %x", got, tt.want)
			}
		})
	}
}

func TestDecodeRegConfirmationBool(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  bool
	}{
		{"not registered", []byte{0x80}, false},
		{"registered", []byte{0x01}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got bool
			if err := DecodeBytes(tt.input, &got); err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodePingStruct(t *testing.T) {
	type ping struct {
		RequestID uint64
		ENRSeq    uint64
	}
	input := []byte{0xc2, 0x07, 0x03}
	var got ping
	if err := DecodeBytes(input, &got); err != nil {
		t.Fatal(err)
	}
	if got.RequestID != 7 || got.ENRSeq != 3 {
		t.Fatalf("got %+v, want {RequestID:7 ENRSeq:3}", got)
	}
}

func TestDecodeNodesENRList(t *testing.T) {
	enrA := []byte{0xc5, 0x83, 0x75, 0x64, 0x70, 0x01}
	enrB := []byte{0xc5, 0x83, 0x74, 0x63, 0x70, 0x02}
	input := rlpList(append(rlpStr(enrA), rlpStr(enrB)...))
	var got [][]byte
	if err := DecodeBytes(input, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || !bytes.Equal(got[0], enrA) || !bytes.Equal(got[1], enrB) {
		t.Fatalf("got %x, want [%x %x]", got, enrA, enrB)
	}
}

// Round-trip tests: encode then decode, over discv5-shaped values.

func TestRoundTripENRKey(t *testing.T) {
	tests := []string{"", "id", "secp256k1", "udp6", "a"}
	for _, s := range tests {
		enc, err := EncodeToBytes(s)
		if err != nil {
			t.Fatal(err)
		}
		var dec string
		if err := DecodeBytes(enc, &dec); err != nil {
			t.Fatalf("decode %q: %v", s, err)
		}
		if dec != s {
			t.Fatalf("round-trip: got %q, want %q", dec, s)
		}
	}
}

func TestRoundTripRequestID(t *testing.T) {
	tests := []uint64{0, 1, 127, 128, 255, 256, 1024, 65535, 1<<32 - 1, 1<<64 - 1}
	for _, u := range tests {
		enc, err := EncodeToBytes(u)
		if err != nil {
			t.Fatal(err)
		}
		var dec uint64
		if err := DecodeBytes(enc, &dec); err != nil {
			t.Fatalf("decode %d: %v", u, err)
		}
		if dec != u {
			t.Fatalf("round-trip: got %d, want %d", dec, u)
		}
	}
}

func TestRoundTripBool(t *testing.T) {
	for _, b := range []bool{true, false} {
		enc, err := EncodeToBytes(b)
		if err != nil {
			t.Fatal(err)
		}
		var dec bool
		if err := DecodeBytes(enc, &dec); err != nil {
			t.Fatalf("decode %v: %v", b, err)
		}
		if dec != b {
			t.Fatalf("round-trip: got %v, want %v", dec, b)
		}
	}
}

func TestRoundTripENRValue(t *testing.T) {
	tests := [][]byte{{}, {0x00}, {0x7f}, {0x80}, {0x76, 0x5f}}
	for _, b := range tests {
		enc, err := EncodeToBytes(b)
		if err != nil {
			t.Fatal(err)
		}
		var dec []byte
		if err := DecodeBytes(enc, &dec); err != nil {
			t.Fatalf("decode %x: %v", b, err)
		}
		if !bytes.Equal(dec, b) {
			t.Fatalf("round-trip: got %x, want %x", dec, b)
		}
	}
}

func TestRoundTripPingStruct(t *testing.T) {
	type ping struct {
		RequestID uint64
		ENRSeq    uint64
	}
	original := ping{RequestID: 99, ENRSeq: 4096}
	enc, err := EncodeToBytes(original)
	if err != nil {
		t.Fatal(err)
	}
	var dec ping
	if err := DecodeBytes(enc, &dec); err != nil {
		t.Fatal(err)
	}
	if dec != original {
		t.Fatalf("round-trip: got %+v, want %+v", dec, original)
	}
}

func TestRoundTripENRKeyList(t *testing.T) {
	original := []string{"id", "secp256k1", "udp"}
	enc, err := EncodeToBytes(original)
	if err != nil {
		t.Fatal(err)
	}
	var dec []string
	if err := DecodeBytes(enc, &dec); err != nil {
		t.Fatal(err)
	}
	if len(dec) != len(original) {
		t.Fatalf("length mismatch: got %d, want %d", len(dec), len(original))
	}
	for i := range dec {
		if dec[i] != original[i] {
			t.Fatalf("index %d: got %q, want %q", i, dec[i], original[i])
		}
	}
}

func TestRoundTripENRSignature(t *testing.T) {
	sig := bytes.Repeat([]byte{0xcd}, 64)
	enc, err := EncodeToBytes(sig)
	if err != nil {
		t.Fatal(err)
	}
	var dec []byte
	if err := DecodeBytes(enc, &dec); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, sig) {
		t.Fatalf("round-trip: got %x, want %x", dec, sig)
	}
}

// The codec also supports arbitrary-precision integers beyond discv5's own
// uint64 fields; covered directly rather than through a domain fixture.

func TestDecodeBigInt(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  *big.Int
	}{
		{"big.Int(0)", []byte{0x80}, big.NewInt(0)},
		{"big.Int(128)", []byte{0x81, 0x80}, big.NewInt(128)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got big.Int
			if err := DecodeBytes(tt.input, &got); err != nil {
				t.Fatal(err)
			}
			if got.Cmp(tt.want) != 0 {
				t.Fatalf("got %s, want %s", got.String(), tt.want.String())
			}
		})
	}
}

func TestRoundTripBigInt(t *testing.T) {
	tests := []*big.Int{big.NewInt(0), big.NewInt(127), big.NewInt(128), big.NewInt(1024)}
	for _, bi := range tests {
		enc, err := EncodeToBytes(bi)
		if err != nil {
			t.Fatal(err)
		}
		var dec big.Int
		if err := DecodeBytes(enc, &dec); err != nil {
			t.Fatalf("decode %s: %v", bi.String(), err)
		}
		if dec.Cmp(bi) != 0 {
			t.Fatalf("round-trip: got %s, want %s", dec.String(), bi.String())
		}
	}
}

// Error cases: malformed input must be rejected, never panic or silently
// accept a non-canonical encoding (discv5 packets are attacker-controlled).

func TestDecodeTruncatedInput(t *testing.T) {
	// A string that claims to be 3 bytes but only has 2 — the shape of a
	// truncated ENR value arriving over UDP.
	input := []byte{0x83, 0x76, 0x5f}
	var got []byte
	if err := DecodeBytes(input, &got); err == nil {
		t.Fatal("expected error for truncated input")
	}
}

func TestDecodeInvalidLengthPrefix(t *testing.T) {
	// A long-string header for a size that fits the short form is non-canonical.
	input := []byte{0xb8, 0x01, 0x61} // claims long string, len=1, but 1 <= 55
	var got string
	if err := DecodeBytes(input, &got); err == nil {
		t.Fatal("expected error for non-canonical size")
	}
}

func TestDecodeLeadingZeroUint(t *testing.T) {
	// 0x82, 0x00, 0x80: a request_id with a leading zero byte (non-canonical).
	input := []byte{0x82, 0x00, 0x80}
	var got uint64
	if err := DecodeBytes(input, &got); err == nil {
		t.Fatal("expected error for non-canonical integer")
	}
}

func TestStreamDirect(t *testing.T) {
	// Test the Stream API directly against an ENR key string.
	data := []byte{0x83, 0x75, 0x64, 0x70} // "udp"
	s := NewStream(bytes.NewReader(data))
	k, size, err := s.Kind()
	if err != nil {
		t.Fatal(err)
	}
	if k != String || size != 3 {
		t.Fatalf("Kind: got (%v, %d), want (String, 3)", k, size)
	}
	b, err := s.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "udp" {
		t.Fatalf("Bytes: got %q, want %q", b, "udp")
	}
}

func TestStreamList(t *testing.T) {
	// A two-element ENR pair list: ["id", "v4"].
	data := []byte{0xc6, 0x82, 0x69, 0x64, 0x82, 0x76, 0x34}
	s := NewStream(bytes.NewReader(data))
	if _, err := s.List(); err != nil {
		t.Fatal(err)
	}

	k1, err := s.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(k1) != "id" {
		t.Fatalf("first: got %q, want %q", k1, "id")
	}

	v1, err := s.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(v1) != "v4" {
		t.Fatalf("second: got %q, want %q", v1, "v4")
	}

	if err := s.ListEnd(); err != nil {
		t.Fatal(err)
	}
}
