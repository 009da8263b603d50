package rlp

import (
	"testing"
)

func FuzzDecode(f *testing.F) {
	// Seed with valid RLP encodings shaped like what actually crosses the
	// wire in discv5: ENR keys/values, a Ping struct, a WhoAreYou auth
	// section, and a Nodes ENR list, alongside the base string/uint/list
	// cases every decode path must still handle.
	f.Add([]byte{0x80})                                 // empty string / empty ENR value
	f.Add([]byte{0x83, 0x75, 0x64, 0x70})                // "udp" ENR key
	f.Add([]byte{0x01})                                 // request_id(1)
	f.Add([]byte{0x7f})                                 // request_id(127)
	f.Add([]byte{0x82, 0x04, 0x00})                     // request_id(1024)
	f.Add([]byte{0xc0})                                 // empty list
	f.Add([]byte{0xc2, 0x07, 0x03})                     // Ping{RequestID:7, ENRSeq:3}
	f.Add([]byte{0xef, 0x8c, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11,
		0xa0, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22,
		0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22,
		0x22, 0x22, 0x22, 0x22, 0x22, 0x05}) // WhoAreYou auth section [token, id_nonce, enr_seq]
	f.Add([]byte{0xce, 0x86, 0xc5, 0x83, 0x75, 0x64, 0x70, 0x01, 0x86, 0xc5, 0x83, 0x74, 0x63, 0x70, 0x02}) // Nodes ENR list

	f.Fuzz(func(t *testing.T, data []byte) {
		// Decode as an ENR key/string: should not panic.
		var s string
		_ = DecodeBytes(data, &s)

		// Decode as a request_id/uint64: should not panic.
		var u uint64
		_ = DecodeBytes(data, &u)

		// Decode as an ENR value/[]byte: should not panic.
		var b []byte
		_ = DecodeBytes(data, &b)

		// Decode as an ENR key list/[]string: should not panic.
		var ss []string
		_ = DecodeBytes(data, &ss)

		// Decode as a Nodes packet's ENR list/[][]byte: should not panic.
		var bb [][]byte
		_ = DecodeBytes(data, &bb)

		// Decode as a Ping-shaped struct: should not panic.
		var ping struct {
			RequestID uint64
			ENRSeq    uint64
		}
		_ = DecodeBytes(data, &ping)
	})
}
