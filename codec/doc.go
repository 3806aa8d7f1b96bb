// Package codec serializes the values crawlkit stores in Redis.
//
// Every queue entry, set member and lease value passes through a Codec. The
// default, Msgpack, is a compact self-describing binary form that round-trips
// string-keyed maps, slices, integers, floats, strings, byte strings, bools
// and nil. Encoding is deterministic: the same value always produces the same
// bytes, because set membership and acknowledge-by-value compare bytes.
//
// Two escape hatches keep values human-inspectable in the store:
//
//   - Raw values are written verbatim by every codec.
//   - Plain writes strings and bytes as-is and decodes to []byte.
//
// # Usage
//
//	data, _ := codec.Msgpack.Encode(map[string]any{"task": "refresh"})
//	v, _ := codec.Msgpack.Decode(data) // map[string]any{"task": "refresh"}
//
//	owner, _ := codec.Plain.Encode("worker-1") // []byte("worker-1")
package codec
