// Package wire provides explicit little-endian byte encoding helpers.
//
// Wire frames are never aliased onto in-memory struct layouts: every
// multi-byte field is read and written byte-by-byte, matching the
// "packed structs read directly off the wire" design note — the
// reference radio firmware memcpy's frames onto packed C structs, which
// is not safe across Go platforms and hides endianness assumptions.
package wire

// PutU16 writes v to buf[0:2], little-endian.
func PutU16(buf []byte, v uint16) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
}

// U16 reads a little-endian uint16 from buf[0:2].
func U16(buf []byte) uint16 {
	return uint16(buf[0]) | uint16(buf[1])<<8
}

// PutU32 writes v to buf[0:4], little-endian.
func PutU32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

// U32 reads a little-endian uint32 from buf[0:4].
func U32(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

// PutI32 writes v to buf[0:4], little-endian two's complement.
func PutI32(buf []byte, v int32) {
	PutU32(buf, uint32(v))
}

// I32 reads a little-endian int32 from buf[0:4].
func I32(buf []byte) int32 {
	return int32(U32(buf))
}
