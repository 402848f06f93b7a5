package node

import "hash/crc32"

// DeriveAddress turns a hardware serial string (e.g. a radio's flash
// ID, a MAC address, or any other install-unique string) into the
// 32-bit node identity the configuration table calls for when
// node_address is left unset.
//
// IEEE CRC-32 stands in for a hash here, not an integrity check, so
// any change to the input serial deterministically yields a
// different address.
//
// packet.BroadcastAddress and packet.UnknownAddress are never
// returned: 0 becomes 1 and 0xFFFFFFFF becomes 0xFFFFFFFE, so a real
// node can never collide with them.
func DeriveAddress(serial string) uint32 {
	addr := crc32.ChecksumIEEE([]byte(serial))
	switch addr {
	case 0:
		return 1
	case 0xFFFFFFFF:
		return 0xFFFFFFFE
	default:
		return addr
	}
}
