// Package cluster implements the slot-addressed routing layer: CRC16 key
// slots with hash-tag extraction, the 16384-entry slot table with
// migrating/importing states, MOVED/ASK redirections and the key handoff
// used to migrate a slot's contents between nodes.
package cluster

import "strings"

// SlotCount is the fixed size of the hash slot space
const SlotCount = 16384

// KeySlot maps a key to its hash slot. When the key contains a hash tag,
// a non-empty brace-delimited segment, only the tag is hashed, so related
// keys can be pinned to one slot.
func KeySlot(key string) uint16 {
	if open := strings.IndexByte(key, '{'); open >= 0 {
		if close := strings.IndexByte(key[open+1:], '}'); close > 0 {
			key = key[open+1 : open+1+close]
		}
	}
	return crc16(key) % SlotCount
}

// crc16 is CRC-16/XMODEM, the slot hashing function of the wire protocol
func crc16(s string) uint16 {
	var crc uint16
	for i := 0; i < len(s); i++ {
		crc ^= uint16(s[i]) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
