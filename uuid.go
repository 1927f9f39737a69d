package gattcentral

// This file implements 16-bit and 128-bit UUIDs as defined in the Bluetooth
// specification.

import (
	"errors"

	"github.com/google/uuid"
)

// UUID is a single UUID as used in the Bluetooth stack. It is represented as a
// [4]uint32 instead of a [16]byte for efficiency. UUIDs are values: two UUIDs
// identify the same attribute type exactly when they compare equal.
type UUID [4]uint32

var errInvalidUUID = errors.New("gattcentral: failed to parse UUID")

// NewUUID returns a new UUID based on the 128-bit (16-byte) big-endian input.
func NewUUID(b [16]byte) UUID {
	return UUID{
		uint32(b[15]) | uint32(b[14])<<8 | uint32(b[13])<<16 | uint32(b[12])<<24,
		uint32(b[11]) | uint32(b[10])<<8 | uint32(b[9])<<16 | uint32(b[8])<<24,
		uint32(b[7]) | uint32(b[6])<<8 | uint32(b[5])<<16 | uint32(b[4])<<24,
		uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24,
	}
}

// New16BitUUID returns a new 128-bit UUID based on a 16-bit UUID.
//
// Note: only use registered UUIDs. See
// https://www.bluetooth.com/specifications/gatt/services/ for a list.
func New16BitUUID(shortUUID uint16) UUID {
	// https://stackoverflow.com/questions/36212020/how-can-i-convert-a-bluetooth-16-bit-service-uuid-into-a-128-bit-uuid
	var u UUID
	u[0] = 0x5F9B34FB
	u[1] = 0x80000080
	u[2] = 0x00001000
	u[3] = uint32(shortUUID)
	return u
}

// ParseUUID parses the given UUID, which must be in
// 00001234-0000-1000-8000-00805f9b34fb format (case insensitive). Short
// 16-bit forms such as "180d" are accepted too, since BlueZ and CoreBluetooth
// both hand those out for registered attributes.
func ParseUUID(s string) (UUID, error) {
	if len(s) == 4 {
		var short uint16
		for i := 0; i < 4; i++ {
			nibble, ok := hexNibble(s[i])
			if !ok {
				return UUID{}, errInvalidUUID
			}
			short = short<<4 | uint16(nibble)
		}
		return New16BitUUID(short), nil
	}
	if len(s) != 36 {
		return UUID{}, errInvalidUUID
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, errInvalidUUID
	}
	return NewUUID(parsed), nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Bytes returns the 16-byte big-endian form of this UUID.
func (u UUID) Bytes() [16]byte {
	var b [16]byte
	for i := 0; i < 4; i++ {
		w := u[3-i]
		b[i*4] = byte(w >> 24)
		b[i*4+1] = byte(w >> 16)
		b[i*4+2] = byte(w >> 8)
		b[i*4+3] = byte(w)
	}
	return b
}

// Is16Bit returns whether this UUID is a 16-bit BLE UUID.
func (u UUID) Is16Bit() bool {
	return u.Is32Bit() && u[3] == uint32(uint16(u[3]))
}

// Is32Bit returns whether this UUID is a 32-bit BLE UUID.
func (u UUID) Is32Bit() bool {
	return u[0] == 0x5F9B34FB && u[1] == 0x80000080 && u[2] == 0x00001000
}

// Get16Bit returns the 16-bit short form of a registered UUID. The result is
// only meaningful when Is16Bit returns true.
func (u UUID) Get16Bit() uint16 {
	return uint16(u[3])
}

// String returns a human-readable version of this UUID, such as
// 00001234-0000-1000-8000-00805f9b34fb.
func (u UUID) String() string {
	return uuid.UUID(u.Bytes()).String()
}
