package gattcentral

import "errors"

// MAC is a Bluetooth device address, stored in little endian order as it
// appears on the air.
type MAC [6]byte

var errInvalidMAC = errors.New("gattcentral: failed to parse MAC address")

// ParseMAC parses an address in 11:22:33:AA:BB:CC format. Both upper and
// lower case digits are accepted.
func ParseMAC(s string) (mac MAC, err error) {
	if len(s) != 17 {
		return mac, errInvalidMAC
	}
	for i := 0; i < 6; i++ {
		if i > 0 && s[i*3-1] != ':' {
			return MAC{}, errInvalidMAC
		}
		hi, ok1 := hexNibble(s[i*3])
		lo, ok2 := hexNibble(s[i*3+1])
		if !ok1 || !ok2 {
			return MAC{}, errInvalidMAC
		}
		mac[5-i] = hi<<4 | lo
	}
	return mac, nil
}

// MACFromUint64 converts the 48-bit integer form used by some native
// stacks.
func MACFromUint64(v uint64) MAC {
	var mac MAC
	for i := range mac {
		mac[i] = byte(v >> (8 * i))
	}
	return mac
}

// Uint64 returns the 48-bit integer form of the address.
func (mac MAC) Uint64() uint64 {
	var v uint64
	for i := range mac {
		v |= uint64(mac[i]) << (8 * i)
	}
	return v
}

// String returns the address in 11:22:33:AA:BB:CC format.
func (mac MAC) String() string {
	const digits = "0123456789ABCDEF"
	buf := make([]byte, 0, 17)
	for i := 5; i >= 0; i-- {
		if i != 5 {
			buf = append(buf, ':')
		}
		buf = append(buf, digits[mac[i]>>4], digits[mac[i]&0x0f])
	}
	return string(buf)
}
