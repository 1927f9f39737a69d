package gattcentral

import (
	"strings"
	"testing"
)

func TestUUIDString(t *testing.T) {
	checkUUID(t, New16BitUUID(0x1234), "00001234-0000-1000-8000-00805f9b34fb")
}

func checkUUID(t *testing.T, u UUID, check string) {
	t.Helper()
	if u.String() != check {
		t.Errorf("expected UUID %s but got %s", check, u.String())
	}
}

func TestParseUUIDTooSmall(t *testing.T) {
	_, e := ParseUUID("00001234-0000-1000-8000-00805f9b34f")
	if e != errInvalidUUID {
		t.Errorf("expected errInvalidUUID but got %v", e)
	}
}

func TestParseUUIDTooLarge(t *testing.T) {
	_, e := ParseUUID("00001234-0000-1000-8000-00805F9B34FB0")
	if e != errInvalidUUID {
		t.Errorf("expected errInvalidUUID but got %v", e)
	}
}

func TestParseUUIDBadCharacter(t *testing.T) {
	_, e := ParseUUID("0000123g-0000-1000-8000-00805f9b34fb")
	if e != errInvalidUUID {
		t.Errorf("expected errInvalidUUID but got %v", e)
	}
}

func TestParseShortUUID(t *testing.T) {
	u, e := ParseUUID("180D")
	if e != nil {
		t.Fatalf("expected nil but got %v", e)
	}
	if u != ServiceUUIDHeartRate {
		t.Errorf("expected heart rate service but got %s", u)
	}
	if !u.Is16Bit() || u.Get16Bit() != 0x180d {
		t.Errorf("expected a 16-bit UUID 0x180d, got %s", u)
	}
}

func TestStringUUID(t *testing.T) {
	uuidString := "00001234-0000-1000-8000-00805f9b34fb"
	u, e := ParseUUID(uuidString)
	if e != nil {
		t.Errorf("expected nil but got %v", e)
	}
	if u.String() != uuidString {
		t.Errorf("expected %s but got %s", uuidString, u.String())
	}
}

func TestStringUUIDUpperCase(t *testing.T) {
	uuidString := strings.ToUpper("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	u, e := ParseUUID(uuidString)
	if e != nil {
		t.Errorf("expected nil but got %v", e)
	}
	if !strings.EqualFold(u.String(), uuidString) {
		t.Errorf("%s does not match %s ignoring case", uuidString, u.String())
	}
	if u.Is32Bit() {
		t.Errorf("%s is a vendor UUID, not a registered one", u)
	}
}

func TestUUIDBytesRoundTrip(t *testing.T) {
	b := [16]byte{0x6e, 0x40, 0x00, 0x01, 0xb5, 0xa3, 0xf3, 0x93, 0xe0, 0xa9, 0xe5, 0x0e, 0x24, 0xdc, 0xca, 0x9e}
	if got := NewUUID(b).Bytes(); got != b {
		t.Errorf("expected %x but got %x", b, got)
	}
}

func BenchmarkUUIDToString(b *testing.B) {
	u, e := ParseUUID("00001234-0000-1000-8000-00805f9b34fb")
	if e != nil {
		b.Errorf("expected nil but got %v", e)
	}
	for i := 0; i < b.N; i++ {
		_ = u.String()
	}
}
