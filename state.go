package gattcentral

import (
	"strings"
	"time"
)

// CentralState is the radio/permission state of a Central. Transitions are
// driven by the native Bluetooth subsystem only.
type CentralState int

const (
	StateInitializing CentralState = iota
	StateUnknown
	StateNotSupported
	StatePermissionDenied
	StatePoweredOff
	StatePoweredOn
)

func (s CentralState) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateUnknown:
		return "Unknown"
	case StateNotSupported:
		return "NotSupported"
	case StatePermissionDenied:
		return "PermissionDenied"
	case StatePoweredOff:
		return "PoweredOff"
	case StatePoweredOn:
		return "PoweredOn"
	}
	return "Invalid"
}

// ConnectionState is the connection lifecycle of a single Device:
//
//	Disconnected -> Connecting -> Connected -> Disconnecting -> Disconnected
//
// plus Connected -> Disconnected for unsolicited drops and
// Connecting -> Disconnected for failed or cancelled attempts.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	}
	return "Invalid"
}

// ConnectionMode is a best-effort performance/power hint for an established
// connection.
type ConnectionMode int

const (
	ConnectionModeBalanced ConnectionMode = iota
	ConnectionModePowerSaving
	ConnectionModeThroughput
)

func (m ConnectionMode) String() string {
	switch m {
	case ConnectionModeBalanced:
		return "balanced"
	case ConnectionModePowerSaving:
		return "power-saving"
	case ConnectionModeThroughput:
		return "throughput"
	}
	return "invalid"
}

// ParseConnectionMode parses the names returned by ConnectionMode.String.
func ParseConnectionMode(s string) (ConnectionMode, error) {
	switch strings.ToLower(s) {
	case "balanced", "":
		return ConnectionModeBalanced, nil
	case "power-saving", "powersaving":
		return ConnectionModePowerSaving, nil
	case "throughput":
		return ConnectionModeThroughput, nil
	}
	return 0, errorf(InvalidArgument, "unknown connection mode %q", s)
}

// ScanMode trades scan aggressiveness against power.
type ScanMode int

const (
	ScanModeBalanced ScanMode = iota
	ScanModePowerSaving
	ScanModeLowLatency
)

func (m ScanMode) String() string {
	switch m {
	case ScanModeBalanced:
		return "balanced"
	case ScanModePowerSaving:
		return "power-saving"
	case ScanModeLowLatency:
		return "low-latency"
	}
	return "invalid"
}

// ParseScanMode parses the names returned by ScanMode.String.
func ParseScanMode(s string) (ScanMode, error) {
	switch strings.ToLower(s) {
	case "balanced", "":
		return ScanModeBalanced, nil
	case "power-saving", "powersaving":
		return ScanModePowerSaving, nil
	case "low-latency", "lowlatency":
		return ScanModeLowLatency, nil
	}
	return 0, errorf(InvalidArgument, "unknown scan mode %q", s)
}

// ScanOptions configures everything related to a scan.
type ScanOptions struct {
	Mode ScanMode

	// AdvertisementTimeout is how long an unconnected device may stay silent
	// before it is evicted from the registry. Zero disables eviction.
	AdvertisementTimeout time.Duration
}

// DefaultScanOptions returns the options used when none are given.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Mode:                 ScanModeBalanced,
		AdvertisementTimeout: 10 * time.Second,
	}
}

// CharacteristicProperties describes which operations a characteristic
// supports. The bits match the GATT characteristic declaration. They are
// advisory: the platform is authoritative and may still reject a request.
type CharacteristicProperties uint8

const (
	PropertyBroadcast            CharacteristicProperties = 0x01
	PropertyRead                 CharacteristicProperties = 0x02
	PropertyWriteWithoutResponse CharacteristicProperties = 0x04
	PropertyWrite                CharacteristicProperties = 0x08
	PropertyNotify               CharacteristicProperties = 0x10
	PropertyIndicate             CharacteristicProperties = 0x20
	PropertySignedWrite          CharacteristicProperties = 0x40
	PropertyExtended             CharacteristicProperties = 0x80
	PropertyNone                 CharacteristicProperties = 0
)

var propertyNames = []struct {
	bit  CharacteristicProperties
	name string
}{
	{PropertyBroadcast, "broadcast"},
	{PropertyRead, "read"},
	{PropertyWriteWithoutResponse, "write-without-response"},
	{PropertyWrite, "write"},
	{PropertyNotify, "notify"},
	{PropertyIndicate, "indicate"},
	{PropertySignedWrite, "authenticated-signed-writes"},
	{PropertyExtended, "extended-properties"},
}

// Has reports whether all bits of p are set.
func (c CharacteristicProperties) Has(p CharacteristicProperties) bool {
	return c&p == p
}

// CanNotify reports whether notifications or indications are supported.
func (c CharacteristicProperties) CanNotify() bool {
	return c&(PropertyNotify|PropertyIndicate) != 0
}

func (c CharacteristicProperties) String() string {
	var names []string
	for _, p := range propertyNames {
		if c&p.bit != 0 {
			names = append(names, p.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// PropertiesFromFlags converts BlueZ-style characteristic flags (as found in
// org.bluez.GattCharacteristic1.Flags) into a property bitmask. Unknown flags
// are ignored.
func PropertiesFromFlags(flags []string) CharacteristicProperties {
	var c CharacteristicProperties
	for _, flag := range flags {
		for _, p := range propertyNames {
			if flag == p.name {
				c |= p.bit
			}
		}
	}
	return c
}

// Flags is the inverse of PropertiesFromFlags.
func (c CharacteristicProperties) Flags() []string {
	var flags []string
	for _, p := range propertyNames {
		if c&p.bit != 0 {
			flags = append(flags, p.name)
		}
	}
	return flags
}
