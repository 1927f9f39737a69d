package gattcentral

// Handle identifies a native attribute object (service, characteristic or
// descriptor) of one device. Its content is private to the platform that
// produced it. Platforms never hand out the same Handle in two service
// discoveries of a device, so results of requests made on an earlier
// connection cannot be mistaken for current ones.
type Handle string

// Advertisement is a single native advertisement report, already decoded.
type Advertisement struct {
	// Address is the stable, platform-specific device identifier. It is the
	// identity of a Device across rediscovery.
	Address string

	// Name is the advertised local name, empty when this report carried none.
	Name string

	// ManufacturerData is the raw manufacturer specific data (company
	// identifier in little endian followed by the payload). Nil when this
	// report carried none.
	ManufacturerData []byte

	ServiceUUIDs []UUID
	RSSI         int16
}

// ServiceInfo describes a discovered service.
type ServiceInfo struct {
	Handle   Handle
	UUID     UUID
	Primary  bool
	Includes []Handle
}

// CharacteristicInfo describes a discovered characteristic.
type CharacteristicInfo struct {
	Handle     Handle
	UUID       UUID
	Properties CharacteristicProperties
}

// DescriptorInfo describes a discovered descriptor.
type DescriptorInfo struct {
	Handle Handle
	UUID   UUID
}

// Platform is the narrow boundary to a native Bluetooth stack. Every method
// issues a request and only reports whether the request was accepted; the
// outcome is reported later through the PlatformEvents passed to Enable.
// Platform methods are called from the Central's loop; events may be
// reported from any goroutine.
//
// State machine transitions, single outstanding operations and advertisement
// de-duplication are handled by the Central, so implementations stay thin.
// ConnectAttempt identifies one Connect request of a device, so that the
// late result of a cancelled attempt cannot complete a newer one.
type ConnectAttempt uint64

type Platform interface {
	// Enable starts the native stack. The platform must report its state
	// with StateChanged once it is known.
	Enable(events PlatformEvents) error
	Close() error

	StartScan(filter UUIDFilter, options ScanOptions) error
	StopScan() error

	// Connect starts a connect attempt. The platform reports it with
	// ConnectResult carrying the same attempt, or not at all once the
	// attempt has been cancelled.
	Connect(address string, attempt ConnectAttempt, autoReconnect bool) error
	CancelConnect(address string) error
	Disconnect(address string) error
	SetConnectionMode(address string, mode ConnectionMode) error

	// Forget releases the native resources held for a device that has been
	// removed from the registry.
	Forget(address string)

	DiscoverServices(address string) error
	DiscoverCharacteristics(address string, service Handle) error
	DiscoverDescriptors(address string, characteristic Handle) error

	ReadCharacteristic(address string, characteristic Handle) error
	WriteCharacteristic(address string, characteristic Handle, value []byte, withResponse bool) error
	SetNotify(address string, characteristic Handle, enabled bool) error

	ReadDescriptor(address string, descriptor Handle) error
	WriteDescriptor(address string, descriptor Handle, value []byte) error
}

// PlatformEvents receives native events. Implementations are safe for use
// from any goroutine.
type PlatformEvents interface {
	StateChanged(state CentralState)

	ScanStarted()
	ScanStopped(err error)
	AdvertisementReceived(adv Advertisement)
	PeerLost(address string)

	// ConnectResult and DisconnectResult report the outcome of Connect and
	// Disconnect requests. ConnectionChanged reports native connection
	// changes that were not requested, such as drops or automatic
	// reconnects.
	ConnectResult(address string, attempt ConnectAttempt, err error)
	DisconnectResult(address string, err error)
	ConnectionChanged(address string, connected bool, err error)

	ServicesDiscovered(address string, services []ServiceInfo, err error)
	CharacteristicsDiscovered(address string, service Handle, characteristics []CharacteristicInfo, err error)
	DescriptorsDiscovered(address string, characteristic Handle, descriptors []DescriptorInfo, err error)

	CharacteristicRead(address string, characteristic Handle, value []byte, err error)
	CharacteristicWritten(address string, characteristic Handle, err error)
	NotifyStateChanged(address string, characteristic Handle, enabled bool, err error)
	CharacteristicChanged(address string, characteristic Handle, value []byte)

	DescriptorRead(address string, descriptor Handle, value []byte, err error)
	DescriptorWritten(address string, descriptor Handle, err error)
}
