package gattcentral

// CentralHandler holds the callbacks of a Central. Nil fields are skipped.
// All callbacks run on the Central's loop.
type CentralHandler struct {
	StateChanged func(state CentralState)

	ScanningStarted func()
	ScanningStopped func()

	DeviceAdded   func(d *Device)
	DeviceUpdated func(d *Device)
	DeviceRemoved func(d *Device)

	// ConnectCompleted and DisconnectCompleted answer ConnectAsync and
	// DisconnectAsync. ConnectionRestored reports an automatic reconnect of
	// a device connected with autoReconnect, and ConnectionLost an
	// unsolicited drop.
	ConnectCompleted    func(d *Device, err error)
	DisconnectCompleted func(d *Device, err error)
	ConnectionRestored  func(d *Device)
	ConnectionLost      func(d *Device, err error)
}

// DeviceHandler holds the callbacks of a Device.
type DeviceHandler struct {
	ServicesDiscovered func(services []*Service, err error)
}

// ServiceHandler holds the callbacks of a Service.
type ServiceHandler struct {
	CharacteristicsDiscovered func(characteristics []*Characteristic, err error)
}

// CharacteristicHandler holds the callbacks of a Characteristic. The value
// passed to ReadCompleted is only valid when err is nil.
type CharacteristicHandler struct {
	ReadCompleted         func(value []byte, err error)
	WriteCompleted        func(err error)
	SubscribeCompleted    func(err error)
	UnsubscribeCompleted  func(err error)
	DescriptorsDiscovered func(descriptors []*Descriptor, err error)
	NotificationReceived  func(value []byte)
}

// DescriptorHandler holds the callbacks of a Descriptor.
type DescriptorHandler struct {
	ReadCompleted  func(value []byte, err error)
	WriteCompleted func(err error)
}

// listeners is an ordered list of handlers that may be removed again.
type listeners[T any] struct {
	nextID  int
	entries []listener[T]
}

type listener[T any] struct {
	id      int
	handler T
}

func (l *listeners[T]) add(h T) (remove func()) {
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listener[T]{id: id, handler: h})
	return func() {
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

// each calls fn for a snapshot of the handlers, so handlers may add or remove
// handlers while being called.
func (l *listeners[T]) each(fn func(T)) {
	snapshot := append([]listener[T](nil), l.entries...)
	for _, e := range snapshot {
		fn(e.handler)
	}
}

func (l *listeners[T]) clear() {
	l.entries = nil
}
