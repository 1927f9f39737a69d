package gattcentral

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Device is a remote peripheral discovered by a Central. A Device stays the
// same object for as long as it is registered; once removed it is unusable.
type Device struct {
	central *Central

	id               string
	name             string
	manufacturerData []byte
	serviceUUIDs     []UUID
	rssi             int16
	lastSeen         time.Time

	state         ConnectionState
	attempt       ConnectAttempt
	autoReconnect bool
	reconnecting  bool
	removed       bool

	services         []*Service
	servicesResolved bool
	servicesPending  bool
	generation       uint64

	// Attributes of the current connection by native handle.
	serviceIndex        map[Handle]*Service
	characteristicIndex map[Handle]*Characteristic
	descriptorIndex     map[Handle]*Descriptor

	handlers listeners[DeviceHandler]
}

func newDevice(c *Central, adv Advertisement, now time.Time) *Device {
	d := &Device{
		central:  c,
		id:       adv.Address,
		name:     adv.Name,
		rssi:     adv.RSSI,
		lastSeen: now,
	}
	if adv.ManufacturerData != nil {
		d.manufacturerData = append([]byte(nil), adv.ManufacturerData...)
	}
	if len(adv.ServiceUUIDs) > 0 {
		d.serviceUUIDs = append([]UUID(nil), adv.ServiceUUIDs...)
	}
	d.resetIndex()
	return d
}

// Identifier returns the stable platform identifier of the device: the
// Bluetooth address on Linux and Windows, a system assigned UUID on macOS.
func (d *Device) Identifier() string { return d.id }

// Name returns the last advertised local name.
func (d *Device) Name() string { return d.name }

// ManufacturerData returns a copy of the last advertised manufacturer data.
func (d *Device) ManufacturerData() []byte {
	return append([]byte(nil), d.manufacturerData...)
}

// ServiceUUIDs returns the last advertised service UUIDs.
func (d *Device) ServiceUUIDs() []UUID {
	return append([]UUID(nil), d.serviceUUIDs...)
}

// RSSI returns the signal strength of the last advertisement in dBm.
func (d *Device) RSSI() int16 { return d.rssi }

// ConnectionState returns the state of the link to the device.
func (d *Device) ConnectionState() ConnectionState { return d.state }

// IsConnected reports whether the link is up.
func (d *Device) IsConnected() bool { return d.state == Connected }

// IsValid reports whether the device is still registered with its Central.
func (d *Device) IsValid() bool {
	return !d.removed && !d.central.closed
}

// AddHandler registers h and returns a function that unregisters it.
func (d *Device) AddHandler(h DeviceHandler) (remove func()) {
	return d.handlers.add(h)
}

// Services returns the services found by the last successful discovery on
// the current connection.
func (d *Device) Services() []*Service {
	return append([]*Service(nil), d.services...)
}

// SetConnectionMode requests new connection parameters. It is a hint: when
// the platform cannot apply it the call fails with Failed and the connection
// is unaffected.
func (d *Device) SetConnectionMode(mode ConnectionMode) error {
	if err := d.checkConnected(); err != nil {
		return err
	}
	if mode < ConnectionModeBalanced || mode > ConnectionModeThroughput {
		return errorf(InvalidArgument, "unknown connection mode %d", mode)
	}
	if err := d.central.platform.SetConnectionMode(d.id, mode); err != nil {
		return errorf(Failed, "set connection mode: %v", err)
	}
	return nil
}

// GetServicesAsync discovers the services of the connected device.
// ServicesDiscovered reports the result. Services are cached for the
// lifetime of the connection.
func (d *Device) GetServicesAsync() error {
	if err := d.checkConnected(); err != nil {
		return err
	}
	if d.servicesPending {
		return errorf(InvalidState, "service discovery in progress")
	}
	if d.servicesResolved {
		d.emitServices(d.Services(), nil)
		return nil
	}
	return d.discoverServices()
}

// RefreshServicesAsync discards cached services and discovers them again.
// Previously returned services become unusable once the result arrives.
func (d *Device) RefreshServicesAsync() error {
	if err := d.checkConnected(); err != nil {
		return err
	}
	if d.servicesPending {
		return errorf(InvalidState, "service discovery in progress")
	}
	return d.discoverServices()
}

func (d *Device) discoverServices() error {
	if err := d.central.platform.DiscoverServices(d.id); err != nil {
		return wrapError(Failed, err)
	}
	d.servicesPending = true
	return nil
}

func (d *Device) checkValid() error {
	if d.central.closed {
		return errorf(InvalidState, "central is closed")
	}
	if d.removed {
		return errorf(ItemNotFound, "device %s was removed", d.id)
	}
	return nil
}

func (d *Device) checkConnected() error {
	if err := d.checkValid(); err != nil {
		return err
	}
	if d.state != Connected {
		return errorf(InvalidState, "device %s is %s", d.id, d.state)
	}
	return nil
}

func (d *Device) setState(state ConnectionState) {
	if state == d.state {
		return
	}
	d.central.log.WithFields(logrus.Fields{
		"device": d.id,
		"from":   d.state,
		"to":     state,
	}).Debug("connection state changed")
	d.state = state
	if state == Disconnected {
		d.teardownServices()
	}
}

// teardownServices invalidates every attribute of the current connection.
// Completions that are still outstanding for them are dropped.
func (d *Device) teardownServices() {
	for _, s := range d.services {
		s.teardown()
	}
	d.services = nil
	d.servicesResolved = false
	d.servicesPending = false
	d.generation++
	d.resetIndex()
}

func (d *Device) resetIndex() {
	d.serviceIndex = make(map[Handle]*Service)
	d.characteristicIndex = make(map[Handle]*Characteristic)
	d.descriptorIndex = make(map[Handle]*Descriptor)
}

func (d *Device) emitServices(services []*Service, err error) {
	gen := d.generation
	d.central.loop.Post(func() {
		if d.removed || d.generation != gen {
			return
		}
		d.handlers.each(func(h DeviceHandler) {
			if h.ServicesDiscovered != nil {
				h.ServicesDiscovered(services, err)
			}
		})
	})
}

func (d *Device) onServicesDiscovered(infos []ServiceInfo, err error) {
	if !d.servicesPending || d.state != Connected {
		return
	}
	d.servicesPending = false
	if err != nil {
		d.emitServices(nil, wrapError(Failed, err))
		return
	}
	d.teardownServices()
	services := make([]*Service, 0, len(infos))
	for _, info := range infos {
		if _, dup := d.serviceIndex[info.Handle]; dup {
			continue
		}
		s := newService(d, info)
		d.serviceIndex[info.Handle] = s
		services = append(services, s)
	}
	for _, s := range services {
		s.resolveIncludes()
	}
	d.services = services
	d.servicesResolved = true
	d.central.log.WithFields(logrus.Fields{"device": d.id, "count": len(services)}).Debug("services discovered")
	d.emitServices(d.Services(), nil)
}
