//go:build linux

package gattcentral

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/bluez"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/muka/go-bluetooth/bluez/profile/device"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"
)

const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = 30 * time.Second
)

// bluezDevice is the native state kept for one remote device.
type bluezDevice struct {
	p       *bluezPlatform
	address string
	dev     *device.Device1
	props   chan *bluez.PropertyChanged

	mu            sync.Mutex
	autoReconnect bool
	connected     bool
	reconnect     chan struct{} // closed to stop reconnecting
	notify        map[Handle]chan *bluez.PropertyChanged
	epoch         uint64 // bumped by every service discovery
	chars         map[Handle]*gatt.GattCharacteristic1
	descs         map[Handle]*gatt.GattDescriptor1
}

// StartScan starts BlueZ discovery.
//
// On Linux with BlueZ, incoming packets cannot be observed directly. Instead,
// existing devices are watched for property changes. This closely simulates the
// behavior as if the actual packets were observed, but it has flaws: it is
// possible some events are missed and perhaps even possible that some events
// are duplicated.
func (p *bluezPlatform) StartScan(filter UUIDFilter, options ScanOptions) error {
	if err := p.enabled(); err != nil {
		return err
	}
	p.mu.Lock()
	scanning := p.cancelScan != nil
	p.mu.Unlock()
	if scanning {
		return errorf(InvalidState, "already scanning")
	}

	discoveryFilter := map[string]interface{}{
		"Transport":     "le",
		"DuplicateData": true,
	}
	if len(filter) > 0 {
		uuids := make([]string, len(filter))
		for i, u := range filter {
			uuids[i] = u.String()
		}
		discoveryFilter["UUIDs"] = uuids
	}
	if options.Mode != ScanModeBalanced {
		p.log.WithField("mode", options.Mode).Debug("scan mode is not supported by BlueZ")
	}
	if err := p.adapter.SetDiscoveryFilter(discoveryFilter); err != nil {
		return mapError(err)
	}

	// Instruct BlueZ to start discovering.
	if err := p.adapter.StartDiscovery(); err != nil {
		return mapError(err)
	}

	// Listen for newly found devices.
	discoveryChan, cancelChan, err := p.adapter.OnDeviceDiscovered()
	if err != nil {
		p.adapter.StopDiscovery()
		return mapError(err)
	}
	p.mu.Lock()
	p.cancelScan = cancelChan
	p.mu.Unlock()
	p.events.ScanStarted()

	// BlueZ won't show advertisement data as it is discovered. Instead, it
	// caches all the data and only produces events for changes. Cached devices
	// are reported once and then watched like new ones.
	devices, err := p.adapter.GetDevices()
	if err != nil {
		p.log.WithError(err).Warn("failed to list cached devices")
	}
	for _, dev := range devices {
		p.track(dev)
	}

	go func() {
		for result := range discoveryChan {
			address := addressFromPath(result.Path)
			if result.Type == adapter.DeviceRemoved {
				p.untrack(address)
				p.events.PeerLost(address)
				continue
			}
			if result.Type != adapter.DeviceAdded {
				continue
			}
			// We only got a DBus object path, so turn that into a Device1 object.
			dev, err := device.NewDevice1(result.Path)
			if err != nil || dev == nil {
				continue
			}
			p.track(dev)
		}
	}()
	return nil
}

func (p *bluezPlatform) StopScan() error {
	p.mu.Lock()
	cancel := p.cancelScan
	p.cancelScan = nil
	p.mu.Unlock()
	if cancel == nil {
		return errorf(InvalidState, "not scanning")
	}
	err := p.adapter.StopDiscovery()
	cancel()
	p.adapter.SetDiscoveryFilter(nil)
	p.events.ScanStopped(nil)
	return mapError(err)
}

// releaseScan forgets a discovery session that BlueZ ended on its own.
func (p *bluezPlatform) releaseScan() {
	p.mu.Lock()
	cancel := p.cancelScan
	p.cancelScan = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *bluezPlatform) isScanning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelScan != nil
}

// track reports dev as an advertisement and starts watching its
// properties. Devices that are already tracked are only reported.
func (p *bluezPlatform) track(dev *device.Device1) {
	address := dev.Properties.Address
	p.mu.Lock()
	d, ok := p.devices[address]
	if !ok {
		d = &bluezDevice{
			p:       p,
			address: address,
			dev:     dev,
			notify:  make(map[Handle]chan *bluez.PropertyChanged),
			chars:   make(map[Handle]*gatt.GattCharacteristic1),
			descs:   make(map[Handle]*gatt.GattDescriptor1),
		}
		d.connected = dev.Properties.Connected
		p.devices[address] = d
	}
	p.mu.Unlock()

	p.events.AdvertisementReceived(makeAdvertisement(d.dev))
	if !ok {
		d.watch()
	}
}

func (p *bluezPlatform) untrack(address string) {
	p.mu.Lock()
	d := p.devices[address]
	delete(p.devices, address)
	p.mu.Unlock()
	if d != nil {
		d.close()
	}
}

func (p *bluezPlatform) device(address string) (*bluezDevice, error) {
	if err := p.enabled(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.devices[address]
	if d == nil {
		return nil, errorf(ItemNotFound, "unknown device %s", address)
	}
	return d, nil
}

// watch follows property changes of the device. Any change other than the
// connection state means a new advertisement packet has been received.
func (d *bluezDevice) watch() {
	ch, err := d.dev.WatchProperties()
	if err != nil {
		// Assume the device has disappeared or something.
		return
	}
	d.mu.Lock()
	d.props = ch
	d.mu.Unlock()
	go func() {
		for change := range ch {
			if change == nil {
				return
			}
			if change.Interface != "org.bluez.Device1" {
				continue
			}
			// Update the device with the changed property.
			props, _ := d.dev.Properties.ToMap()
			props[change.Name] = change.Value
			d.dev.Properties, _ = d.dev.Properties.FromMap(props)

			switch change.Name {
			case "Connected":
				connected, _ := change.Value.(bool)
				d.connectionChanged(connected)
			case "ServicesResolved":
			default:
				if d.p.isScanning() {
					d.p.events.AdvertisementReceived(makeAdvertisement(d.dev))
				}
			}
		}
	}()
}

func (d *bluezDevice) connectionChanged(connected bool) {
	d.mu.Lock()
	was := d.connected
	d.connected = connected
	reconnect := !connected && was && d.autoReconnect && d.reconnect == nil
	if reconnect {
		d.reconnect = make(chan struct{})
	}
	stop := d.reconnect
	d.mu.Unlock()

	if connected == was {
		return
	}
	if !connected {
		d.stopNotifications()
	}
	d.p.events.ConnectionChanged(d.address, connected, nil)
	if reconnect {
		go d.reconnectLoop(stop)
	}
}

// reconnectLoop retries the connection with exponential backoff until it
// succeeds or stop is closed.
func (d *bluezDevice) reconnectLoop(stop chan struct{}) {
	delay := reconnectMinDelay
	for {
		select {
		case <-stop:
			return
		case <-d.p.ctx.Done():
			return
		case <-time.After(delay):
		}
		err := d.dev.Connect()
		if err == nil {
			d.mu.Lock()
			if d.reconnect == stop {
				d.reconnect = nil
			}
			d.mu.Unlock()
			return
		}
		d.p.log.WithError(err).WithField("device", d.address).Debug("reconnect failed")
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (d *bluezDevice) stopReconnect() {
	d.mu.Lock()
	if d.reconnect != nil {
		close(d.reconnect)
		d.reconnect = nil
	}
	d.mu.Unlock()
}

func (d *bluezDevice) close() {
	d.stopReconnect()
	d.stopNotifications()
	d.mu.Lock()
	props := d.props
	d.props = nil
	d.mu.Unlock()
	if props != nil {
		d.dev.UnwatchProperties(props)
	}
	d.dev.Close()
}

func (p *bluezPlatform) Connect(address string, attempt ConnectAttempt, autoReconnect bool) error {
	d, err := p.device(address)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.autoReconnect = autoReconnect
	d.mu.Unlock()
	go func() {
		if autoReconnect {
			if err := d.dev.SetTrusted(true); err != nil {
				p.log.WithError(err).WithField("device", address).Debug("failed to trust device")
			}
		}
		err := d.dev.Connect()
		if err == nil {
			d.mu.Lock()
			d.connected = true
			d.mu.Unlock()
		}
		p.events.ConnectResult(address, attempt, mapError(err))
	}()
	return nil
}

// CancelConnect aborts a pending connect. BlueZ has no dedicated call for
// this; Disconnect on a connecting device cancels the attempt.
func (p *bluezPlatform) CancelConnect(address string) error {
	d, err := p.device(address)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.autoReconnect = false
	d.mu.Unlock()
	d.stopReconnect()
	go d.dev.Disconnect()
	return nil
}

func (p *bluezPlatform) Disconnect(address string) error {
	d, err := p.device(address)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.autoReconnect = false
	d.mu.Unlock()
	d.stopReconnect()
	go func() {
		err := d.dev.Disconnect()
		p.events.DisconnectResult(address, mapError(err))
	}()
	return nil
}

// SetConnectionMode is not available: BlueZ does not expose connection
// parameters over D-Bus.
func (p *bluezPlatform) SetConnectionMode(address string, mode ConnectionMode) error {
	return errorf(NotImplemented, "connection parameters are managed by BlueZ")
}

func (p *bluezPlatform) Forget(address string) {
	p.untrack(address)
}

// makeAdvertisement creates an Advertisement from a Device1 object.
func makeAdvertisement(dev *device.Device1) Advertisement {
	var serviceUUIDs []UUID
	for _, s := range dev.Properties.UUIDs {
		if u, err := ParseUUID(s); err == nil {
			serviceUUIDs = append(serviceUUIDs, u)
		}
	}
	return Advertisement{
		Address:          dev.Properties.Address,
		Name:             dev.Properties.Name,
		ManufacturerData: encodeManufacturerData(dev.Properties.ManufacturerData),
		ServiceUUIDs:     serviceUUIDs,
		RSSI:             dev.Properties.RSSI,
	}
}

// encodeManufacturerData flattens the BlueZ company id to payload map into
// the advertised layout: little endian company id followed by the payload,
// ordered by company id.
func encodeManufacturerData(m map[uint16]interface{}) []byte {
	if len(m) == 0 {
		return nil
	}
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	var out []byte
	for _, id := range ids {
		out = append(out, byte(id), byte(id>>8))
		switch v := m[uint16(id)].(type) {
		case []byte:
			out = append(out, v...)
		case dbus.Variant:
			if b, ok := v.Value().([]byte); ok {
				out = append(out, b...)
			}
		}
	}
	return out
}

// addressFromPath extracts the device address from a BlueZ object path such
// as /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func addressFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return ""
	}
	s = strings.ReplaceAll(s[i+len("/dev_"):], "_", ":")
	if j := strings.IndexByte(s, '/'); j >= 0 {
		s = s[:j]
	}
	mac, err := ParseMAC(s)
	if err != nil {
		return s
	}
	return mac.String()
}
