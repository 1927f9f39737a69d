//go:build linux

package gattcentral

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/bluez"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"
)

const servicesResolvedTimeout = 10 * time.Second

// DiscoverServices waits for BlueZ to resolve the services of the device and
// reports the cached list.
func (p *bluezPlatform) DiscoverServices(address string) error {
	d, err := p.device(address)
	if err != nil {
		return err
	}
	go func() {
		services, err := d.discoverServices()
		p.events.ServicesDiscovered(address, services, mapError(err))
	}()
	return nil
}

func (d *bluezDevice) discoverServices() (services []ServiceInfo, err error) {
	defer recoverNative(&err)
	start := time.Now()
	for {
		resolved, err := d.dev.GetServicesResolved()
		if err != nil {
			return nil, err
		}
		if resolved {
			break
		}
		// BlueZ has no call to wait for this; poll instead.
		time.Sleep(10 * time.Millisecond)
		if time.Since(start) > servicesResolvedTimeout {
			return nil, errorf(Failed, "timeout waiting for services of %s", d.address)
		}
	}

	paths, err := childObjects(d.dev.Path(), "service")
	if err != nil {
		return nil, err
	}
	// BlueZ reuses object paths across reconnects. Every discovery starts a
	// new epoch so that results of requests on older objects never match.
	d.mu.Lock()
	d.epoch++
	epoch := d.epoch
	d.chars = make(map[Handle]*gatt.GattCharacteristic1)
	d.descs = make(map[Handle]*gatt.GattDescriptor1)
	d.mu.Unlock()
	for _, path := range paths {
		service, err := gatt.NewGattService1(path)
		if err != nil {
			return nil, err
		}
		uuid, err := ParseUUID(service.Properties.UUID)
		if err != nil {
			continue
		}
		info := ServiceInfo{
			Handle:  makeHandle(path, epoch),
			UUID:    uuid,
			Primary: service.Properties.Primary,
		}
		for _, inc := range service.Properties.Includes {
			info.Includes = append(info.Includes, makeHandle(dbus.ObjectPath(inc), epoch))
		}
		services = append(services, info)
	}
	return services, nil
}

func (p *bluezPlatform) DiscoverCharacteristics(address string, service Handle) error {
	d, err := p.device(address)
	if err != nil {
		return err
	}
	go func() {
		chars, err := d.discoverCharacteristics(service)
		p.events.CharacteristicsDiscovered(address, service, chars, mapError(err))
	}()
	return nil
}

func (d *bluezDevice) discoverCharacteristics(service Handle) (chars []CharacteristicInfo, err error) {
	defer recoverNative(&err)
	parent, epoch, err := d.resolveHandle(service)
	if err != nil {
		return nil, err
	}
	paths, err := childObjects(parent, "char")
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		characteristic, err := gatt.NewGattCharacteristic1(path)
		if err != nil {
			return nil, err
		}
		uuid, err := ParseUUID(characteristic.Properties.UUID)
		if err != nil {
			continue
		}
		d.mu.Lock()
		d.chars[makeHandle(path, epoch)] = characteristic
		d.mu.Unlock()
		chars = append(chars, CharacteristicInfo{
			Handle:     makeHandle(path, epoch),
			UUID:       uuid,
			Properties: PropertiesFromFlags(characteristic.Properties.Flags),
		})
	}
	return chars, nil
}

func (p *bluezPlatform) DiscoverDescriptors(address string, characteristic Handle) error {
	d, err := p.device(address)
	if err != nil {
		return err
	}
	go func() {
		descs, err := d.discoverDescriptors(characteristic)
		p.events.DescriptorsDiscovered(address, characteristic, descs, mapError(err))
	}()
	return nil
}

func (d *bluezDevice) discoverDescriptors(characteristic Handle) (descs []DescriptorInfo, err error) {
	defer recoverNative(&err)
	parent, epoch, err := d.resolveHandle(characteristic)
	if err != nil {
		return nil, err
	}
	paths, err := childObjects(parent, "desc")
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		descriptor, err := gatt.NewGattDescriptor1(path)
		if err != nil {
			return nil, err
		}
		uuid, err := ParseUUID(descriptor.Properties.UUID)
		if err != nil {
			continue
		}
		d.mu.Lock()
		d.descs[makeHandle(path, epoch)] = descriptor
		d.mu.Unlock()
		descs = append(descs, DescriptorInfo{Handle: makeHandle(path, epoch), UUID: uuid})
	}
	return descs, nil
}

// makeHandle tags an object path with the discovery epoch it was found in.
func makeHandle(path dbus.ObjectPath, epoch uint64) Handle {
	return Handle(string(path) + "#" + strconv.FormatUint(epoch, 10))
}

// splitHandle is the inverse of makeHandle.
func splitHandle(h Handle) (dbus.ObjectPath, uint64, bool) {
	i := strings.LastIndexByte(string(h), '#')
	if i < 0 {
		return "", 0, false
	}
	epoch, err := strconv.ParseUint(string(h[i+1:]), 10, 64)
	if err != nil {
		return "", 0, false
	}
	return dbus.ObjectPath(h[:i]), epoch, true
}

// resolveHandle returns the object path of h if it belongs to the current
// discovery epoch.
func (d *bluezDevice) resolveHandle(h Handle) (dbus.ObjectPath, uint64, error) {
	path, epoch, ok := splitHandle(h)
	if !ok {
		return "", 0, errorf(InvalidArgument, "malformed handle %s", h)
	}
	d.mu.Lock()
	current := d.epoch
	d.mu.Unlock()
	if epoch != current {
		return "", 0, errorf(ItemNotFound, "stale handle %s", h)
	}
	return path, epoch, nil
}

// childObjects lists the objects managed by BlueZ that are direct children of
// parent and whose name starts with kind, sorted by path.
func childObjects(parent dbus.ObjectPath, kind string) ([]dbus.ObjectPath, error) {
	om, err := bluez.GetObjectManager()
	if err != nil {
		return nil, err
	}
	list, err := om.GetManagedObjects()
	if err != nil {
		return nil, err
	}
	prefix := string(parent) + "/"
	objects := make([]string, 0, len(list))
	for objectPath := range list {
		path := string(objectPath)
		if !strings.HasPrefix(path, prefix+kind) {
			continue
		}
		if strings.Contains(path[len(prefix):], "/") {
			continue
		}
		objects = append(objects, path)
	}
	sort.Strings(objects)
	paths := make([]dbus.ObjectPath, len(objects))
	for i, o := range objects {
		paths[i] = dbus.ObjectPath(o)
	}
	return paths, nil
}

func (d *bluezDevice) characteristic(h Handle) (*gatt.GattCharacteristic1, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.chars[h]
	if c == nil {
		return nil, errorf(ItemNotFound, "unknown characteristic %s", h)
	}
	return c, nil
}

func (d *bluezDevice) descriptor(h Handle) (*gatt.GattDescriptor1, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc := d.descs[h]
	if desc == nil {
		return nil, errorf(ItemNotFound, "unknown descriptor %s", h)
	}
	return desc, nil
}

func (p *bluezPlatform) ReadCharacteristic(address string, characteristic Handle) error {
	d, err := p.device(address)
	if err != nil {
		return err
	}
	c, err := d.characteristic(characteristic)
	if err != nil {
		return err
	}
	go func() {
		value, err := c.ReadValue(map[string]interface{}{})
		p.events.CharacteristicRead(address, characteristic, value, mapError(err))
	}()
	return nil
}

// WriteCharacteristic writes with a write request or, without response, a
// write command.
func (p *bluezPlatform) WriteCharacteristic(address string, characteristic Handle, value []byte, withResponse bool) error {
	d, err := p.device(address)
	if err != nil {
		return err
	}
	c, err := d.characteristic(characteristic)
	if err != nil {
		return err
	}
	options := map[string]interface{}{"type": "request"}
	if !withResponse {
		options["type"] = "command"
	}
	go func() {
		err := c.WriteValue(value, options)
		p.events.CharacteristicWritten(address, characteristic, mapError(err))
	}()
	return nil
}

// SetNotify toggles notifications. Values arrive as changes of the Value
// property of the characteristic.
func (p *bluezPlatform) SetNotify(address string, characteristic Handle, enabled bool) error {
	d, err := p.device(address)
	if err != nil {
		return err
	}
	c, err := d.characteristic(characteristic)
	if err != nil {
		return err
	}
	if !enabled {
		go func() {
			err := c.StopNotify()
			d.unwatchValue(characteristic)
			p.events.NotifyStateChanged(address, characteristic, false, mapError(err))
		}()
		return nil
	}

	ch, err := c.WatchProperties()
	if err != nil {
		return mapError(err)
	}
	d.mu.Lock()
	if old := d.notify[characteristic]; old != nil {
		c.UnwatchProperties(old)
	}
	d.notify[characteristic] = ch
	d.mu.Unlock()
	go func() {
		for update := range ch {
			if update == nil {
				return
			}
			if update.Interface == "org.bluez.GattCharacteristic1" && update.Name == "Value" {
				if value, ok := update.Value.([]byte); ok {
					p.events.CharacteristicChanged(address, characteristic, value)
				}
			}
		}
	}()
	go func() {
		err := c.StartNotify()
		if err != nil {
			d.unwatchValue(characteristic)
		}
		p.events.NotifyStateChanged(address, characteristic, err == nil, mapError(err))
	}()
	return nil
}

func (d *bluezDevice) unwatchValue(h Handle) {
	d.mu.Lock()
	ch := d.notify[h]
	delete(d.notify, h)
	c := d.chars[h]
	d.mu.Unlock()
	if ch != nil && c != nil {
		c.UnwatchProperties(ch)
	}
}

// stopNotifications drops every value watcher; BlueZ stops notifying when
// the connection ends.
func (d *bluezDevice) stopNotifications() {
	d.mu.Lock()
	handles := make([]Handle, 0, len(d.notify))
	for h := range d.notify {
		handles = append(handles, h)
	}
	d.mu.Unlock()
	for _, h := range handles {
		d.unwatchValue(h)
	}
}

func (p *bluezPlatform) ReadDescriptor(address string, descriptor Handle) error {
	d, err := p.device(address)
	if err != nil {
		return err
	}
	desc, err := d.descriptor(descriptor)
	if err != nil {
		return err
	}
	go func() {
		value, err := desc.ReadValue(map[string]interface{}{})
		p.events.DescriptorRead(address, descriptor, value, mapError(err))
	}()
	return nil
}

func (p *bluezPlatform) WriteDescriptor(address string, descriptor Handle, value []byte) error {
	d, err := p.device(address)
	if err != nil {
		return err
	}
	desc, err := d.descriptor(descriptor)
	if err != nil {
		return err
	}
	go func() {
		err := desc.WriteValue(value, map[string]interface{}{})
		p.events.DescriptorWritten(address, descriptor, mapError(err))
	}()
	return nil
}
