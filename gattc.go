package gattcentral

import (
	"github.com/sirupsen/logrus"
)

// Service is a GATT service of a connected device. It is valid until the
// connection ends or the services are rediscovered.
type Service struct {
	device   *Device
	handle   Handle
	uuid     UUID
	primary  bool
	includes []Handle
	included []*Service
	dead     bool

	characteristics []*Characteristic
	charsResolved   bool
	charsPending    bool
	charsFilter     UUIDFilter

	handlers listeners[ServiceHandler]
}

func newService(d *Device, info ServiceInfo) *Service {
	return &Service{
		device:   d,
		handle:   info.Handle,
		uuid:     info.UUID,
		primary:  info.Primary,
		includes: append([]Handle(nil), info.Includes...),
	}
}

// UUID returns the UUID of this service.
func (s *Service) UUID() UUID { return s.uuid }

// Device returns the device this service belongs to.
func (s *Service) Device() *Device { return s.device }

// IsPrimary reports whether this is a primary service.
func (s *Service) IsPrimary() bool { return s.primary }

// IsValid reports whether the service may still be used.
func (s *Service) IsValid() bool { return !s.dead && s.device.IsValid() }

// IncludedServices returns the services included by this service.
func (s *Service) IncludedServices() []*Service {
	return append([]*Service(nil), s.included...)
}

// NumIncludedServices returns the number of included services.
func (s *Service) NumIncludedServices() int { return len(s.included) }

// IncludedService returns the included service at index i, or nil when i is
// out of range.
func (s *Service) IncludedService(i int) *Service {
	if i < 0 || i >= len(s.included) {
		return nil
	}
	return s.included[i]
}

// Characteristics returns the characteristics found by the last successful
// discovery, unfiltered.
func (s *Service) Characteristics() []*Characteristic {
	return append([]*Characteristic(nil), s.characteristics...)
}

// AddHandler registers h and returns a function that unregisters it.
func (s *Service) AddHandler(h ServiceHandler) (remove func()) {
	return s.handlers.add(h)
}

// GetCharacteristicsAsync discovers the characteristics of this service.
// CharacteristicsDiscovered receives the ones whose UUID is in filter, or
// all of them for an empty filter. Results are cached per service.
func (s *Service) GetCharacteristicsAsync(filter UUIDFilter) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.charsPending {
		return errorf(InvalidState, "characteristic discovery in progress")
	}
	filter = filter.clone()
	if s.charsResolved {
		s.emitCharacteristics(selectCharacteristics(s.characteristics, filter), nil)
		return nil
	}
	d := s.device
	if err := d.central.platform.DiscoverCharacteristics(d.id, s.handle); err != nil {
		return wrapError(Failed, err)
	}
	s.charsPending = true
	s.charsFilter = filter
	return nil
}

func (s *Service) check() error {
	if err := s.device.checkConnected(); err != nil {
		return err
	}
	if s.dead {
		return errorf(InvalidState, "service %s is no longer valid", s.uuid)
	}
	return nil
}

func (s *Service) resolveIncludes() {
	for _, h := range s.includes {
		if inc := s.device.serviceIndex[h]; inc != nil && inc != s {
			s.included = append(s.included, inc)
		}
	}
}

func (s *Service) teardown() {
	s.dead = true
	s.charsPending = false
	s.dropCharacteristics()
	s.handlers.clear()
}

func (s *Service) dropCharacteristics() {
	for _, c := range s.characteristics {
		c.teardown()
		delete(s.device.characteristicIndex, c.handle)
	}
	s.characteristics = nil
	s.charsResolved = false
}

func (s *Service) emitCharacteristics(chars []*Characteristic, err error) {
	s.device.central.loop.Post(func() {
		if s.dead {
			return
		}
		s.handlers.each(func(h ServiceHandler) {
			if h.CharacteristicsDiscovered != nil {
				h.CharacteristicsDiscovered(chars, err)
			}
		})
	})
}

func (s *Service) onCharacteristicsDiscovered(infos []CharacteristicInfo, err error) {
	if !s.charsPending {
		return
	}
	s.charsPending = false
	filter := s.charsFilter
	s.charsFilter = nil
	if err != nil {
		s.emitCharacteristics(nil, wrapError(Failed, err))
		return
	}
	s.dropCharacteristics()
	for _, info := range infos {
		if _, dup := s.device.characteristicIndex[info.Handle]; dup {
			continue
		}
		c := &Characteristic{
			service: s,
			handle:  info.Handle,
			uuid:    info.UUID,
			props:   info.Properties,
		}
		s.device.characteristicIndex[info.Handle] = c
		s.characteristics = append(s.characteristics, c)
	}
	s.charsResolved = true
	s.device.central.log.WithFields(logrus.Fields{
		"device":  s.device.id,
		"service": s.uuid,
		"count":   len(s.characteristics),
	}).Debug("characteristics discovered")
	s.emitCharacteristics(selectCharacteristics(s.characteristics, filter), nil)
}

func selectCharacteristics(chars []*Characteristic, filter UUIDFilter) []*Characteristic {
	out := make([]*Characteristic, 0, len(chars))
	for _, c := range chars {
		if filter.Matches(c.uuid) {
			out = append(out, c)
		}
	}
	return out
}

type subscription int

const (
	subscriptionIdle subscription = iota
	subscriptionEnabling
	subscriptionDisabling
)

// Characteristic is a GATT characteristic of a connected device.
type Characteristic struct {
	service *Service
	handle  Handle
	uuid    UUID
	props   CharacteristicProperties
	dead    bool

	readPending  bool
	writePending bool
	subscribed   bool
	subPending   subscription

	descriptors   []*Descriptor
	descsResolved bool
	descsPending  bool
	descsFilter   UUIDFilter

	handlers listeners[CharacteristicHandler]
}

// UUID returns the UUID of this characteristic.
func (c *Characteristic) UUID() UUID { return c.uuid }

// Service returns the service this characteristic belongs to.
func (c *Characteristic) Service() *Service { return c.service }

// Properties returns the GATT properties declared by the peer.
func (c *Characteristic) Properties() CharacteristicProperties { return c.props }

// IsSubscribed reports whether notifications are enabled.
func (c *Characteristic) IsSubscribed() bool { return c.subscribed }

// IsValid reports whether the characteristic may still be used.
func (c *Characteristic) IsValid() bool { return !c.dead && c.service.IsValid() }

// Descriptors returns the descriptors found by the last successful
// discovery, unfiltered.
func (c *Characteristic) Descriptors() []*Descriptor {
	return append([]*Descriptor(nil), c.descriptors...)
}

// AddHandler registers h and returns a function that unregisters it.
func (c *Characteristic) AddHandler(h CharacteristicHandler) (remove func()) {
	return c.handlers.add(h)
}

func (c *Characteristic) check() error {
	if err := c.service.device.checkConnected(); err != nil {
		return err
	}
	if c.dead {
		return errorf(InvalidState, "characteristic %s is no longer valid", c.uuid)
	}
	return nil
}

func (c *Characteristic) address() string { return c.service.device.id }

func (c *Characteristic) platform() Platform { return c.service.device.central.platform }

// ReadAsync reads the value of the characteristic. ReadCompleted reports the
// value. Only one read may be outstanding.
func (c *Characteristic) ReadAsync() error {
	if err := c.check(); err != nil {
		return err
	}
	if c.readPending {
		return errorf(InvalidState, "read in progress")
	}
	if err := c.platform().ReadCharacteristic(c.address(), c.handle); err != nil {
		return wrapError(Failed, err)
	}
	c.readPending = true
	return nil
}

// WriteAsync writes value. A write request is used unless the
// characteristic only supports writes without response. WriteCompleted
// reports the outcome. Only one write may be outstanding.
func (c *Characteristic) WriteAsync(value []byte) error {
	if err := c.check(); err != nil {
		return err
	}
	if c.writePending {
		return errorf(InvalidState, "write in progress")
	}
	withResponse := !(c.props.Has(PropertyWriteWithoutResponse) && !c.props.Has(PropertyWrite))
	value = append([]byte(nil), value...)
	if err := c.platform().WriteCharacteristic(c.address(), c.handle, value, withResponse); err != nil {
		return wrapError(Failed, err)
	}
	c.writePending = true
	return nil
}

// SubscribeAsync enables notifications or indications. SubscribeCompleted
// reports the outcome; subscribing twice succeeds without a native request.
func (c *Characteristic) SubscribeAsync() error {
	return c.setNotify(true)
}

// UnsubscribeAsync disables notifications. UnsubscribeCompleted reports the
// outcome.
func (c *Characteristic) UnsubscribeAsync() error {
	return c.setNotify(false)
}

func (c *Characteristic) setNotify(enabled bool) error {
	if err := c.check(); err != nil {
		return err
	}
	if c.subPending != subscriptionIdle {
		return errorf(InvalidState, "subscription change in progress")
	}
	if c.subscribed == enabled {
		c.emitSubscription(enabled, nil)
		return nil
	}
	if err := c.platform().SetNotify(c.address(), c.handle, enabled); err != nil {
		return wrapError(Failed, err)
	}
	if enabled {
		c.subPending = subscriptionEnabling
	} else {
		c.subPending = subscriptionDisabling
	}
	return nil
}

// GetDescriptorsAsync discovers the descriptors of this characteristic.
// DescriptorsDiscovered receives the ones whose UUID is in filter.
func (c *Characteristic) GetDescriptorsAsync(filter UUIDFilter) error {
	if err := c.check(); err != nil {
		return err
	}
	if c.descsPending {
		return errorf(InvalidState, "descriptor discovery in progress")
	}
	filter = filter.clone()
	if c.descsResolved {
		c.emitDescriptors(selectDescriptors(c.descriptors, filter), nil)
		return nil
	}
	if err := c.platform().DiscoverDescriptors(c.address(), c.handle); err != nil {
		return wrapError(Failed, err)
	}
	c.descsPending = true
	c.descsFilter = filter
	return nil
}

func (c *Characteristic) teardown() {
	c.dead = true
	c.readPending = false
	c.writePending = false
	c.subscribed = false
	c.subPending = subscriptionIdle
	c.descsPending = false
	c.dropDescriptors()
	c.handlers.clear()
}

func (c *Characteristic) dropDescriptors() {
	for _, d := range c.descriptors {
		d.teardown()
		delete(c.service.device.descriptorIndex, d.handle)
	}
	c.descriptors = nil
	c.descsResolved = false
}

func (c *Characteristic) post(fn func(h CharacteristicHandler)) {
	c.service.device.central.loop.Post(func() {
		if c.dead {
			return
		}
		c.handlers.each(fn)
	})
}

func (c *Characteristic) emitSubscription(enabled bool, err error) {
	c.post(func(h CharacteristicHandler) {
		if enabled && h.SubscribeCompleted != nil {
			h.SubscribeCompleted(err)
		}
		if !enabled && h.UnsubscribeCompleted != nil {
			h.UnsubscribeCompleted(err)
		}
	})
}

func (c *Characteristic) emitDescriptors(descs []*Descriptor, err error) {
	c.post(func(h CharacteristicHandler) {
		if h.DescriptorsDiscovered != nil {
			h.DescriptorsDiscovered(descs, err)
		}
	})
}

func (c *Characteristic) onRead(value []byte, err error) {
	if !c.readPending {
		return
	}
	c.readPending = false
	if err != nil {
		value, err = nil, wrapError(Failed, err)
	} else {
		value = append([]byte{}, value...)
	}
	c.post(func(h CharacteristicHandler) {
		if h.ReadCompleted != nil {
			h.ReadCompleted(value, err)
		}
	})
}

func (c *Characteristic) onWritten(err error) {
	if !c.writePending {
		return
	}
	c.writePending = false
	if err != nil {
		err = wrapError(Failed, err)
	}
	c.post(func(h CharacteristicHandler) {
		if h.WriteCompleted != nil {
			h.WriteCompleted(err)
		}
	})
}

func (c *Characteristic) onNotifyState(enabled bool, err error) {
	pending := c.subPending
	c.subPending = subscriptionIdle
	if err == nil {
		c.subscribed = enabled
	}
	switch pending {
	case subscriptionEnabling:
		if err == nil && !enabled {
			err = errorf(Failed, "peer did not enable notifications")
		}
		if err != nil {
			err = wrapError(Failed, err)
		}
		c.emitSubscription(true, err)
	case subscriptionDisabling:
		if err == nil && enabled {
			err = errorf(Failed, "peer did not disable notifications")
		}
		if err != nil {
			err = wrapError(Failed, err)
		}
		c.emitSubscription(false, err)
	}
}

func (c *Characteristic) onChanged(value []byte) {
	if !c.subscribed {
		return
	}
	value = append([]byte{}, value...)
	c.post(func(h CharacteristicHandler) {
		if h.NotificationReceived != nil {
			h.NotificationReceived(value)
		}
	})
}

func (c *Characteristic) onDescriptorsDiscovered(infos []DescriptorInfo, err error) {
	if !c.descsPending {
		return
	}
	c.descsPending = false
	filter := c.descsFilter
	c.descsFilter = nil
	if err != nil {
		c.emitDescriptors(nil, wrapError(Failed, err))
		return
	}
	c.dropDescriptors()
	index := c.service.device.descriptorIndex
	for _, info := range infos {
		if _, dup := index[info.Handle]; dup {
			continue
		}
		d := &Descriptor{characteristic: c, handle: info.Handle, uuid: info.UUID}
		index[info.Handle] = d
		c.descriptors = append(c.descriptors, d)
	}
	c.descsResolved = true
	c.emitDescriptors(selectDescriptors(c.descriptors, filter), nil)
}

func selectDescriptors(descs []*Descriptor, filter UUIDFilter) []*Descriptor {
	out := make([]*Descriptor, 0, len(descs))
	for _, d := range descs {
		if filter.Matches(d.uuid) {
			out = append(out, d)
		}
	}
	return out
}

// Descriptor is a GATT descriptor of a connected device.
type Descriptor struct {
	characteristic *Characteristic
	handle         Handle
	uuid           UUID
	dead           bool

	readPending  bool
	writePending bool

	handlers listeners[DescriptorHandler]
}

// UUID returns the descriptor type.
func (d *Descriptor) UUID() UUID { return d.uuid }

// Characteristic returns the characteristic the descriptor belongs to.
func (d *Descriptor) Characteristic() *Characteristic { return d.characteristic }

// IsValid reports whether the descriptor can still be used. Descriptors die
// with their characteristic.
func (d *Descriptor) IsValid() bool { return !d.dead && d.characteristic.IsValid() }

// AddHandler registers h and returns a function that unregisters it.
func (d *Descriptor) AddHandler(h DescriptorHandler) (remove func()) {
	return d.handlers.add(h)
}

func (d *Descriptor) check() error {
	if err := d.characteristic.check(); err != nil {
		return err
	}
	if d.dead {
		return errorf(InvalidState, "descriptor %s is no longer valid", d.uuid)
	}
	return nil
}

// ReadAsync reads the descriptor value.
func (d *Descriptor) ReadAsync() error {
	if err := d.check(); err != nil {
		return err
	}
	if d.readPending {
		return errorf(InvalidState, "read in progress")
	}
	c := d.characteristic
	if err := c.platform().ReadDescriptor(c.address(), d.handle); err != nil {
		return wrapError(Failed, err)
	}
	d.readPending = true
	return nil
}

// WriteAsync writes the descriptor value.
func (d *Descriptor) WriteAsync(value []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	if d.writePending {
		return errorf(InvalidState, "write in progress")
	}
	c := d.characteristic
	if err := c.platform().WriteDescriptor(c.address(), d.handle, append([]byte(nil), value...)); err != nil {
		return wrapError(Failed, err)
	}
	d.writePending = true
	return nil
}

func (d *Descriptor) teardown() {
	d.dead = true
	d.readPending = false
	d.writePending = false
	d.handlers.clear()
}

func (d *Descriptor) post(fn func(h DescriptorHandler)) {
	d.characteristic.service.device.central.loop.Post(func() {
		if d.dead {
			return
		}
		d.handlers.each(fn)
	})
}

func (d *Descriptor) onRead(value []byte, err error) {
	if !d.readPending {
		return
	}
	d.readPending = false
	if err != nil {
		value, err = nil, wrapError(Failed, err)
	} else {
		value = append([]byte{}, value...)
	}
	d.post(func(h DescriptorHandler) {
		if h.ReadCompleted != nil {
			h.ReadCompleted(value, err)
		}
	})
}

func (d *Descriptor) onWritten(err error) {
	if !d.writePending {
		return
	}
	d.writePending = false
	if err != nil {
		err = wrapError(Failed, err)
	}
	d.post(func(h DescriptorHandler) {
		if h.WriteCompleted != nil {
			h.WriteCompleted(err)
		}
	})
}
