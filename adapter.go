package gattcentral

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Central is the entry point of the package. It owns the device registry and
// forwards requests to a Platform. All methods must be called from the
// Central's Loop, and all callbacks run on it.
type Central struct {
	platform Platform
	loop     *Loop
	log      logrus.FieldLogger
	now      func() time.Time

	state  CentralState
	closed bool

	scan         scanPhase
	pendingStops int
	filter       UUIDFilter
	options      ScanOptions
	sweepGen     uint64

	devices  map[string]*Device
	order    []*Device
	attempts ConnectAttempt // last connect attempt issued, across devices

	handlers listeners[CentralHandler]
}

// Option configures a Central.
type Option func(*Central)

// WithPlatform selects the native stack. Without it NewCentral uses the
// default platform of the operating system.
func WithPlatform(p Platform) Option {
	return func(c *Central) { c.platform = p }
}

// WithLoop runs the Central on an existing loop.
func WithLoop(l *Loop) Option {
	return func(c *Central) { c.loop = l }
}

// WithLogger sets the logger. The default logger discards everything below
// the warning level.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Central) { c.log = l }
}

// WithClock replaces the clock used for advertisement timeouts.
func WithClock(now func() time.Time) Option {
	return func(c *Central) { c.now = now }
}

// NewCentral creates a Central and enables its platform. The central starts
// in StateInitializing; the platform reports the real state shortly after.
func NewCentral(opts ...Option) (*Central, error) {
	c := &Central{
		state:   StateInitializing,
		now:     time.Now,
		options: DefaultScanOptions(),
		devices: make(map[string]*Device),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		c.log = l
	}
	c.log = c.log.WithField("component", "central")
	if c.loop == nil {
		c.loop = NewLoop()
	}
	if c.platform == nil {
		p, err := DefaultPlatform(c.log)
		if err != nil {
			return nil, wrapError(Failed, err)
		}
		c.platform = p
	}
	if err := c.platform.Enable(&sink{c: c}); err != nil {
		return nil, wrapError(Failed, err)
	}
	return c, nil
}

// Loop returns the loop the Central runs on.
func (c *Central) Loop() *Loop {
	return c.loop
}

// State returns the current state of the central role.
func (c *Central) State() CentralState {
	return c.state
}

// AddHandler registers h and returns a function that unregisters it.
func (c *Central) AddHandler(h CentralHandler) (remove func()) {
	return c.handlers.add(h)
}

// Devices returns the registered devices in discovery order.
func (c *Central) Devices() []*Device {
	return append([]*Device(nil), c.order...)
}

// Device returns the registered device with the given identifier, or nil.
func (c *Central) Device(id string) *Device {
	return c.devices[id]
}

// RemoveDevice disconnects d if needed and removes it from the registry. The
// device and its attributes are unusable afterwards.
func (c *Central) RemoveDevice(d *Device) error {
	if err := c.checkDevice(d); err != nil {
		return err
	}
	c.removeDevice(d)
	return nil
}

// Close stops scanning, removes every device and closes the platform. Events
// reported by the platform afterwards are dropped.
func (c *Central) Close() error {
	if c.closed {
		return nil
	}
	if c.scan != scanIdle {
		if err := c.platform.StopScan(); err != nil {
			c.log.WithError(err).Warn("failed to stop scan on close")
		}
		c.setScanIdle()
		c.emitScanningStopped()
	}
	for _, d := range c.Devices() {
		c.removeDevice(d)
	}
	c.closed = true
	if err := c.platform.Close(); err != nil {
		return wrapError(Failed, err)
	}
	return nil
}

func (c *Central) emit(fn func(h CentralHandler)) {
	c.loop.Post(func() {
		c.handlers.each(fn)
	})
}

func (c *Central) checkDevice(d *Device) error {
	if c.closed {
		return errorf(InvalidState, "central is closed")
	}
	if d == nil {
		return errorf(InvalidArgument, "nil device")
	}
	if d.removed || c.devices[d.id] != d {
		return errorf(ItemNotFound, "device %s is not registered", d.id)
	}
	return nil
}

func (c *Central) addDevice(adv Advertisement) *Device {
	d := newDevice(c, adv, c.now())
	c.devices[d.id] = d
	c.order = append(c.order, d)
	c.log.WithFields(logrus.Fields{"device": d.id, "name": d.name, "rssi": d.rssi}).Debug("device added")
	c.emit(func(h CentralHandler) {
		if h.DeviceAdded != nil {
			h.DeviceAdded(d)
		}
	})
	return d
}

func (c *Central) removeDevice(d *Device) {
	switch d.state {
	case Connecting:
		if err := c.platform.CancelConnect(d.id); err != nil {
			c.log.WithError(err).WithField("device", d.id).Warn("failed to cancel connect")
		}
	case Connected, Disconnecting:
		if err := c.platform.Disconnect(d.id); err != nil {
			c.log.WithError(err).WithField("device", d.id).Warn("failed to disconnect")
		}
	}
	d.state = Disconnected
	d.teardownServices()
	d.removed = true
	d.handlers.clear()
	delete(c.devices, d.id)
	for i, o := range c.order {
		if o == d {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.platform.Forget(d.id)
	c.log.WithField("device", d.id).Debug("device removed")
	c.emit(func(h CentralHandler) {
		if h.DeviceRemoved != nil {
			h.DeviceRemoved(d)
		}
	})
}

func (c *Central) setState(state CentralState) {
	if state == c.state {
		return
	}
	c.log.WithFields(logrus.Fields{"from": c.state, "to": state}).Info("central state changed")
	c.state = state
	if state != StatePoweredOn && c.scan != scanIdle {
		if c.scan != scanStopping {
			if err := c.platform.StopScan(); err != nil {
				c.log.WithError(err).Debug("native scan already gone")
			}
		}
		// Stop confirmations still in flight belong to the lost scan.
		c.pendingStops = 0
		c.setScanIdle()
		c.emitScanningStopped()
	}
	c.emit(func(h CentralHandler) {
		if h.StateChanged != nil {
			h.StateChanged(state)
		}
	})
}
