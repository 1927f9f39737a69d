package gattcentral

import (
	"bytes"
	"time"

	"github.com/sirupsen/logrus"
)

type scanPhase int

const (
	scanIdle scanPhase = iota
	scanStarting
	scanActive
	scanStopping
)

// minSweepInterval bounds how often stale devices are looked for.
const minSweepInterval = 100 * time.Millisecond

// IsScanning reports whether a scan has been requested and not stopped.
func (c *Central) IsScanning() bool {
	return c.scan == scanStarting || c.scan == scanActive
}

// StartScanning starts discovering devices that advertise all services in
// filter. An empty filter matches every device. Devices that are not
// connected are dropped from the registry first. Calling StartScanning while
// a scan is running restarts it with the new parameters.
func (c *Central) StartScanning(filter UUIDFilter, options ScanOptions) error {
	if c.closed {
		return errorf(InvalidState, "central is closed")
	}
	if c.state != StatePoweredOn {
		return errorf(Failed, "central is %s", c.state)
	}
	if options.AdvertisementTimeout < 0 {
		return errorf(InvalidArgument, "negative advertisement timeout")
	}
	if c.scan != scanIdle {
		// A scan that is already stopping has its native stop in flight.
		if c.scan != scanStopping {
			if err := c.platform.StopScan(); err != nil {
				c.log.WithError(err).Warn("failed to stop scan before restart")
			} else {
				c.pendingStops++
			}
		}
		c.setScanIdle()
	}

	for _, d := range c.Devices() {
		if d.state == Disconnected && !d.reconnecting {
			c.removeDevice(d)
		}
	}

	c.filter = filter.clone()
	c.options = options
	if err := c.platform.StartScan(c.filter, options); err != nil {
		return wrapError(Failed, err)
	}
	c.scan = scanStarting
	c.log.WithFields(logrus.Fields{
		"filter":  c.filter,
		"mode":    options.Mode,
		"timeout": options.AdvertisementTimeout,
	}).Debug("scan requested")
	c.scheduleSweep()
	return nil
}

// StopScanning stops a running scan. ScanningStopped is reported once the
// platform confirms.
func (c *Central) StopScanning() error {
	if c.closed {
		return errorf(InvalidState, "central is closed")
	}
	if !c.IsScanning() {
		return errorf(InvalidState, "not scanning")
	}
	if err := c.platform.StopScan(); err != nil {
		return wrapError(Failed, err)
	}
	c.pendingStops++
	c.scan = scanStopping
	c.sweepGen++
	return nil
}

func (c *Central) setScanIdle() {
	c.scan = scanIdle
	c.sweepGen++
}

func (c *Central) emitScanningStopped() {
	c.emit(func(h CentralHandler) {
		if h.ScanningStopped != nil {
			h.ScanningStopped()
		}
	})
}

func (c *Central) scheduleSweep() {
	timeout := c.options.AdvertisementTimeout
	if timeout <= 0 {
		return
	}
	interval := timeout / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	c.sweepGen++
	gen := c.sweepGen
	c.loop.AfterFunc(interval, func() {
		if c.closed || gen != c.sweepGen {
			return
		}
		c.evictStale()
		c.scheduleSweep()
	})
}

// evictStale removes devices that are neither connected nor waiting for an
// automatic reconnect and have not advertised within the timeout.
func (c *Central) evictStale() {
	timeout := c.options.AdvertisementTimeout
	if timeout <= 0 {
		return
	}
	now := c.now()
	for _, d := range c.Devices() {
		if d.state != Disconnected || d.reconnecting {
			continue
		}
		if now.Sub(d.lastSeen) >= timeout {
			c.log.WithField("device", d.id).Debug("advertisement timed out")
			c.removeDevice(d)
		}
	}
}

func (c *Central) onScanStarted() {
	if c.scan != scanStarting {
		return
	}
	c.scan = scanActive
	c.log.Info("scanning started")
	c.emit(func(h CentralHandler) {
		if h.ScanningStarted != nil {
			h.ScanningStarted()
		}
	})
}

func (c *Central) onScanStopped(err error) {
	if c.pendingStops > 0 {
		c.pendingStops--
		if c.scan == scanStopping {
			c.setScanIdle()
		}
		c.log.Info("scanning stopped")
		c.emitScanningStopped()
		return
	}
	if c.scan == scanIdle {
		return
	}
	c.log.WithError(err).Warn("scan stopped by platform")
	c.setScanIdle()
	c.emitScanningStopped()
}

func (c *Central) onAdvertisement(adv Advertisement) {
	if adv.Address == "" || !c.IsScanning() {
		return
	}
	d := c.devices[adv.Address]
	if d == nil {
		if !c.filter.MatchesAll(adv.ServiceUUIDs) {
			return
		}
		c.addDevice(adv)
		return
	}
	if d.update(adv, c.now()) {
		c.emit(func(h CentralHandler) {
			if h.DeviceUpdated != nil {
				h.DeviceUpdated(d)
			}
		})
	}
}

func (c *Central) onPeerLost(address string) {
	d := c.devices[address]
	if d == nil || d.state != Disconnected || d.reconnecting {
		return
	}
	c.removeDevice(d)
}

// ConnectAsync connects to d. ConnectCompleted reports the outcome. With
// autoReconnect the platform restores the connection after unsolicited
// drops, which is reported through ConnectionRestored.
func (c *Central) ConnectAsync(d *Device, autoReconnect bool) error {
	if err := c.checkDevice(d); err != nil {
		return err
	}
	if c.state != StatePoweredOn {
		return errorf(Failed, "central is %s", c.state)
	}
	if d.state != Disconnected {
		return errorf(InvalidState, "device %s is %s", d.id, d.state)
	}
	d.setState(Connecting)
	d.autoReconnect = autoReconnect
	d.reconnecting = false
	c.attempts++
	d.attempt = c.attempts
	if err := c.platform.Connect(d.id, d.attempt, autoReconnect); err != nil {
		d.setState(Disconnected)
		d.autoReconnect = false
		return wrapError(Failed, err)
	}
	return nil
}

// DisconnectAsync disconnects d or cancels a pending connect.
// DisconnectCompleted reports the outcome.
func (c *Central) DisconnectAsync(d *Device) error {
	if err := c.checkDevice(d); err != nil {
		return err
	}
	switch d.state {
	case Connecting:
		if err := c.platform.CancelConnect(d.id); err != nil {
			c.log.WithError(err).WithField("device", d.id).Warn("failed to cancel connect")
		}
		d.autoReconnect = false
		d.setState(Disconnected)
		c.emitDisconnectCompleted(d, nil)
		return nil
	case Connected:
		d.setState(Disconnecting)
		if err := c.platform.Disconnect(d.id); err != nil {
			d.setState(Connected)
			return wrapError(Failed, err)
		}
		d.autoReconnect = false
		return nil
	default:
		return errorf(InvalidState, "device %s is %s", d.id, d.state)
	}
}

func (c *Central) emitConnectCompleted(d *Device, err error) {
	c.emit(func(h CentralHandler) {
		if h.ConnectCompleted != nil {
			h.ConnectCompleted(d, err)
		}
	})
}

func (c *Central) emitDisconnectCompleted(d *Device, err error) {
	c.emit(func(h CentralHandler) {
		if h.DisconnectCompleted != nil {
			h.DisconnectCompleted(d, err)
		}
	})
}

func (c *Central) onConnectResult(address string, attempt ConnectAttempt, err error) {
	d := c.devices[address]
	if d == nil {
		return
	}
	if attempt != d.attempt {
		// A newer attempt owns the device. Its own result decides.
		c.log.WithFields(logrus.Fields{"device": address, "attempt": attempt}).Debug("dropping result of a cancelled connect")
		if err == nil && d.state == Disconnected && !d.reconnecting {
			c.dropCancelledConnection(d)
		}
		return
	}
	switch d.state {
	case Connecting:
		if err != nil {
			d.autoReconnect = false
			d.setState(Disconnected)
			c.emitConnectCompleted(d, wrapError(Failed, err))
			return
		}
		d.setState(Connected)
		c.emitConnectCompleted(d, nil)
	case Disconnected:
		if err == nil && !d.reconnecting {
			c.dropCancelledConnection(d)
		}
	}
}

// dropCancelledConnection disconnects a link whose connect was cancelled
// but completed natively anyway.
func (c *Central) dropCancelledConnection(d *Device) {
	if err := c.platform.Disconnect(d.id); err != nil {
		c.log.WithError(err).WithField("device", d.id).Warn("failed to drop cancelled connection")
	}
}

func (c *Central) onDisconnectResult(address string, err error) {
	d := c.devices[address]
	if d == nil || d.state != Disconnecting {
		return
	}
	if err != nil {
		d.setState(Connected)
		c.emitDisconnectCompleted(d, wrapError(Failed, err))
		return
	}
	d.setState(Disconnected)
	c.emitDisconnectCompleted(d, nil)
}

func (c *Central) onConnectionChanged(address string, connected bool, err error) {
	d := c.devices[address]
	if d == nil {
		return
	}
	if connected {
		if d.state == Disconnected && d.autoReconnect {
			d.reconnecting = false
			d.setState(Connected)
			c.emit(func(h CentralHandler) {
				if h.ConnectionRestored != nil {
					h.ConnectionRestored(d)
				}
			})
		}
		return
	}
	switch d.state {
	case Connected:
		c.connectionLost(d, err)
	case Disconnecting:
		c.onDisconnectResult(address, nil)
	}
}

// connectionLost handles an unsolicited drop. Devices connected with
// autoReconnect stay registered while the platform reconnects.
func (c *Central) connectionLost(d *Device, err error) {
	if err != nil {
		err = wrapError(Failed, err)
	}
	d.setState(Disconnected)
	c.log.WithError(err).WithField("device", d.id).Warn("connection lost")
	c.emit(func(h CentralHandler) {
		if h.ConnectionLost != nil {
			h.ConnectionLost(d, err)
		}
	})
	if d.autoReconnect {
		d.reconnecting = true
		d.lastSeen = c.now()
		return
	}
	c.removeDevice(d)
}

// update merges an advertisement for a known device and reports whether a
// change worth announcing happened.
func (d *Device) update(adv Advertisement, now time.Time) bool {
	d.lastSeen = now
	d.rssi = adv.RSSI
	if len(adv.ServiceUUIDs) > 0 {
		d.serviceUUIDs = append([]UUID(nil), adv.ServiceUUIDs...)
	}
	changed := false
	if adv.Name != "" && adv.Name != d.name {
		d.name = adv.Name
		changed = true
	}
	if adv.ManufacturerData != nil && !bytes.Equal(adv.ManufacturerData, d.manufacturerData) {
		d.manufacturerData = append([]byte(nil), adv.ManufacturerData...)
		changed = true
	}
	return changed
}
