//go:build linux

// Some documentation for the BlueZ D-Bus interface:
// https://git.kernel.org/pub/scm/bluetooth/bluez.git/tree/doc

package gattcentral

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/api"
	"github.com/muka/go-bluetooth/bluez"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/sirupsen/logrus"
)

// bluezPlatform talks to BlueZ over the system D-Bus. Every blocking D-Bus
// call runs in its own goroutine and reports back through the events sink.
type bluezPlatform struct {
	log    logrus.FieldLogger
	events PlatformEvents

	adapter *adapter.Adapter1
	id      string

	ctx         context.Context             // context for our event watchers, canceled on Close
	cancel      context.CancelFunc          // cancel function to halt our event watcher context
	propchanged chan *bluez.PropertyChanged // channel that adapter property changes will show up on

	mu         sync.Mutex
	devices    map[string]*bluezDevice
	cancelScan func()
}

// DefaultPlatform returns the BlueZ platform.
func DefaultPlatform(log logrus.FieldLogger) (Platform, error) {
	return &bluezPlatform{
		log:     log.WithField("platform", "bluez"),
		devices: make(map[string]*bluezDevice),
	}, nil
}

// Enable connects to the default adapter. A missing adapter is reported as
// StateNotSupported rather than as an error, so that the central can still
// be created on machines without Bluetooth.
func (p *bluezPlatform) Enable(events PlatformEvents) (err error) {
	p.events = events
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.adapter, err = api.GetDefaultAdapter()
	if err != nil {
		p.log.WithError(err).Warn("no default adapter")
		events.StateChanged(stateFromEnableError(err))
		return nil
	}
	p.id, err = p.adapter.GetAdapterID()
	if err != nil {
		return err
	}
	if err := p.watchForStateChange(); err != nil {
		return err
	}
	events.StateChanged(p.state())
	return nil
}

func (p *bluezPlatform) state() CentralState {
	powered, err := p.adapter.GetPowered()
	if err != nil {
		return StateUnknown
	}
	if powered {
		return StatePoweredOn
	}
	return StatePoweredOff
}

// watchForStateChange watches the adapter for Powered changes.
func (p *bluezPlatform) watchForStateChange() error {
	var err error
	p.propchanged, err = p.adapter.WatchProperties()
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case changed := <-p.propchanged:
				// nil is received after UnwatchProperties.
				if changed == nil {
					return
				}
				if changed.Name != "Powered" {
					continue
				}
				if powered, _ := changed.Value.(bool); powered {
					p.events.StateChanged(StatePoweredOn)
				} else {
					// BlueZ drops discovery with the adapter.
					p.releaseScan()
					p.events.StateChanged(StatePoweredOff)
				}
			case <-p.ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (p *bluezPlatform) Close() error {
	p.mu.Lock()
	cancelScan := p.cancelScan
	p.cancelScan = nil
	devices := p.devices
	p.devices = make(map[string]*bluezDevice)
	p.mu.Unlock()

	if cancelScan != nil {
		cancelScan()
		p.adapter.StopDiscovery()
	}
	for _, d := range devices {
		d.close()
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.adapter != nil && p.propchanged != nil {
		if err := p.adapter.UnwatchProperties(p.propchanged); err != nil {
			return err
		}
	}
	return nil
}

func (p *bluezPlatform) enabled() error {
	if p.adapter == nil {
		return errorf(InvalidState, "no bluetooth adapter")
	}
	return nil
}

func stateFromEnableError(err error) CentralState {
	var derr dbus.Error
	if errors.As(err, &derr) && derr.Name == "org.freedesktop.DBus.Error.AccessDenied" {
		return StatePermissionDenied
	}
	return StateNotSupported
}

// mapError converts a BlueZ D-Bus error into an error carrying an ErrorCode.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var derr dbus.Error
	if !errors.As(err, &derr) {
		return wrapError(Failed, err)
	}
	name := derr.Name
	if i := strings.LastIndexByte(name, '.'); i >= 0 && strings.HasPrefix(name, "org.bluez.Error.") {
		name = name[i+1:]
	}
	switch name {
	case "InProgress", "NotReady", "Busy", "AlreadyConnected":
		return wrapError(BluetoothBusy, err)
	case "NotSupported":
		return wrapError(NotImplemented, err)
	case "InvalidArguments", "InvalidValueLength", "InvalidOffset":
		return wrapError(InvalidArgument, err)
	case "DoesNotExist", "org.freedesktop.DBus.Error.UnknownObject":
		return wrapError(ItemNotFound, err)
	default:
		return wrapError(Failed, err)
	}
}
