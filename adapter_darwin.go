package gattcentral

import (
	"strconv"
	"sync"

	"github.com/JuulLabs-OSS/cbgo"
	"github.com/sirupsen/logrus"
)

// darwinPlatform drives CoreBluetooth through cbgo. It is both the central
// manager delegate and the delegate of every peripheral it connects to.
type darwinPlatform struct {
	cbgo.CentralManagerDelegateBase
	cbgo.PeripheralDelegateBase

	log    logrus.FieldLogger
	events PlatformEvents
	cm     cbgo.CentralManager

	mu         sync.Mutex
	scanning   bool
	peers      map[string]*darwinPeer
	nextHandle int
}

// DefaultPlatform returns the CoreBluetooth platform.
func DefaultPlatform(log logrus.FieldLogger) (Platform, error) {
	return &darwinPlatform{
		log:   log.WithField("platform", "corebluetooth"),
		peers: make(map[string]*darwinPeer),
	}, nil
}

// Enable creates the central manager. CoreBluetooth reports the state
// through CentralManagerDidUpdateState shortly after.
func (p *darwinPlatform) Enable(events PlatformEvents) error {
	p.events = events
	p.cm = cbgo.NewCentralManager(nil)
	p.cm.SetDelegate(p)
	return nil
}

func (p *darwinPlatform) CentralManagerDidUpdateState(cmgr cbgo.CentralManager) {
	state := stateFromManager(cmgr.State())
	p.log.WithField("state", state).Debug("manager state updated")
	p.events.StateChanged(state)
}

func stateFromManager(s cbgo.ManagerState) CentralState {
	switch s {
	case cbgo.ManagerStatePoweredOn:
		return StatePoweredOn
	case cbgo.ManagerStatePoweredOff:
		return StatePoweredOff
	case cbgo.ManagerStateUnauthorized:
		return StatePermissionDenied
	case cbgo.ManagerStateUnsupported:
		return StateNotSupported
	default:
		return StateUnknown
	}
}

func (p *darwinPlatform) Close() error {
	p.mu.Lock()
	scanning := p.scanning
	p.scanning = false
	peers := p.peers
	p.peers = make(map[string]*darwinPeer)
	p.mu.Unlock()
	if scanning {
		p.cm.StopScan()
	}
	for _, peer := range peers {
		if peer.connected || peer.connecting {
			p.cm.CancelConnect(peer.prph)
		}
	}
	return nil
}

// newHandle returns a handle that is unique for the lifetime of the
// platform. Must be called with p.mu held.
func (p *darwinPlatform) newHandle(kind string) Handle {
	p.nextHandle++
	return Handle(kind + strconv.Itoa(p.nextHandle))
}

// cbError wraps an error reported by CoreBluetooth.
func cbError(err error) error {
	if err == nil {
		return nil
	}
	return wrapError(Failed, err)
}
