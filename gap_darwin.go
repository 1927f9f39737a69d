package gattcentral

import (
	"github.com/JuulLabs-OSS/cbgo"
)

// darwinPeer is the native state kept for one peripheral. All fields are
// guarded by darwinPlatform.mu.
type darwinPeer struct {
	prph cbgo.Peripheral

	connecting    bool
	attempt       ConnectAttempt
	disconnecting bool
	connected     bool
	autoReconnect bool

	services  map[Handle]cbgo.Service
	chars     map[Handle]cbgo.Characteristic
	descs     map[Handle]cbgo.Descriptor
	handles   map[interface{}]Handle
	reads     map[Handle]bool
	descReads map[Handle]bool
}

func newDarwinPeer(prph cbgo.Peripheral) *darwinPeer {
	peer := &darwinPeer{prph: prph}
	peer.reset()
	return peer
}

// reset drops the attribute tables of the last connection.
func (peer *darwinPeer) reset() {
	peer.services = make(map[Handle]cbgo.Service)
	peer.chars = make(map[Handle]cbgo.Characteristic)
	peer.descs = make(map[Handle]cbgo.Descriptor)
	peer.handles = make(map[interface{}]Handle)
	peer.reads = make(map[Handle]bool)
	peer.descReads = make(map[Handle]bool)
}

func (p *darwinPlatform) StartScan(filter UUIDFilter, options ScanOptions) error {
	if p.cm.State() != cbgo.ManagerStatePoweredOn {
		return errorf(InvalidState, "bluetooth is not powered on")
	}
	var uuids []cbgo.UUID
	for _, u := range filter {
		cu, err := cbgo.ParseUUID(u.String())
		if err != nil {
			return wrapError(InvalidArgument, err)
		}
		uuids = append(uuids, cu)
	}
	p.mu.Lock()
	p.scanning = true
	p.mu.Unlock()
	p.cm.Scan(uuids, &cbgo.CentralManagerScanOpts{
		AllowDuplicates: true,
	})
	p.events.ScanStarted()
	return nil
}

func (p *darwinPlatform) StopScan() error {
	p.mu.Lock()
	scanning := p.scanning
	p.scanning = false
	p.mu.Unlock()
	if !scanning {
		return errorf(InvalidState, "not scanning")
	}
	p.cm.StopScan()
	p.events.ScanStopped(nil)
	return nil
}

func (p *darwinPlatform) DidDiscoverPeripheral(cmgr cbgo.CentralManager, prph cbgo.Peripheral, advFields cbgo.AdvFields, rssi int) {
	address := prph.Identifier().String()
	p.mu.Lock()
	if !p.scanning {
		p.mu.Unlock()
		return
	}
	peer := p.peers[address]
	if peer == nil {
		p.peers[address] = newDarwinPeer(prph)
	} else {
		peer.prph = prph
	}
	p.mu.Unlock()

	var serviceUUIDs []UUID
	for _, u := range advFields.ServiceUUIDs {
		if parsed, err := ParseUUID(u.String()); err == nil {
			serviceUUIDs = append(serviceUUIDs, parsed)
		}
	}
	name := advFields.LocalName
	if name == "" {
		name = prph.Name()
	}
	p.events.AdvertisementReceived(Advertisement{
		Address:          address,
		Name:             name,
		ManufacturerData: advFields.ManufacturerData,
		ServiceUUIDs:     serviceUUIDs,
		RSSI:             int16(rssi),
	})
}

func (p *darwinPlatform) peer(address string) (*darwinPeer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	peer := p.peers[address]
	if peer == nil {
		return nil, errorf(ItemNotFound, "unknown peripheral %s", address)
	}
	return peer, nil
}

// Connect asks CoreBluetooth to connect. Connect requests do not time out,
// so automatic reconnects are implemented by issuing a new request after
// every unsolicited disconnect.
func (p *darwinPlatform) Connect(address string, attempt ConnectAttempt, autoReconnect bool) error {
	peer, err := p.peer(address)
	if err != nil {
		return err
	}
	p.mu.Lock()
	peer.connecting = true
	peer.attempt = attempt
	peer.autoReconnect = autoReconnect
	peer.prph.SetDelegate(p)
	p.mu.Unlock()
	p.cm.Connect(peer.prph, nil)
	return nil
}

func (p *darwinPlatform) CancelConnect(address string) error {
	peer, err := p.peer(address)
	if err != nil {
		return err
	}
	p.mu.Lock()
	peer.connecting = false
	peer.autoReconnect = false
	p.mu.Unlock()
	p.cm.CancelConnect(peer.prph)
	return nil
}

// Disconnect cancels the connection; CoreBluetooth has no separate
// disconnect call.
func (p *darwinPlatform) Disconnect(address string) error {
	peer, err := p.peer(address)
	if err != nil {
		return err
	}
	p.mu.Lock()
	peer.disconnecting = true
	peer.autoReconnect = false
	p.mu.Unlock()
	p.cm.CancelConnect(peer.prph)
	return nil
}

// SetConnectionMode is not available: CoreBluetooth chooses connection
// parameters itself.
func (p *darwinPlatform) SetConnectionMode(address string, mode ConnectionMode) error {
	return errorf(NotImplemented, "connection parameters are managed by CoreBluetooth")
}

func (p *darwinPlatform) Forget(address string) {
	p.mu.Lock()
	delete(p.peers, address)
	p.mu.Unlock()
}

func (p *darwinPlatform) DidConnectPeripheral(cmgr cbgo.CentralManager, prph cbgo.Peripheral) {
	address := prph.Identifier().String()
	p.mu.Lock()
	peer := p.peers[address]
	if peer == nil {
		p.mu.Unlock()
		return
	}
	requested := peer.connecting
	attempt := peer.attempt
	peer.connecting = false
	peer.connected = true
	peer.reset()
	p.mu.Unlock()
	if requested {
		p.events.ConnectResult(address, attempt, nil)
	} else {
		p.events.ConnectionChanged(address, true, nil)
	}
}

func (p *darwinPlatform) DidFailToConnectPeripheral(cmgr cbgo.CentralManager, prph cbgo.Peripheral, err error) {
	address := prph.Identifier().String()
	p.mu.Lock()
	peer := p.peers[address]
	if peer == nil {
		p.mu.Unlock()
		return
	}
	requested := peer.connecting
	attempt := peer.attempt
	retry := !requested && peer.autoReconnect
	peer.connecting = false
	p.mu.Unlock()
	switch {
	case requested:
		p.events.ConnectResult(address, attempt, wrapError(Failed, err))
	case retry:
		p.cm.Connect(prph, nil)
	}
}

func (p *darwinPlatform) DidDisconnectPeripheral(cmgr cbgo.CentralManager, prph cbgo.Peripheral, err error) {
	address := prph.Identifier().String()
	p.mu.Lock()
	peer := p.peers[address]
	if peer == nil {
		p.mu.Unlock()
		return
	}
	requested := peer.disconnecting
	peer.disconnecting = false
	peer.connected = false
	peer.reset()
	reconnect := !requested && peer.autoReconnect
	p.mu.Unlock()
	if requested {
		p.events.DisconnectResult(address, nil)
		return
	}
	p.events.ConnectionChanged(address, false, cbError(err))
	if reconnect {
		p.cm.Connect(prph, nil)
	}
}
