package gattcentral

import (
	"github.com/JuulLabs-OSS/cbgo"
)

// handleFor returns the handle of a native attribute object, assigning one
// on first sight. Must be called with p.mu held.
func (p *darwinPlatform) handleFor(peer *darwinPeer, obj interface{}, kind string) Handle {
	if h, ok := peer.handles[obj]; ok {
		return h
	}
	h := p.newHandle(kind)
	peer.handles[obj] = h
	switch o := obj.(type) {
	case cbgo.Service:
		peer.services[h] = o
	case cbgo.Characteristic:
		peer.chars[h] = o
	case cbgo.Descriptor:
		peer.descs[h] = o
	}
	return h
}

func parseCBUUID(u cbgo.UUID) (UUID, bool) {
	parsed, err := ParseUUID(u.String())
	return parsed, err == nil
}

func (p *darwinPlatform) connectedPeer(address string) (*darwinPeer, error) {
	peer, err := p.peer(address)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !peer.connected {
		return nil, errorf(InvalidState, "peripheral %s is not connected", address)
	}
	return peer, nil
}

func (p *darwinPlatform) DiscoverServices(address string) error {
	peer, err := p.connectedPeer(address)
	if err != nil {
		return err
	}
	peer.prph.DiscoverServices(nil)
	return nil
}

func (p *darwinPlatform) DidDiscoverServices(prph cbgo.Peripheral, err error) {
	address := prph.Identifier().String()
	if err != nil {
		p.events.ServicesDiscovered(address, nil, cbError(err))
		return
	}
	p.mu.Lock()
	peer := p.peers[address]
	if peer == nil {
		p.mu.Unlock()
		return
	}
	// Handles of an earlier discovery must not be handed out again.
	peer.reset()
	var infos []ServiceInfo
	for _, svc := range prph.Services() {
		uuid, ok := parseCBUUID(svc.UUID())
		if !ok {
			continue
		}
		info := ServiceInfo{
			Handle:  p.handleFor(peer, svc, "svc"),
			UUID:    uuid,
			Primary: svc.IsPrimary(),
		}
		for _, inc := range svc.IncludedServices() {
			info.Includes = append(info.Includes, p.handleFor(peer, inc, "svc"))
		}
		infos = append(infos, info)
	}
	p.mu.Unlock()
	p.events.ServicesDiscovered(address, infos, nil)
}

func (p *darwinPlatform) DiscoverCharacteristics(address string, service Handle) error {
	peer, err := p.connectedPeer(address)
	if err != nil {
		return err
	}
	p.mu.Lock()
	svc, ok := peer.services[service]
	p.mu.Unlock()
	if !ok {
		return errorf(ItemNotFound, "unknown service %s", service)
	}
	peer.prph.DiscoverCharacteristics(nil, svc)
	return nil
}

func (p *darwinPlatform) DidDiscoverCharacteristics(prph cbgo.Peripheral, svc cbgo.Service, err error) {
	address := prph.Identifier().String()
	p.mu.Lock()
	peer := p.peers[address]
	if peer == nil {
		p.mu.Unlock()
		return
	}
	service := p.handleFor(peer, svc, "svc")
	var infos []CharacteristicInfo
	if err == nil {
		for _, chr := range svc.Characteristics() {
			uuid, ok := parseCBUUID(chr.UUID())
			if !ok {
				continue
			}
			infos = append(infos, CharacteristicInfo{
				Handle:     p.handleFor(peer, chr, "chr"),
				UUID:       uuid,
				Properties: CharacteristicProperties(chr.Properties() & 0xff),
			})
		}
	}
	p.mu.Unlock()
	p.events.CharacteristicsDiscovered(address, service, infos, cbError(err))
}

func (p *darwinPlatform) DiscoverDescriptors(address string, characteristic Handle) error {
	peer, chr, err := p.characteristic(address, characteristic)
	if err != nil {
		return err
	}
	peer.prph.DiscoverDescriptors(chr)
	return nil
}

func (p *darwinPlatform) DidDiscoverDescriptors(prph cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	address := prph.Identifier().String()
	p.mu.Lock()
	peer := p.peers[address]
	if peer == nil {
		p.mu.Unlock()
		return
	}
	characteristic := p.handleFor(peer, chr, "chr")
	var infos []DescriptorInfo
	if err == nil {
		for _, dsc := range chr.Descriptors() {
			uuid, ok := parseCBUUID(dsc.UUID())
			if !ok {
				continue
			}
			infos = append(infos, DescriptorInfo{Handle: p.handleFor(peer, dsc, "dsc"), UUID: uuid})
		}
	}
	p.mu.Unlock()
	p.events.DescriptorsDiscovered(address, characteristic, infos, cbError(err))
}

func (p *darwinPlatform) characteristic(address string, h Handle) (*darwinPeer, cbgo.Characteristic, error) {
	peer, err := p.connectedPeer(address)
	if err != nil {
		return nil, cbgo.Characteristic{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	chr, ok := peer.chars[h]
	if !ok {
		return nil, cbgo.Characteristic{}, errorf(ItemNotFound, "unknown characteristic %s", h)
	}
	return peer, chr, nil
}

func (p *darwinPlatform) descriptor(address string, h Handle) (*darwinPeer, cbgo.Descriptor, error) {
	peer, err := p.connectedPeer(address)
	if err != nil {
		return nil, cbgo.Descriptor{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	dsc, ok := peer.descs[h]
	if !ok {
		return nil, cbgo.Descriptor{}, errorf(ItemNotFound, "unknown descriptor %s", h)
	}
	return peer, dsc, nil
}

func (p *darwinPlatform) ReadCharacteristic(address string, characteristic Handle) error {
	peer, chr, err := p.characteristic(address, characteristic)
	if err != nil {
		return err
	}
	p.mu.Lock()
	peer.reads[characteristic] = true
	p.mu.Unlock()
	peer.prph.ReadCharacteristic(chr)
	return nil
}

// WriteCharacteristic writes the value. CoreBluetooth does not confirm
// writes without response, so those complete immediately.
func (p *darwinPlatform) WriteCharacteristic(address string, characteristic Handle, value []byte, withResponse bool) error {
	peer, chr, err := p.characteristic(address, characteristic)
	if err != nil {
		return err
	}
	peer.prph.WriteCharacteristic(value, chr, withResponse)
	if !withResponse {
		p.events.CharacteristicWritten(address, characteristic, nil)
	}
	return nil
}

func (p *darwinPlatform) SetNotify(address string, characteristic Handle, enabled bool) error {
	peer, chr, err := p.characteristic(address, characteristic)
	if err != nil {
		return err
	}
	peer.prph.SetNotify(enabled, chr)
	return nil
}

// DidUpdateValueForCharacteristic answers a read or delivers a
// notification.
func (p *darwinPlatform) DidUpdateValueForCharacteristic(prph cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	address := prph.Identifier().String()
	p.mu.Lock()
	peer := p.peers[address]
	if peer == nil {
		p.mu.Unlock()
		return
	}
	h := p.handleFor(peer, chr, "chr")
	read := peer.reads[h]
	delete(peer.reads, h)
	p.mu.Unlock()
	if read {
		p.events.CharacteristicRead(address, h, chr.Value(), cbError(err))
		return
	}
	if err == nil {
		p.events.CharacteristicChanged(address, h, chr.Value())
	}
}

func (p *darwinPlatform) DidWriteValueForCharacteristic(prph cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	address := prph.Identifier().String()
	p.mu.Lock()
	peer := p.peers[address]
	if peer == nil {
		p.mu.Unlock()
		return
	}
	h := p.handleFor(peer, chr, "chr")
	p.mu.Unlock()
	p.events.CharacteristicWritten(address, h, cbError(err))
}

func (p *darwinPlatform) DidUpdateNotificationState(prph cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	address := prph.Identifier().String()
	p.mu.Lock()
	peer := p.peers[address]
	if peer == nil {
		p.mu.Unlock()
		return
	}
	h := p.handleFor(peer, chr, "chr")
	p.mu.Unlock()
	p.events.NotifyStateChanged(address, h, chr.IsNotifying(), cbError(err))
}

func (p *darwinPlatform) ReadDescriptor(address string, descriptor Handle) error {
	peer, dsc, err := p.descriptor(address, descriptor)
	if err != nil {
		return err
	}
	p.mu.Lock()
	peer.descReads[descriptor] = true
	p.mu.Unlock()
	peer.prph.ReadDescriptor(dsc)
	return nil
}

func (p *darwinPlatform) WriteDescriptor(address string, descriptor Handle, value []byte) error {
	peer, dsc, err := p.descriptor(address, descriptor)
	if err != nil {
		return err
	}
	peer.prph.WriteDescriptor(value, dsc)
	return nil
}

func (p *darwinPlatform) DidUpdateValueForDescriptor(prph cbgo.Peripheral, dsc cbgo.Descriptor, err error) {
	address := prph.Identifier().String()
	p.mu.Lock()
	peer := p.peers[address]
	if peer == nil {
		p.mu.Unlock()
		return
	}
	h := p.handleFor(peer, dsc, "dsc")
	read := peer.descReads[h]
	delete(peer.descReads, h)
	p.mu.Unlock()
	if read {
		p.events.DescriptorRead(address, h, dsc.Value(), cbError(err))
	}
}

func (p *darwinPlatform) DidWriteValueForDescriptor(prph cbgo.Peripheral, dsc cbgo.Descriptor, err error) {
	address := prph.Identifier().String()
	p.mu.Lock()
	peer := p.peers[address]
	if peer == nil {
		p.mu.Unlock()
		return
	}
	h := p.handleFor(peer, dsc, "dsc")
	p.mu.Unlock()
	p.events.DescriptorWritten(address, h, cbError(err))
}
