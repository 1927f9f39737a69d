package gattcentral

// sink is the PlatformEvents implementation handed to the platform. Every
// event is posted to the loop, so platforms may report from any goroutine
// and from inside a request.
type sink struct {
	c *Central
}

func (s *sink) post(fn func(c *Central)) {
	s.c.loop.Post(func() {
		if s.c.closed {
			return
		}
		fn(s.c)
	})
}

func (s *sink) device(address string) *Device {
	return s.c.devices[address]
}

func (s *sink) service(address string, h Handle) *Service {
	if d := s.device(address); d != nil {
		return d.serviceIndex[h]
	}
	return nil
}

func (s *sink) characteristic(address string, h Handle) *Characteristic {
	if d := s.device(address); d != nil {
		return d.characteristicIndex[h]
	}
	return nil
}

func (s *sink) descriptor(address string, h Handle) *Descriptor {
	if d := s.device(address); d != nil {
		return d.descriptorIndex[h]
	}
	return nil
}

func (s *sink) StateChanged(state CentralState) {
	s.post(func(c *Central) { c.setState(state) })
}

func (s *sink) ScanStarted() {
	s.post(func(c *Central) { c.onScanStarted() })
}

func (s *sink) ScanStopped(err error) {
	s.post(func(c *Central) { c.onScanStopped(err) })
}

func (s *sink) AdvertisementReceived(adv Advertisement) {
	adv.ManufacturerData = cloneBytes(adv.ManufacturerData)
	adv.ServiceUUIDs = append([]UUID(nil), adv.ServiceUUIDs...)
	s.post(func(c *Central) { c.onAdvertisement(adv) })
}

func (s *sink) PeerLost(address string) {
	s.post(func(c *Central) { c.onPeerLost(address) })
}

func (s *sink) ConnectResult(address string, attempt ConnectAttempt, err error) {
	s.post(func(c *Central) { c.onConnectResult(address, attempt, err) })
}

func (s *sink) DisconnectResult(address string, err error) {
	s.post(func(c *Central) { c.onDisconnectResult(address, err) })
}

func (s *sink) ConnectionChanged(address string, connected bool, err error) {
	s.post(func(c *Central) { c.onConnectionChanged(address, connected, err) })
}

func (s *sink) ServicesDiscovered(address string, services []ServiceInfo, err error) {
	s.post(func(c *Central) {
		if d := s.device(address); d != nil {
			d.onServicesDiscovered(services, err)
		}
	})
}

func (s *sink) CharacteristicsDiscovered(address string, service Handle, characteristics []CharacteristicInfo, err error) {
	s.post(func(c *Central) {
		if svc := s.service(address, service); svc != nil {
			svc.onCharacteristicsDiscovered(characteristics, err)
		}
	})
}

func (s *sink) DescriptorsDiscovered(address string, characteristic Handle, descriptors []DescriptorInfo, err error) {
	s.post(func(c *Central) {
		if chr := s.characteristic(address, characteristic); chr != nil {
			chr.onDescriptorsDiscovered(descriptors, err)
		}
	})
}

func (s *sink) CharacteristicRead(address string, characteristic Handle, value []byte, err error) {
	value = cloneBytes(value)
	s.post(func(c *Central) {
		if chr := s.characteristic(address, characteristic); chr != nil {
			chr.onRead(value, err)
		}
	})
}

func (s *sink) CharacteristicWritten(address string, characteristic Handle, err error) {
	s.post(func(c *Central) {
		if chr := s.characteristic(address, characteristic); chr != nil {
			chr.onWritten(err)
		}
	})
}

func (s *sink) NotifyStateChanged(address string, characteristic Handle, enabled bool, err error) {
	s.post(func(c *Central) {
		if chr := s.characteristic(address, characteristic); chr != nil {
			chr.onNotifyState(enabled, err)
		}
	})
}

func (s *sink) CharacteristicChanged(address string, characteristic Handle, value []byte) {
	value = cloneBytes(value)
	s.post(func(c *Central) {
		if chr := s.characteristic(address, characteristic); chr != nil {
			chr.onChanged(value)
		}
	})
}

func (s *sink) DescriptorRead(address string, descriptor Handle, value []byte, err error) {
	value = cloneBytes(value)
	s.post(func(c *Central) {
		if d := s.descriptor(address, descriptor); d != nil {
			d.onRead(value, err)
		}
	})
}

func (s *sink) DescriptorWritten(address string, descriptor Handle, err error) {
	s.post(func(c *Central) {
		if d := s.descriptor(address, descriptor); d != nil {
			d.onWritten(err)
		}
	})
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
