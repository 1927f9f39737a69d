package gattcentral

import (
	"fmt"
	"sync"
)

// Simulator is a Platform without radio. By default it only records the
// requests it receives, and tests report native events with the Simulate
// methods. A simulator created with NewAutoSimulator also answers requests
// from a table of simulated peers.
type Simulator struct {
	mu       sync.Mutex
	events   PlatformEvents
	state    CentralState
	auto     bool
	scanning bool
	closed   bool
	peers    map[string]*simPeer
	order    []string
	calls    []Call
	failures map[string]error
	attempts map[string]ConnectAttempt
}

// Call is a request recorded by the Simulator.
type Call struct {
	Method  string
	Address string
	Handle  Handle
	Value   []byte
	Flag    bool
	Attempt ConnectAttempt
}

// SimulatedPeer describes a peripheral served by an automatic Simulator.
type SimulatedPeer struct {
	Address          string
	Name             string
	ManufacturerData []byte
	RSSI             int16
	Services         []SimulatedService

	// ConnectError is reported for every connect attempt when set.
	ConnectError error
}

type SimulatedService struct {
	UUID            UUID
	Characteristics []SimulatedCharacteristic
}

type SimulatedCharacteristic struct {
	UUID        UUID
	Properties  CharacteristicProperties
	Value       []byte
	Descriptors []SimulatedDescriptor
}

type SimulatedDescriptor struct {
	UUID  UUID
	Value []byte
}

type simPeer struct {
	adv             Advertisement
	connectErr      error
	connected       bool
	services        []ServiceInfo
	characteristics map[Handle][]CharacteristicInfo
	descriptors     map[Handle][]DescriptorInfo
	charByUUID      map[UUID]Handle
	values          map[Handle][]byte
	notifying       map[Handle]bool
}

// NewSimulator returns a recording Simulator that reports StatePoweredOn
// when enabled.
func NewSimulator() *Simulator {
	return &Simulator{
		state:    StatePoweredOn,
		peers:    make(map[string]*simPeer),
		failures: make(map[string]error),
		attempts: make(map[string]ConnectAttempt),
	}
}

// NewAutoSimulator returns a Simulator that answers every request for the
// given peers.
func NewAutoSimulator(peers ...SimulatedPeer) *Simulator {
	s := NewSimulator()
	s.auto = true
	for _, p := range peers {
		s.AddPeer(p)
	}
	return s
}

// AddPeer adds or replaces a simulated peer. Attribute handles are derived
// from the address and the position of the attribute.
func (s *Simulator) AddPeer(p SimulatedPeer) {
	sp := &simPeer{
		adv: Advertisement{
			Address:          p.Address,
			Name:             p.Name,
			ManufacturerData: cloneBytes(p.ManufacturerData),
			RSSI:             p.RSSI,
		},
		connectErr:      p.ConnectError,
		characteristics: make(map[Handle][]CharacteristicInfo),
		descriptors:     make(map[Handle][]DescriptorInfo),
		charByUUID:      make(map[UUID]Handle),
		values:          make(map[Handle][]byte),
		notifying:       make(map[Handle]bool),
	}
	n := 0
	for _, svc := range p.Services {
		n++
		sh := Handle(fmt.Sprintf("%s/service%04x", p.Address, n))
		sp.services = append(sp.services, ServiceInfo{Handle: sh, UUID: svc.UUID, Primary: true})
		sp.adv.ServiceUUIDs = append(sp.adv.ServiceUUIDs, svc.UUID)
		for _, chr := range svc.Characteristics {
			n++
			ch := Handle(fmt.Sprintf("%s/char%04x", sh, n))
			sp.characteristics[sh] = append(sp.characteristics[sh], CharacteristicInfo{Handle: ch, UUID: chr.UUID, Properties: chr.Properties})
			sp.values[ch] = cloneBytes(chr.Value)
			if _, ok := sp.charByUUID[chr.UUID]; !ok {
				sp.charByUUID[chr.UUID] = ch
			}
			for _, desc := range chr.Descriptors {
				n++
				dh := Handle(fmt.Sprintf("%s/desc%04x", ch, n))
				sp.descriptors[ch] = append(sp.descriptors[ch], DescriptorInfo{Handle: dh, UUID: desc.UUID})
				sp.values[dh] = cloneBytes(desc.Value)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[p.Address]; !ok {
		s.order = append(s.order, p.Address)
	}
	s.peers[p.Address] = sp
}

// SetInitialState sets the state reported by Enable.
func (s *Simulator) SetInitialState(state CentralState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Fail makes the next call of the named Platform method return err.
func (s *Simulator) Fail(method string, err error) {
	s.mu.Lock()
	s.failures[method] = err
	s.mu.Unlock()
}

// Calls returns the recorded requests.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how often the named method was called.
func (s *Simulator) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// record stores the call and returns the failure queued for it.
func (s *Simulator) record(c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Value = cloneBytes(c.Value)
	s.calls = append(s.calls, c)
	if err, ok := s.failures[c.Method]; ok {
		delete(s.failures, c.Method)
		return err
	}
	return nil
}

// peer returns the simulated peer when the simulator answers requests.
func (s *Simulator) peer(address string) *simPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.auto {
		return nil
	}
	return s.peers[address]
}

func (s *Simulator) Enable(events PlatformEvents) error {
	if err := s.record(Call{Method: "Enable"}); err != nil {
		return err
	}
	s.mu.Lock()
	s.events = events
	state := s.state
	s.mu.Unlock()
	events.StateChanged(state)
	return nil
}

func (s *Simulator) Close() error {
	if err := s.record(Call{Method: "Close"}); err != nil {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.scanning = false
	s.mu.Unlock()
	return nil
}

func (s *Simulator) StartScan(filter UUIDFilter, options ScanOptions) error {
	if err := s.record(Call{Method: "StartScan"}); err != nil {
		return err
	}
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return errorf(InvalidState, "already scanning")
	}
	s.scanning = true
	auto := s.auto
	var advs []Advertisement
	for _, addr := range s.order {
		advs = append(advs, s.peers[addr].adv)
	}
	s.mu.Unlock()
	if !auto {
		return nil
	}
	s.events.ScanStarted()
	for _, adv := range advs {
		s.events.AdvertisementReceived(adv)
	}
	return nil
}

func (s *Simulator) StopScan() error {
	if err := s.record(Call{Method: "StopScan"}); err != nil {
		return err
	}
	s.mu.Lock()
	s.scanning = false
	auto := s.auto
	s.mu.Unlock()
	if auto {
		s.events.ScanStopped(nil)
	}
	return nil
}

func (s *Simulator) Connect(address string, attempt ConnectAttempt, autoReconnect bool) error {
	if err := s.record(Call{Method: "Connect", Address: address, Flag: autoReconnect, Attempt: attempt}); err != nil {
		return err
	}
	s.mu.Lock()
	s.attempts[address] = attempt
	auto := s.auto
	p := s.peers[address]
	var err error
	switch {
	case p == nil:
		err = errorf(ItemNotFound, "no simulated peer %s", address)
	case p.connectErr != nil:
		err = p.connectErr
	default:
		p.connected = true
	}
	s.mu.Unlock()
	if auto {
		s.events.ConnectResult(address, attempt, err)
	}
	return nil
}

func (s *Simulator) CancelConnect(address string) error {
	return s.record(Call{Method: "CancelConnect", Address: address})
}

func (s *Simulator) Disconnect(address string) error {
	if err := s.record(Call{Method: "Disconnect", Address: address}); err != nil {
		return err
	}
	if p := s.peer(address); p != nil {
		s.mu.Lock()
		p.connected = false
		p.notifying = make(map[Handle]bool)
		s.mu.Unlock()
		s.events.DisconnectResult(address, nil)
	}
	return nil
}

func (s *Simulator) SetConnectionMode(address string, mode ConnectionMode) error {
	return s.record(Call{Method: "SetConnectionMode", Address: address, Value: []byte{byte(mode)}})
}

func (s *Simulator) Forget(address string) {
	s.record(Call{Method: "Forget", Address: address})
}

func (s *Simulator) DiscoverServices(address string) error {
	if err := s.record(Call{Method: "DiscoverServices", Address: address}); err != nil {
		return err
	}
	if p := s.peer(address); p != nil {
		s.events.ServicesDiscovered(address, p.services, nil)
	}
	return nil
}

func (s *Simulator) DiscoverCharacteristics(address string, service Handle) error {
	if err := s.record(Call{Method: "DiscoverCharacteristics", Address: address, Handle: service}); err != nil {
		return err
	}
	if p := s.peer(address); p != nil {
		s.events.CharacteristicsDiscovered(address, service, p.characteristics[service], nil)
	}
	return nil
}

func (s *Simulator) DiscoverDescriptors(address string, characteristic Handle) error {
	if err := s.record(Call{Method: "DiscoverDescriptors", Address: address, Handle: characteristic}); err != nil {
		return err
	}
	if p := s.peer(address); p != nil {
		s.events.DescriptorsDiscovered(address, characteristic, p.descriptors[characteristic], nil)
	}
	return nil
}

func (s *Simulator) ReadCharacteristic(address string, characteristic Handle) error {
	if err := s.record(Call{Method: "ReadCharacteristic", Address: address, Handle: characteristic}); err != nil {
		return err
	}
	if p := s.peer(address); p != nil {
		s.events.CharacteristicRead(address, characteristic, s.value(p, characteristic), nil)
	}
	return nil
}

func (s *Simulator) WriteCharacteristic(address string, characteristic Handle, value []byte, withResponse bool) error {
	if err := s.record(Call{Method: "WriteCharacteristic", Address: address, Handle: characteristic, Value: value, Flag: withResponse}); err != nil {
		return err
	}
	if p := s.peer(address); p != nil {
		s.setValue(p, characteristic, value)
		s.events.CharacteristicWritten(address, characteristic, nil)
	}
	return nil
}

func (s *Simulator) SetNotify(address string, characteristic Handle, enabled bool) error {
	if err := s.record(Call{Method: "SetNotify", Address: address, Handle: characteristic, Flag: enabled}); err != nil {
		return err
	}
	if p := s.peer(address); p != nil {
		s.mu.Lock()
		p.notifying[characteristic] = enabled
		s.mu.Unlock()
		s.events.NotifyStateChanged(address, characteristic, enabled, nil)
	}
	return nil
}

func (s *Simulator) ReadDescriptor(address string, descriptor Handle) error {
	if err := s.record(Call{Method: "ReadDescriptor", Address: address, Handle: descriptor}); err != nil {
		return err
	}
	if p := s.peer(address); p != nil {
		s.events.DescriptorRead(address, descriptor, s.value(p, descriptor), nil)
	}
	return nil
}

func (s *Simulator) WriteDescriptor(address string, descriptor Handle, value []byte) error {
	if err := s.record(Call{Method: "WriteDescriptor", Address: address, Handle: descriptor, Value: value}); err != nil {
		return err
	}
	if p := s.peer(address); p != nil {
		s.setValue(p, descriptor, value)
		s.events.DescriptorWritten(address, descriptor, nil)
	}
	return nil
}

func (s *Simulator) value(p *simPeer, h Handle) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBytes(p.values[h])
}

func (s *Simulator) setValue(p *simPeer, h Handle, value []byte) {
	s.mu.Lock()
	p.values[h] = cloneBytes(value)
	s.mu.Unlock()
}

// UpdateValue changes the value of the first characteristic with the given
// UUID on a simulated peer and notifies the central when notifications are
// enabled. It may be called from any goroutine.
func (s *Simulator) UpdateValue(address string, characteristic UUID, value []byte) error {
	s.mu.Lock()
	p := s.peers[address]
	if p == nil {
		s.mu.Unlock()
		return errorf(ItemNotFound, "no simulated peer %s", address)
	}
	h, ok := p.charByUUID[characteristic]
	if !ok {
		s.mu.Unlock()
		return errorf(ItemNotFound, "no characteristic %s on %s", characteristic, address)
	}
	p.values[h] = cloneBytes(value)
	notify := p.connected && p.notifying[h]
	events := s.events
	s.mu.Unlock()
	if notify && events != nil {
		events.CharacteristicChanged(address, h, value)
	}
	return nil
}

func (s *Simulator) eventSink() PlatformEvents {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// SimulateState reports a native state change. Like the other Simulate
// methods it may be called from any goroutine once the simulator is enabled.
func (s *Simulator) SimulateState(state CentralState) {
	s.eventSink().StateChanged(state)
}

func (s *Simulator) SimulateScanStarted() {
	s.eventSink().ScanStarted()
}

func (s *Simulator) SimulateScanStopped(err error) {
	s.mu.Lock()
	s.scanning = false
	s.mu.Unlock()
	s.eventSink().ScanStopped(err)
}

func (s *Simulator) SimulateAdvertisement(adv Advertisement) {
	s.eventSink().AdvertisementReceived(adv)
}

func (s *Simulator) SimulatePeerLost(address string) {
	s.eventSink().PeerLost(address)
}

// SimulateConnectResult completes the latest connect attempt for address.
func (s *Simulator) SimulateConnectResult(address string, err error) {
	s.mu.Lock()
	attempt := s.attempts[address]
	s.mu.Unlock()
	s.SimulateAttemptResult(address, attempt, err)
}

// SimulateAttemptResult completes a specific connect attempt, which may
// have been superseded.
func (s *Simulator) SimulateAttemptResult(address string, attempt ConnectAttempt, err error) {
	s.eventSink().ConnectResult(address, attempt, err)
}

func (s *Simulator) SimulateDisconnectResult(address string, err error) {
	s.eventSink().DisconnectResult(address, err)
}

func (s *Simulator) SimulateConnectionChanged(address string, connected bool, err error) {
	s.eventSink().ConnectionChanged(address, connected, err)
}

func (s *Simulator) SimulateServices(address string, services []ServiceInfo, err error) {
	s.eventSink().ServicesDiscovered(address, services, err)
}

func (s *Simulator) SimulateCharacteristics(address string, service Handle, characteristics []CharacteristicInfo, err error) {
	s.eventSink().CharacteristicsDiscovered(address, service, characteristics, err)
}

func (s *Simulator) SimulateDescriptors(address string, characteristic Handle, descriptors []DescriptorInfo, err error) {
	s.eventSink().DescriptorsDiscovered(address, characteristic, descriptors, err)
}

func (s *Simulator) SimulateRead(address string, characteristic Handle, value []byte, err error) {
	s.eventSink().CharacteristicRead(address, characteristic, value, err)
}

func (s *Simulator) SimulateWrite(address string, characteristic Handle, err error) {
	s.eventSink().CharacteristicWritten(address, characteristic, err)
}

func (s *Simulator) SimulateNotifyState(address string, characteristic Handle, enabled bool, err error) {
	s.eventSink().NotifyStateChanged(address, characteristic, enabled, err)
}

func (s *Simulator) SimulateNotification(address string, characteristic Handle, value []byte) {
	s.eventSink().CharacteristicChanged(address, characteristic, value)
}

func (s *Simulator) SimulateDescriptorRead(address string, descriptor Handle, value []byte, err error) {
	s.eventSink().DescriptorRead(address, descriptor, value, err)
}

func (s *Simulator) SimulateDescriptorWrite(address string, descriptor Handle, err error) {
	s.eventSink().DescriptorWritten(address, descriptor, err)
}
