package gattcentral

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

var (
	heartRateService     = New16BitUUID(0x180D)
	heartRateMeasurement = New16BitUUID(0x2A37)
	bodySensorLocation   = New16BitUUID(0x2A38)
	clientConfig         = New16BitUUID(0x2902)
)

// connectedService connects a device and resolves one service "s1".
func connectedService(h *harness) *Service {
	h.t.Helper()
	d := h.discover("A")
	h.connect(d)
	var services []*Service
	d.AddHandler(DeviceHandler{
		ServicesDiscovered: func(s []*Service, err error) { services = s },
	})
	h.mustSucceed(d.GetServicesAsync())
	h.sim.SimulateServices("A", []ServiceInfo{{Handle: "s1", UUID: heartRateService, Primary: true}}, nil)
	h.drain()
	if len(services) != 1 {
		h.t.Fatalf("service discovery failed")
	}
	return services[0]
}

// connectedCharacteristic resolves the characteristic "c1" on service "s1".
func connectedCharacteristic(h *harness, props CharacteristicProperties) *Characteristic {
	h.t.Helper()
	s := connectedService(h)
	var chars []*Characteristic
	s.AddHandler(ServiceHandler{
		CharacteristicsDiscovered: func(c []*Characteristic, err error) { chars = c },
	})
	h.mustSucceed(s.GetCharacteristicsAsync(nil))
	h.sim.SimulateCharacteristics("A", "s1", []CharacteristicInfo{
		{Handle: "c1", UUID: heartRateMeasurement, Properties: props},
	}, nil)
	h.drain()
	if len(chars) != 1 {
		h.t.Fatalf("characteristic discovery failed")
	}
	return chars[0]
}

// charEvents records the callbacks of a characteristic as text.
type charEvents struct {
	events []string
}

func watchCharacteristic(c *Characteristic) *charEvents {
	w := &charEvents{}
	c.AddHandler(CharacteristicHandler{
		ReadCompleted: func(v []byte, err error) {
			w.events = append(w.events, fmt.Sprintf("read %x %s", v, codeName(err)))
		},
		WriteCompleted: func(err error) {
			w.events = append(w.events, "write "+codeName(err))
		},
		SubscribeCompleted: func(err error) {
			w.events = append(w.events, "subscribe "+codeName(err))
		},
		UnsubscribeCompleted: func(err error) {
			w.events = append(w.events, "unsubscribe "+codeName(err))
		},
		DescriptorsDiscovered: func(d []*Descriptor, err error) {
			w.events = append(w.events, fmt.Sprintf("descriptors %d %s", len(d), codeName(err)))
		},
		NotificationReceived: func(v []byte) {
			w.events = append(w.events, fmt.Sprintf("notify %x", v))
		},
	})
	return w
}

func (w *charEvents) expect(t *testing.T, h *harness, want ...string) {
	t.Helper()
	h.drain()
	got := w.events
	w.events = nil
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected callbacks\n got: %q\nwant: %q", got, want)
	}
}

func TestGetCharacteristicsFilter(t *testing.T) {
	h := newHarness(t)
	s := connectedService(h)
	var results [][]*Characteristic
	s.AddHandler(ServiceHandler{
		CharacteristicsDiscovered: func(c []*Characteristic, err error) {
			if err != nil {
				t.Errorf("discovery failed: %v", err)
			}
			results = append(results, c)
		},
	})

	h.mustSucceed(s.GetCharacteristicsAsync(UUIDFilter{bodySensorLocation}))
	h.wantCode(s.GetCharacteristicsAsync(nil), InvalidState)
	h.sim.SimulateCharacteristics("A", "s1", []CharacteristicInfo{
		{Handle: "c1", UUID: heartRateMeasurement, Properties: PropertyNotify},
		{Handle: "c2", UUID: bodySensorLocation, Properties: PropertyRead},
		{Handle: "c2", UUID: bodySensorLocation, Properties: PropertyRead},
	}, nil)
	h.drain()
	if len(results) != 1 || len(results[0]) != 1 || results[0][0].UUID() != bodySensorLocation {
		t.Fatalf("filtered result %v", results)
	}
	c := results[0][0]
	if c.Service() != s || !c.Properties().Has(PropertyRead) {
		t.Errorf("unexpected characteristic")
	}
	if len(s.Characteristics()) != 2 {
		t.Errorf("cache holds %d characteristics", len(s.Characteristics()))
	}

	h.mustSucceed(s.GetCharacteristicsAsync(nil))
	h.drain()
	if len(results) != 2 || len(results[1]) != 2 || results[1][1] != c {
		t.Fatalf("cached result %v", results)
	}
	if n := h.sim.CallCount("DiscoverCharacteristics"); n != 1 {
		t.Errorf("DiscoverCharacteristics called %d times", n)
	}
}

func TestGetCharacteristicsError(t *testing.T) {
	h := newHarness(t)
	s := connectedService(h)
	var got error
	s.AddHandler(ServiceHandler{
		CharacteristicsDiscovered: func(c []*Characteristic, err error) { got = err },
	})
	h.mustSucceed(s.GetCharacteristicsAsync(nil))
	h.sim.SimulateCharacteristics("A", "s1", nil, errorf(ItemNotFound, "no such service"))
	h.drain()
	h.wantCode(got, ItemNotFound)
	h.mustSucceed(s.GetCharacteristicsAsync(nil))
}

func TestReadInFlight(t *testing.T) {
	h := newHarness(t)
	c := connectedCharacteristic(h, PropertyRead|PropertyWrite)
	w := watchCharacteristic(c)

	h.mustSucceed(c.ReadAsync())
	h.wantCode(c.ReadAsync(), InvalidState)
	// A write may run next to a read.
	h.mustSucceed(c.WriteAsync([]byte{1}))
	h.wantCode(c.WriteAsync([]byte{2}), InvalidState)

	h.sim.SimulateRead("A", "c1", []byte{0xde, 0xad}, nil)
	h.sim.SimulateWrite("A", "c1", nil)
	w.expect(t, h, "read dead no error", "write no error")

	if n := h.sim.CallCount("ReadCharacteristic"); n != 1 {
		t.Errorf("ReadCharacteristic called %d times", n)
	}
	// An unsolicited completion is ignored.
	h.sim.SimulateRead("A", "c1", []byte{0}, nil)
	w.expect(t, h)

	h.mustSucceed(c.ReadAsync())
	h.sim.SimulateRead("A", "c1", nil, errors.New("insufficient authentication"))
	w.expect(t, h, "read  failed")
}

func TestWriteMode(t *testing.T) {
	tests := []struct {
		props        CharacteristicProperties
		withResponse bool
	}{
		{PropertyWrite, true},
		{PropertyWriteWithoutResponse, false},
		{PropertyWrite | PropertyWriteWithoutResponse, true},
		{PropertyRead, true},
	}
	for _, tc := range tests {
		h := newHarness(t)
		c := connectedCharacteristic(h, tc.props)
		value := []byte{1, 2, 3}
		h.mustSucceed(c.WriteAsync(value))
		value[0] = 9
		calls := h.sim.Calls()
		last := calls[len(calls)-1]
		if last.Method != "WriteCharacteristic" || last.Flag != tc.withResponse {
			t.Errorf("%v: got %+v, want withResponse=%v", tc.props, last, tc.withResponse)
		}
		if !bytes.Equal(last.Value, []byte{1, 2, 3}) {
			t.Errorf("%v: value %x", tc.props, last.Value)
		}
	}
}

func TestWriteFailure(t *testing.T) {
	h := newHarness(t)
	c := connectedCharacteristic(h, PropertyWrite)
	w := watchCharacteristic(c)

	h.sim.Fail("WriteCharacteristic", errors.New("disconnected"))
	h.wantCode(c.WriteAsync([]byte{1}), Failed)
	// A rejected request leaves no operation pending.
	h.mustSucceed(c.WriteAsync([]byte{1}))
	h.sim.SimulateWrite("A", "c1", errorf(InvalidArgument, "invalid attribute length"))
	w.expect(t, h, "write invalid argument")
}

func TestSubscribeAndNotify(t *testing.T) {
	h := newHarness(t)
	c := connectedCharacteristic(h, PropertyRead|PropertyNotify)
	w := watchCharacteristic(c)

	h.sim.SimulateNotification("A", "c1", []byte{0})
	w.expect(t, h)

	h.mustSucceed(c.SubscribeAsync())
	h.wantCode(c.SubscribeAsync(), InvalidState)
	h.sim.SimulateNotifyState("A", "c1", true, nil)
	w.expect(t, h, "subscribe no error")
	if !c.IsSubscribed() {
		t.Error("not subscribed")
	}

	h.sim.SimulateNotification("A", "c1", []byte{0x06, 0x48})
	w.expect(t, h, "notify 0648")
}

func TestSubscribeIdempotent(t *testing.T) {
	h := newHarness(t)
	c := connectedCharacteristic(h, PropertyNotify)
	w := watchCharacteristic(c)

	h.mustSucceed(c.SubscribeAsync())
	h.sim.SimulateNotifyState("A", "c1", true, nil)
	w.expect(t, h, "subscribe no error")
	h.mustSucceed(c.SubscribeAsync())
	w.expect(t, h, "subscribe no error")
	if n := h.sim.CallCount("SetNotify"); n != 1 {
		t.Errorf("SetNotify called %d times", n)
	}

	h.sim.SimulateNotification("A", "c1", []byte{1})
	w.expect(t, h, "notify 01")

	h.mustSucceed(c.UnsubscribeAsync())
	h.sim.SimulateNotifyState("A", "c1", false, nil)
	w.expect(t, h, "unsubscribe no error")
	h.sim.SimulateNotification("A", "c1", []byte{2})
	w.expect(t, h)

	h.mustSucceed(c.UnsubscribeAsync())
	w.expect(t, h, "unsubscribe no error")
	if n := h.sim.CallCount("SetNotify"); n != 2 {
		t.Errorf("SetNotify called %d times", n)
	}
}

func TestSubscribeFailure(t *testing.T) {
	h := newHarness(t)
	c := connectedCharacteristic(h, PropertyIndicate)
	w := watchCharacteristic(c)

	h.mustSucceed(c.SubscribeAsync())
	h.sim.SimulateNotifyState("A", "c1", false, errors.New("cccd write rejected"))
	w.expect(t, h, "subscribe failed")
	if c.IsSubscribed() {
		t.Error("subscribed after failure")
	}

	h.mustSucceed(c.SubscribeAsync())
	h.sim.SimulateNotifyState("A", "c1", false, nil)
	w.expect(t, h, "subscribe failed")
}

func TestDescriptors(t *testing.T) {
	h := newHarness(t)
	c := connectedCharacteristic(h, PropertyNotify)
	var descs []*Descriptor
	c.AddHandler(CharacteristicHandler{
		DescriptorsDiscovered: func(d []*Descriptor, err error) { descs = d },
	})

	h.mustSucceed(c.GetDescriptorsAsync(UUIDFilter{clientConfig}))
	h.wantCode(c.GetDescriptorsAsync(nil), InvalidState)
	h.sim.SimulateDescriptors("A", "c1", []DescriptorInfo{
		{Handle: "d1", UUID: clientConfig},
		{Handle: "d2", UUID: New16BitUUID(0x2901)},
	}, nil)
	h.drain()
	if len(descs) != 1 || descs[0].UUID() != clientConfig || descs[0].Characteristic() != c {
		t.Fatalf("unexpected descriptors %v", descs)
	}
	if len(c.Descriptors()) != 2 {
		t.Errorf("cache holds %d descriptors", len(c.Descriptors()))
	}
	cccd := descs[0]

	var events []string
	cccd.AddHandler(DescriptorHandler{
		ReadCompleted: func(v []byte, err error) {
			events = append(events, fmt.Sprintf("read %x %s", v, codeName(err)))
		},
		WriteCompleted: func(err error) { events = append(events, "write "+codeName(err)) },
	})
	h.mustSucceed(cccd.ReadAsync())
	h.wantCode(cccd.ReadAsync(), InvalidState)
	h.mustSucceed(cccd.WriteAsync([]byte{1, 0}))
	h.wantCode(cccd.WriteAsync([]byte{0, 0}), InvalidState)
	h.sim.SimulateDescriptorRead("A", "d1", []byte{0, 0}, nil)
	h.sim.SimulateDescriptorWrite("A", "d1", errors.New("write not permitted"))
	h.drain()
	want := []string{"read 0000 no error", "write failed"}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("got %q, want %q", events, want)
	}
}

func TestAttributesInvalidatedOnDisconnect(t *testing.T) {
	h := newHarness(t)
	c := connectedCharacteristic(h, PropertyRead|PropertyNotify)
	h.mustSucceed(c.GetDescriptorsAsync(nil))
	h.sim.SimulateDescriptors("A", "c1", []DescriptorInfo{{Handle: "d1", UUID: clientConfig}}, nil)
	h.drain()
	desc := c.Descriptors()[0]
	w := watchCharacteristic(c)

	h.mustSucceed(c.SubscribeAsync())
	h.sim.SimulateNotifyState("A", "c1", true, nil)
	w.expect(t, h, "subscribe no error")
	h.mustSucceed(c.ReadAsync())

	d := c.Service().Device()
	h.mustSucceed(h.central.DisconnectAsync(d))
	h.sim.SimulateDisconnectResult("A", nil)
	h.sim.SimulateRead("A", "c1", []byte{1}, nil)
	h.sim.SimulateNotification("A", "c1", []byte{2})
	h.expect("disconnect A no error")
	w.expect(t, h)

	for _, valid := range []bool{c.Service().IsValid(), c.IsValid(), desc.IsValid()} {
		if valid {
			t.Error("attribute valid after disconnect")
		}
	}
	if c.IsSubscribed() {
		t.Error("subscription survived the disconnect")
	}

	// Once reconnected the old objects stay unusable.
	h.connect(d)
	h.wantCode(c.ReadAsync(), InvalidState)
	h.wantCode(desc.WriteAsync([]byte{0}), InvalidState)
	h.wantCode(c.Service().GetCharacteristicsAsync(nil), InvalidState)
}

func TestStaleReadAfterRediscovery(t *testing.T) {
	h := newHarness(t)
	old := connectedCharacteristic(h, PropertyRead)
	h.mustSucceed(old.ReadAsync())
	d := old.Service().Device()
	h.mustSucceed(h.central.DisconnectAsync(d))
	h.sim.SimulateDisconnectResult("A", nil)
	h.expect("disconnect A no error")

	// The same peer comes back. Handles of the new discovery differ from
	// the old ones even though the native objects are the same.
	h.connect(d)
	var services []*Service
	d.AddHandler(DeviceHandler{
		ServicesDiscovered: func(s []*Service, err error) { services = s },
	})
	h.mustSucceed(d.GetServicesAsync())
	h.sim.SimulateServices("A", []ServiceInfo{{Handle: "s1#2", UUID: heartRateService, Primary: true}}, nil)
	h.drain()
	if len(services) != 1 {
		t.Fatalf("rediscovered %d services", len(services))
	}
	var chars []*Characteristic
	services[0].AddHandler(ServiceHandler{
		CharacteristicsDiscovered: func(c []*Characteristic, err error) { chars = c },
	})
	h.mustSucceed(services[0].GetCharacteristicsAsync(nil))
	h.sim.SimulateCharacteristics("A", "s1#2", []CharacteristicInfo{
		{Handle: "c1#2", UUID: heartRateMeasurement, Properties: PropertyRead},
	}, nil)
	h.drain()
	if len(chars) != 1 {
		t.Fatalf("rediscovered %d characteristics", len(chars))
	}
	c := chars[0]
	w := watchCharacteristic(c)
	h.mustSucceed(c.ReadAsync())

	// The read issued on the previous link completes late.
	h.sim.SimulateRead("A", "c1", []byte{0xde, 0xad}, nil)
	w.expect(t, h)
	h.sim.SimulateRead("A", "c1#2", []byte{0x01}, nil)
	w.expect(t, h, "read 01 no error")
}
