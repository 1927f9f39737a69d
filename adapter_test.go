package gattcentral

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// harness drives a Central on a recording Simulator and records every
// central callback as a line of text.
type harness struct {
	t       *testing.T
	sim     *Simulator
	central *Central
	hook    *test.Hook
	now     time.Time
	events  []string
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithState(t, StatePoweredOn)
}

func newHarnessWithState(t *testing.T, state CentralState) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		sim: NewSimulator(),
		now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.sim.SetInitialState(state)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	h.hook = hook
	c, err := NewCentral(
		WithPlatform(h.sim),
		WithLogger(logger),
		WithClock(func() time.Time { return h.now }),
	)
	if err != nil {
		t.Fatalf("NewCentral: %v", err)
	}
	h.central = c
	c.AddHandler(CentralHandler{
		StateChanged:    func(s CentralState) { h.record("state %s", s) },
		ScanningStarted: func() { h.record("scan started") },
		ScanningStopped: func() { h.record("scan stopped") },
		DeviceAdded:     func(d *Device) { h.record("added %s", d.Identifier()) },
		DeviceUpdated:   func(d *Device) { h.record("updated %s", d.Identifier()) },
		DeviceRemoved:   func(d *Device) { h.record("removed %s", d.Identifier()) },
		ConnectCompleted: func(d *Device, err error) {
			h.record("connect %s %s", d.Identifier(), codeName(err))
		},
		DisconnectCompleted: func(d *Device, err error) {
			h.record("disconnect %s %s", d.Identifier(), codeName(err))
		},
		ConnectionRestored: func(d *Device) { h.record("restored %s", d.Identifier()) },
		ConnectionLost: func(d *Device, err error) {
			h.record("lost %s %s", d.Identifier(), codeName(err))
		},
	})
	h.drain()
	if state != StateInitializing {
		h.expect("state " + state.String())
	}
	return h
}

func codeName(err error) string {
	return strings.TrimPrefix(Code(err).Error(), "gattcentral: ")
}

func (h *harness) record(format string, args ...interface{}) {
	h.events = append(h.events, fmt.Sprintf(format, args...))
}

func (h *harness) drain() {
	h.central.Loop().Drain()
}

// expect drains the loop and checks the callbacks recorded since the last
// call.
func (h *harness) expect(want ...string) {
	h.t.Helper()
	h.drain()
	got := h.events
	h.events = nil
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		h.t.Errorf("unexpected callbacks\n got: %q\nwant: %q", got, want)
	}
}

func (h *harness) mustSucceed(err error) {
	h.t.Helper()
	if err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
}

func (h *harness) wantCode(err error, code ErrorCode) {
	h.t.Helper()
	if Code(err) != code {
		h.t.Errorf("got %v, want %v", err, code)
	}
}

func (h *harness) startScan(filter ...UUID) {
	h.t.Helper()
	h.mustSucceed(h.central.StartScanning(UUIDFilter(filter), ScanOptions{AdvertisementTimeout: 10 * time.Second}))
	h.sim.SimulateScanStarted()
	h.expect("scan started")
}

func (h *harness) advertise(address, name string, mfr []byte, uuids ...UUID) {
	h.sim.SimulateAdvertisement(Advertisement{
		Address:          address,
		Name:             name,
		ManufacturerData: mfr,
		ServiceUUIDs:     uuids,
		RSSI:             -60,
	})
}

// discover scans for and returns a new device.
func (h *harness) discover(address string) *Device {
	h.t.Helper()
	if !h.central.IsScanning() {
		h.startScan()
	}
	h.advertise(address, "dev-"+address, nil)
	h.expect("added " + address)
	d := h.central.Device(address)
	if d == nil {
		h.t.Fatalf("device %s not registered", address)
	}
	return d
}

func (h *harness) connect(d *Device) {
	h.t.Helper()
	h.mustSucceed(h.central.ConnectAsync(d, false))
	h.sim.SimulateConnectResult(d.Identifier(), nil)
	h.expect("connect " + d.Identifier() + " no error")
}

func TestNewCentralReportsPlatformState(t *testing.T) {
	h := newHarnessWithState(t, StateInitializing)
	if s := h.central.State(); s != StateInitializing {
		t.Errorf("initial state %v", s)
	}
	h.sim.SimulateState(StatePoweredOff)
	h.expect("state PoweredOff")
	h.sim.SimulateState(StatePoweredOff)
	h.expect()
	h.sim.SimulateState(StatePoweredOn)
	h.expect("state PoweredOn")
	if s := h.central.State(); s != StatePoweredOn {
		t.Errorf("state %v", s)
	}
}

func TestNewCentralEnableError(t *testing.T) {
	sim := NewSimulator()
	sim.Fail("Enable", fmt.Errorf("no radio"))
	logger, _ := test.NewNullLogger()
	if _, err := NewCentral(WithPlatform(sim), WithLogger(logger)); Code(err) != Failed {
		t.Errorf("got %v, want Failed", err)
	}
}

func TestCentralDevicesOrder(t *testing.T) {
	h := newHarness(t)
	for _, addr := range []string{"C", "A", "B"} {
		h.discover(addr)
	}
	var ids []string
	for _, d := range h.central.Devices() {
		ids = append(ids, d.Identifier())
	}
	if !reflect.DeepEqual(ids, []string{"C", "A", "B"}) {
		t.Errorf("devices in order %v", ids)
	}
	if h.central.Device("missing") != nil {
		t.Error("lookup of unknown device returned a device")
	}
}

func TestRemoveDevice(t *testing.T) {
	h := newHarness(t)
	d := h.discover("A")
	h.connect(d)

	h.mustSucceed(h.central.RemoveDevice(d))
	h.expect("removed A")
	if n := h.sim.CallCount("Disconnect"); n != 1 {
		t.Errorf("Disconnect called %d times", n)
	}
	if n := h.sim.CallCount("Forget"); n != 1 {
		t.Errorf("Forget called %d times", n)
	}
	if d.IsValid() {
		t.Error("removed device is still valid")
	}
	h.wantCode(h.central.RemoveDevice(d), ItemNotFound)
	h.wantCode(h.central.ConnectAsync(d, false), ItemNotFound)
	h.wantCode(d.GetServicesAsync(), ItemNotFound)
	h.wantCode(h.central.RemoveDevice(nil), InvalidArgument)

	// A late native completion for the removed device is ignored.
	h.sim.SimulateDisconnectResult("A", nil)
	h.expect()
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	a := h.discover("A")
	h.discover("B")
	h.connect(a)

	h.mustSucceed(h.central.Close())
	h.expect("scan stopped", "removed A", "removed B")
	if n := h.sim.CallCount("Close"); n != 1 {
		t.Errorf("platform closed %d times", n)
	}
	if len(h.central.Devices()) != 0 {
		t.Error("devices left after close")
	}

	h.wantCode(h.central.StartScanning(nil, DefaultScanOptions()), InvalidState)
	h.wantCode(h.central.ConnectAsync(a, false), InvalidState)

	// Events after close are dropped.
	h.sim.SimulateAdvertisement(Advertisement{Address: "C"})
	h.sim.SimulateState(StatePoweredOff)
	h.expect()

	h.mustSucceed(h.central.Close())
	if n := h.sim.CallCount("Close"); n != 1 {
		t.Errorf("second Close reached the platform")
	}
}

func TestHandlerRemoval(t *testing.T) {
	h := newHarness(t)
	var added int
	remove := h.central.AddHandler(CentralHandler{
		DeviceAdded: func(*Device) { added++ },
	})
	h.discover("A")
	remove()
	h.discover("B")
	if added != 1 {
		t.Errorf("removed handler called %d times", added)
	}
}
