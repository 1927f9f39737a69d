package gattcentral

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

func simulatedHeartRateMonitor() SimulatedPeer {
	return SimulatedPeer{
		Address:          "AA:BB:CC:DD:EE:01",
		Name:             "HRM",
		ManufacturerData: []byte{0x59, 0x00},
		RSSI:             -55,
		Services: []SimulatedService{{
			UUID: heartRateService,
			Characteristics: []SimulatedCharacteristic{
				{
					UUID:        heartRateMeasurement,
					Properties:  PropertyNotify,
					Value:       []byte{0x00, 0x40},
					Descriptors: []SimulatedDescriptor{{UUID: clientConfig, Value: []byte{0, 0}}},
				},
				{
					UUID:       bodySensorLocation,
					Properties: PropertyRead | PropertyWrite,
					Value:      []byte{0x01},
				},
			},
		}},
	}
}

func TestAutoSimulator(t *testing.T) {
	sim := NewAutoSimulator(simulatedHeartRateMonitor(), SimulatedPeer{
		Address:      "AA:BB:CC:DD:EE:02",
		Name:         "broken",
		ConnectError: errors.New("connection refused"),
	})
	logger, _ := test.NewNullLogger()
	c, err := NewCentral(WithPlatform(sim), WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	loop := c.Loop()
	loop.Drain()

	var connected, failed *Device
	c.AddHandler(CentralHandler{
		ConnectCompleted: func(d *Device, err error) {
			if err != nil {
				failed = d
				return
			}
			connected = d
		},
	})

	if err := c.StartScanning(UUIDFilter{heartRateService}, DefaultScanOptions()); err != nil {
		t.Fatal(err)
	}
	loop.Drain()
	if len(c.Devices()) != 1 {
		t.Fatalf("found %d devices", len(c.Devices()))
	}
	if err := c.StartScanning(nil, DefaultScanOptions()); err != nil {
		t.Fatal(err)
	}
	loop.Drain()
	devices := c.Devices()
	if len(devices) != 2 {
		t.Fatalf("found %d devices", len(devices))
	}
	hrm := c.Device("AA:BB:CC:DD:EE:01")
	if hrm.Name() != "HRM" || hrm.RSSI() != -55 {
		t.Errorf("unexpected advertisement %q %d", hrm.Name(), hrm.RSSI())
	}

	if err := c.ConnectAsync(c.Device("AA:BB:CC:DD:EE:02"), false); err != nil {
		t.Fatal(err)
	}
	if err := c.ConnectAsync(hrm, false); err != nil {
		t.Fatal(err)
	}
	loop.Drain()
	if connected != hrm || failed == nil || failed.IsConnected() {
		t.Fatalf("connect results %v %v", connected, failed)
	}

	var services []*Service
	hrm.AddHandler(DeviceHandler{ServicesDiscovered: func(s []*Service, err error) { services = s }})
	if err := hrm.GetServicesAsync(); err != nil {
		t.Fatal(err)
	}
	loop.Drain()
	if len(services) != 1 || services[0].UUID() != heartRateService {
		t.Fatalf("services %v", services)
	}

	var chars []*Characteristic
	services[0].AddHandler(ServiceHandler{CharacteristicsDiscovered: func(c []*Characteristic, err error) { chars = c }})
	if err := services[0].GetCharacteristicsAsync(nil); err != nil {
		t.Fatal(err)
	}
	loop.Drain()
	if len(chars) != 2 {
		t.Fatalf("got %d characteristics", len(chars))
	}
	measurement, location := chars[0], chars[1]

	var notified, read [][]byte
	measurement.AddHandler(CharacteristicHandler{
		NotificationReceived: func(v []byte) { notified = append(notified, v) },
	})
	location.AddHandler(CharacteristicHandler{
		ReadCompleted: func(v []byte, err error) { read = append(read, v) },
		WriteCompleted: func(err error) {
			if err != nil {
				t.Errorf("write failed: %v", err)
			}
		},
	})

	if err := sim.UpdateValue(hrm.Identifier(), heartRateMeasurement, []byte{0x00, 0x41}); err != nil {
		t.Fatal(err)
	}
	if err := measurement.SubscribeAsync(); err != nil {
		t.Fatal(err)
	}
	loop.Drain()
	if !measurement.IsSubscribed() {
		t.Fatal("not subscribed")
	}
	if err := sim.UpdateValue(hrm.Identifier(), heartRateMeasurement, []byte{0x00, 0x42}); err != nil {
		t.Fatal(err)
	}
	loop.Drain()
	if len(notified) != 1 || !bytes.Equal(notified[0], []byte{0x00, 0x42}) {
		t.Errorf("notifications %x", notified)
	}

	if err := location.ReadAsync(); err != nil {
		t.Fatal(err)
	}
	loop.Drain()
	if err := location.WriteAsync([]byte{0x03}); err != nil {
		t.Fatal(err)
	}
	loop.Drain()
	if err := location.ReadAsync(); err != nil {
		t.Fatal(err)
	}
	loop.Drain()
	if len(read) != 2 || !bytes.Equal(read[0], []byte{0x01}) || !bytes.Equal(read[1], []byte{0x03}) {
		t.Errorf("reads %x", read)
	}

	if err := sim.UpdateValue(hrm.Identifier(), New16BitUUID(0x2A39), nil); Code(err) != ItemNotFound {
		t.Errorf("update of unknown characteristic: %v", err)
	}

	if err := c.DisconnectAsync(hrm); err != nil {
		t.Fatal(err)
	}
	loop.Drain()
	if hrm.ConnectionState() != Disconnected || measurement.IsValid() {
		t.Error("disconnect did not complete")
	}
	if err := sim.UpdateValue(hrm.Identifier(), heartRateMeasurement, []byte{0x00, 0x43}); err != nil {
		t.Fatal(err)
	}
	loop.Drain()
	if len(notified) != 1 {
		t.Error("notification delivered after disconnect")
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	loop.Drain()
}
