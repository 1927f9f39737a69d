package demo

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/cclsoftware/gattcentral"
	"github.com/cclsoftware/gattcentral/internal/config"
)

func TestHeartRate(t *testing.T) {
	tests := []struct {
		value []byte
		bpm   uint16
		ok    bool
	}{
		{[]byte{0x00, 72}, 72, true},
		{[]byte{0x01, 0x2c, 0x01}, 300, true},
		{[]byte{0x01, 0x2c}, 0, false},
		{[]byte{0x00}, 0, false},
		{nil, 0, false},
	}
	for _, tc := range tests {
		bpm, ok := HeartRate(tc.value)
		if bpm != tc.bpm || ok != tc.ok {
			t.Errorf("HeartRate(%x) = %d, %v; want %d, %v", tc.value, bpm, ok, tc.bpm, tc.ok)
		}
	}
}

func TestNewCentralSimulated(t *testing.T) {
	cfg := config.Default()
	cfg.Simulate = true
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := NewCentral(ctx, cfg, log)
	if err != nil {
		t.Fatal(err)
	}
	c.Loop().Drain()
	if c.State() != gattcentral.StatePoweredOn {
		t.Fatalf("state %v", c.State())
	}
	if err := c.StartScanning(nil, cfg.ScanOptions()); err != nil {
		t.Fatal(err)
	}
	c.Loop().Drain()
	d := c.Device(SimulatedAddress)
	if d == nil || d.Name() != "Simulated HRM" {
		t.Fatalf("simulated peer not found")
	}
}
