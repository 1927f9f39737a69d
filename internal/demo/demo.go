// Package demo wires a Central for the example programs: logging and
// platform selection from the config, and a simulated heart rate monitor for
// machines without a radio.
package demo

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cclsoftware/gattcentral"
	"github.com/cclsoftware/gattcentral/internal/config"
)

// SimulatedAddress is the address of the simulated heart rate monitor.
const SimulatedAddress = "C0:FF:EE:00:18:0D"

var bodySensorLocation = gattcentral.New16BitUUID(0x2A38)

// NewLogger returns a text logger at the configured level.
func NewLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(cfg.Level())
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

// HeartRatePeer describes the simulated heart rate monitor.
func HeartRatePeer() gattcentral.SimulatedPeer {
	return gattcentral.SimulatedPeer{
		Address:          SimulatedAddress,
		Name:             "Simulated HRM",
		ManufacturerData: []byte{0xff, 0xff, 0x01},
		RSSI:             -48,
		Services: []gattcentral.SimulatedService{
			{
				UUID: gattcentral.ServiceUUIDHeartRate,
				Characteristics: []gattcentral.SimulatedCharacteristic{
					{
						UUID:       gattcentral.CharacteristicUUIDHeartRateMeasurement,
						Properties: gattcentral.PropertyNotify,
						Value:      []byte{0x00, 60},
						Descriptors: []gattcentral.SimulatedDescriptor{
							{UUID: gattcentral.DescriptorUUIDClientCharacteristicConfiguration, Value: []byte{0, 0}},
						},
					},
					{
						UUID:       bodySensorLocation,
						Properties: gattcentral.PropertyRead,
						Value:      []byte{0x01},
					},
				},
			},
			{
				UUID: gattcentral.ServiceUUIDBattery,
				Characteristics: []gattcentral.SimulatedCharacteristic{
					{
						UUID:       gattcentral.CharacteristicUUIDBatteryLevel,
						Properties: gattcentral.PropertyRead | gattcentral.PropertyNotify,
						Value:      []byte{87},
					},
				},
			},
		},
	}
}

// NewCentral creates a Central on the platform selected by cfg. With
// cfg.Simulate the heart rate monitor beats until ctx is done.
func NewCentral(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*gattcentral.Central, error) {
	opts := []gattcentral.Option{gattcentral.WithLogger(log)}
	if cfg.Simulate {
		sim := gattcentral.NewAutoSimulator(HeartRatePeer())
		opts = append(opts, gattcentral.WithPlatform(sim))
		go beat(ctx, sim, log)
	}
	return gattcentral.NewCentral(opts...)
}

// beat sends a heart rate measurement every second.
func beat(ctx context.Context, sim *gattcentral.Simulator, log logrus.FieldLogger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	bpm := byte(60)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		bpm++
		if bpm > 90 {
			bpm = 60
		}
		err := sim.UpdateValue(SimulatedAddress, gattcentral.CharacteristicUUIDHeartRateMeasurement, []byte{0x00, bpm})
		if err != nil {
			log.WithError(err).Warn("simulated measurement failed")
		}
	}
}

// HeartRate decodes a heart rate measurement value in beats per minute.
func HeartRate(value []byte) (uint16, bool) {
	if len(value) < 2 {
		return 0, false
	}
	if value[0]&0x01 == 0 {
		return uint16(value[1]), true
	}
	if len(value) < 3 {
		return 0, false
	}
	return uint16(value[1]) | uint16(value[2])<<8, true
}
