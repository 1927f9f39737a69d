//go:build !linux && !darwin && !windows

package gattcentral

import "github.com/sirupsen/logrus"

// unsupportedPlatform reports StateNotSupported and rejects every request.
type unsupportedPlatform struct{}

// DefaultPlatform returns a platform without Bluetooth support.
func DefaultPlatform(log logrus.FieldLogger) (Platform, error) {
	log.Warn("bluetooth is not supported on this operating system")
	return unsupportedPlatform{}, nil
}

var errUnsupported = errorf(NotImplemented, "bluetooth is not supported on this operating system")

func (unsupportedPlatform) Enable(events PlatformEvents) error {
	events.StateChanged(StateNotSupported)
	return nil
}

func (unsupportedPlatform) Close() error                                   { return nil }
func (unsupportedPlatform) StartScan(UUIDFilter, ScanOptions) error        { return errUnsupported }
func (unsupportedPlatform) StopScan() error                                { return errUnsupported }
func (unsupportedPlatform) Connect(string, ConnectAttempt, bool) error     { return errUnsupported }
func (unsupportedPlatform) CancelConnect(string) error                     { return errUnsupported }
func (unsupportedPlatform) Disconnect(string) error                        { return errUnsupported }
func (unsupportedPlatform) SetConnectionMode(string, ConnectionMode) error { return errUnsupported }
func (unsupportedPlatform) Forget(string)                                  {}
func (unsupportedPlatform) DiscoverServices(string) error                  { return errUnsupported }
func (unsupportedPlatform) DiscoverCharacteristics(string, Handle) error   { return errUnsupported }
func (unsupportedPlatform) DiscoverDescriptors(string, Handle) error       { return errUnsupported }
func (unsupportedPlatform) ReadCharacteristic(string, Handle) error        { return errUnsupported }
func (unsupportedPlatform) WriteCharacteristic(string, Handle, []byte, bool) error {
	return errUnsupported
}
func (unsupportedPlatform) SetNotify(string, Handle, bool) error         { return errUnsupported }
func (unsupportedPlatform) ReadDescriptor(string, Handle) error          { return errUnsupported }
func (unsupportedPlatform) WriteDescriptor(string, Handle, []byte) error { return errUnsupported }
