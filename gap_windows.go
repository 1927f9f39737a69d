package gattcentral

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/saltosystems/winrt-go"
	"github.com/saltosystems/winrt-go/windows/devices/bluetooth"
	"github.com/saltosystems/winrt-go/windows/devices/bluetooth/advertisement"
	"github.com/saltosystems/winrt-go/windows/devices/bluetooth/genericattributeprofile"
	"github.com/saltosystems/winrt-go/windows/foundation"
)

// winrtDevice holds the WinRT objects of one connection.
type winrtDevice struct {
	p             *winrtPlatform
	address       string
	autoReconnect bool
	cancelled     bool
	connected     bool

	device        *bluetooth.BluetoothLEDevice
	session       *genericattributeprofile.GattSession
	statusHandler *foundation.TypedEventHandler
	statusToken   foundation.EventRegistrationToken

	services    map[Handle]*genericattributeprofile.GattDeviceService
	chars       map[Handle]*genericattributeprofile.GattCharacteristic
	valueTokens map[Handle]foundation.EventRegistrationToken
}

// StartScan starts an advertisement watcher. Active scanning is used unless
// power saving was requested, so that scan responses carrying names are
// received.
func (p *winrtPlatform) StartScan(filter UUIDFilter, options ScanOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher != nil {
		if !p.stopping {
			return errorf(InvalidState, "already scanning")
		}
		// The old watcher may take a while to reach Stopped. Detach it and
		// confirm its stop now so the new scan does not wait on it.
		p.releaseWatcher()
		p.events.ScanStopped(nil)
	}

	watcher, err := advertisement.NewBluetoothLEAdvertisementWatcher()
	if err != nil {
		return wrapError(Failed, err)
	}
	mode := advertisement.BluetoothLEScanningModeActive
	if options.Mode == ScanModePowerSaving {
		mode = advertisement.BluetoothLEScanningModePassive
	}
	if err := watcher.SetScanningMode(mode); err != nil {
		watcher.Release()
		return wrapError(Failed, err)
	}

	// TypedEventHandler<BluetoothLEAdvertisementWatcher, BluetoothLEAdvertisementReceivedEventArgs>
	eventReceivedGuid := winrt.ParameterizedInstanceGUID(
		foundation.GUIDTypedEventHandler,
		advertisement.SignatureBluetoothLEAdvertisementWatcher,
		advertisement.SignatureBluetoothLEAdvertisementReceivedEventArgs,
	)
	received := foundation.NewTypedEventHandler(ole.NewGUID(eventReceivedGuid), func(instance *foundation.TypedEventHandler, sender, arg unsafe.Pointer) {
		args := (*advertisement.BluetoothLEAdvertisementReceivedEventArgs)(arg)
		p.events.AdvertisementReceived(advertisementFromArgs(args))
	})
	receivedToken, err := watcher.AddReceived(received)
	if err != nil {
		received.Release()
		watcher.Release()
		return wrapError(Failed, err)
	}

	// The watcher passes through a Stopping state; Stopped fires both after
	// StopScan and when the radio aborts the scan.
	eventStoppedGuid := winrt.ParameterizedInstanceGUID(
		foundation.GUIDTypedEventHandler,
		advertisement.SignatureBluetoothLEAdvertisementWatcher,
		advertisement.SignatureBluetoothLEAdvertisementWatcherStoppedEventArgs,
	)
	stopped := foundation.NewTypedEventHandler(ole.NewGUID(eventStoppedGuid), func(_ *foundation.TypedEventHandler, _, arg unsafe.Pointer) {
		args := (*advertisement.BluetoothLEAdvertisementWatcherStoppedEventArgs)(arg)
		var stopErr error
		if errCode, err := args.GetError(); err != nil {
			stopErr = fmt.Errorf("failed to get stopping error value: %w", err)
		} else if errCode != bluetooth.BluetoothErrorSuccess {
			stopErr = errorf(Failed, "scan stopped with error code %d", errCode)
		}
		go p.scanStopped(watcher, stopErr)
	})
	stoppedToken, err := watcher.AddStopped(stopped)
	if err != nil {
		watcher.RemoveReceived(receivedToken)
		received.Release()
		stopped.Release()
		watcher.Release()
		return wrapError(Failed, err)
	}

	p.watcher = watcher
	p.scanTokens = []foundation.EventRegistrationToken{receivedToken, stoppedToken}
	p.scanEvents = []*foundation.TypedEventHandler{received, stopped}
	p.stopping = false
	if err := watcher.Start(); err != nil {
		p.releaseWatcher()
		return wrapError(Failed, err)
	}
	p.events.ScanStarted()
	return nil
}

func (p *winrtPlatform) StopScan() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher == nil || p.stopping {
		return errorf(InvalidState, "not scanning")
	}
	p.stopping = true
	if err := p.watcher.Stop(); err != nil {
		return wrapError(Failed, err)
	}
	return nil
}

// scanStopped runs when watcher reports Stopped. Reports of a watcher that
// was already detached are dropped.
func (p *winrtPlatform) scanStopped(watcher *advertisement.BluetoothLEAdvertisementWatcher, err error) {
	p.mu.Lock()
	if p.watcher != watcher {
		p.mu.Unlock()
		return
	}
	p.releaseWatcher()
	p.mu.Unlock()
	p.events.ScanStopped(err)
}

// releaseWatcher must be called with p.mu held.
func (p *winrtPlatform) releaseWatcher() {
	if len(p.scanTokens) == 2 {
		p.watcher.RemoveReceived(p.scanTokens[0])
		p.watcher.RemoveStopped(p.scanTokens[1])
	}
	for _, h := range p.scanEvents {
		h.Release()
	}
	p.watcher.Release()
	p.watcher = nil
	p.scanTokens = nil
	p.scanEvents = nil
	p.stopping = false
}

func advertisementFromArgs(args *advertisement.BluetoothLEAdvertisementReceivedEventArgs) Advertisement {
	addr, _ := args.GetBluetoothAddress()
	rssi, _ := args.GetRawSignalStrengthInDBm()
	adv := Advertisement{
		Address: MACFromUint64(addr).String(),
		RSSI:    rssi,
	}

	winAdv, err := args.GetAdvertisement()
	if err != nil || winAdv == nil {
		return adv
	}
	adv.Name, _ = winAdv.GetLocalName()

	if vector, err := winAdv.GetManufacturerData(); err == nil {
		size, _ := vector.GetSize()
		for i := uint32(0); i < size; i++ {
			element, _ := vector.GetAt(i)
			manData := (*advertisement.BluetoothLEManufacturerData)(element)
			companyID, _ := manData.GetCompanyId()
			buffer, _ := manData.GetData()
			adv.ManufacturerData = append(adv.ManufacturerData, byte(companyID), byte(companyID>>8))
			adv.ManufacturerData = append(adv.ManufacturerData, bufferToSlice(buffer)...)
		}
	}

	if vector, err := winAdv.GetServiceUuids(); err == nil {
		size, _ := vector.GetSize()
		for i := uint32(0); i < size; i++ {
			element, _ := vector.GetAt(i)
			adv.ServiceUUIDs = append(adv.ServiceUUIDs, winRTUuidToUuid(*(*syscall.GUID)(element)))
		}
	}
	return adv
}

func (p *winrtPlatform) device(address string) *winrtDevice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devices[address]
}

// Connect opens a GATT session for the device. Windows does not support
// explicitly connecting to a device: a session with MaintainConnection set
// keeps it connected, and reconnects it after drops, until the session is
// closed.
func (p *winrtPlatform) Connect(address string, attempt ConnectAttempt, autoReconnect bool) error {
	mac, err := ParseMAC(address)
	if err != nil {
		return wrapError(InvalidArgument, err)
	}
	d := &winrtDevice{
		p:             p,
		address:       address,
		autoReconnect: autoReconnect,
		services:      make(map[Handle]*genericattributeprofile.GattDeviceService),
		chars:         make(map[Handle]*genericattributeprofile.GattCharacteristic),
		valueTokens:   make(map[Handle]foundation.EventRegistrationToken),
	}
	p.mu.Lock()
	if old := p.devices[address]; old != nil {
		p.mu.Unlock()
		return errorf(InvalidState, "device %s already has a session", address)
	}
	p.devices[address] = d
	p.mu.Unlock()

	go func() {
		err := d.open(mac.Uint64())
		p.mu.Lock()
		cancelled := d.cancelled
		if err == nil && !cancelled {
			d.connected = true
		}
		if err != nil || cancelled {
			if p.devices[address] == d {
				delete(p.devices, address)
			}
		}
		p.mu.Unlock()
		switch {
		case cancelled:
			d.close()
		case err != nil:
			d.close()
			p.events.ConnectResult(address, attempt, err)
		default:
			p.events.ConnectResult(address, attempt, nil)
		}
	}()
	return nil
}

func (d *winrtDevice) open(addr uint64) (err error) {
	defer recoverNative(&err)
	// IAsyncOperation<BluetoothLEDevice>
	bleDeviceOp, err := bluetooth.BluetoothLEDeviceFromBluetoothAddressAsync(addr)
	if err != nil {
		return wrapError(Failed, err)
	}
	if err := awaitAsyncOperation(bleDeviceOp, bluetooth.SignatureBluetoothLEDevice); err != nil {
		return wrapError(Failed, fmt.Errorf("error connecting to device: %w", err))
	}
	res, err := bleDeviceOp.GetResults()
	if err != nil {
		return wrapError(Failed, err)
	}
	// The result is null if the address is unknown to Windows.
	if uintptr(res) == 0x0 {
		return errorf(ItemNotFound, "device %s was not found", d.address)
	}
	d.device = (*bluetooth.BluetoothLEDevice)(res)

	// TypedEventHandler<BluetoothLEDevice, Object>
	guid := winrt.ParameterizedInstanceGUID(
		foundation.GUIDTypedEventHandler,
		bluetooth.SignatureBluetoothLEDevice,
		"cinterface(IInspectable)",
	)
	d.statusHandler = foundation.NewTypedEventHandler(ole.NewGUID(guid), func(_ *foundation.TypedEventHandler, _, _ unsafe.Pointer) {
		// The sender is empty, so the status is read from the device.
		status, err := d.device.GetConnectionStatus()
		if err != nil {
			return
		}
		d.connectionChanged(status == bluetooth.BluetoothConnectionStatusConnected)
	})
	d.statusToken, err = d.device.AddConnectionStatusChanged(d.statusHandler)
	if err != nil {
		return wrapError(Failed, err)
	}

	dID, err := d.device.GetBluetoothDeviceId()
	if err != nil {
		return wrapError(Failed, err)
	}
	gattSessionOp, err := genericattributeprofile.GattSessionFromDeviceIdAsync(dID) // IAsyncOperation<GattSession>
	if err != nil {
		return wrapError(Failed, err)
	}
	if err := awaitAsyncOperation(gattSessionOp, genericattributeprofile.SignatureGattSession); err != nil {
		return wrapError(Failed, fmt.Errorf("error getting gatt session: %w", err))
	}
	gattRes, err := gattSessionOp.GetResults()
	if err != nil {
		return wrapError(Failed, err)
	}
	d.session = (*genericattributeprofile.GattSession)(gattRes)
	if err := d.session.SetMaintainConnection(true); err != nil {
		return wrapError(Failed, err)
	}
	return nil
}

func (d *winrtDevice) connectionChanged(connected bool) {
	p := d.p
	p.mu.Lock()
	if p.devices[d.address] != d || d.connected == connected {
		p.mu.Unlock()
		return
	}
	d.connected = connected
	drop := !connected && !d.autoReconnect
	if drop {
		delete(p.devices, d.address)
	}
	p.mu.Unlock()
	p.events.ConnectionChanged(d.address, connected, nil)
	if drop {
		d.close()
	}
}

// close releases the session and the device. It is safe on a partially
// opened device.
func (d *winrtDevice) close() {
	for h, token := range d.valueTokens {
		if c := d.chars[h]; c != nil {
			c.RemoveValueChanged(token)
		}
	}
	for _, c := range d.chars {
		c.Release()
	}
	for _, s := range d.services {
		s.Release()
	}
	if d.session != nil {
		d.session.Close()
		d.session.Release()
		d.session = nil
	}
	if d.device != nil {
		if d.statusHandler != nil {
			d.device.RemoveConnectionStatusChanged(d.statusToken)
			d.statusHandler.Release()
		}
		d.device.Close()
		d.device.Release()
		d.device = nil
	}
}

func (p *winrtPlatform) CancelConnect(address string) error {
	p.mu.Lock()
	d := p.devices[address]
	if d == nil {
		p.mu.Unlock()
		return nil
	}
	d.cancelled = true
	connected := d.connected
	delete(p.devices, address)
	p.mu.Unlock()
	if connected {
		go d.close()
	}
	return nil
}

// Disconnect closes the GATT session. This does not wait until the
// connection is fully gone.
func (p *winrtPlatform) Disconnect(address string) error {
	p.mu.Lock()
	d := p.devices[address]
	delete(p.devices, address)
	p.mu.Unlock()
	if d == nil {
		return errorf(ItemNotFound, "no session for %s", address)
	}
	go func() {
		d.close()
		p.events.DisconnectResult(address, nil)
	}()
	return nil
}

// SetConnectionMode is not implemented: the WinRT bindings in use do not
// expose BluetoothLEDevice.RequestPreferredConnectionParameters.
func (p *winrtPlatform) SetConnectionMode(address string, mode ConnectionMode) error {
	return errorf(NotImplemented, "connection parameters are not available")
}

func (p *winrtPlatform) Forget(address string) {
	p.mu.Lock()
	d := p.devices[address]
	delete(p.devices, address)
	p.mu.Unlock()
	if d != nil {
		go d.close()
	}
}
