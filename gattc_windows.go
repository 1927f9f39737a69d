package gattcentral

import (
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/saltosystems/winrt-go"
	"github.com/saltosystems/winrt-go/windows/devices/bluetooth"
	"github.com/saltosystems/winrt-go/windows/devices/bluetooth/genericattributeprofile"
	"github.com/saltosystems/winrt-go/windows/foundation"
)

func winRTUuidToUuid(uuid syscall.GUID) UUID {
	return NewUUID([16]byte{
		byte(uuid.Data1 >> 24),
		byte(uuid.Data1 >> 16),
		byte(uuid.Data1 >> 8),
		byte(uuid.Data1),
		byte(uuid.Data2 >> 8),
		byte(uuid.Data2),
		byte(uuid.Data3 >> 8),
		byte(uuid.Data3),
		uuid.Data4[0], uuid.Data4[1],
		uuid.Data4[2], uuid.Data4[3],
		uuid.Data4[4], uuid.Data4[5],
		uuid.Data4[6], uuid.Data4[7],
	})
}

func (p *winrtPlatform) connected(address string) (*winrtDevice, error) {
	d := p.device(address)
	if d == nil || d.device == nil {
		return nil, errorf(InvalidState, "no session for %s", address)
	}
	return d, nil
}

func (p *winrtPlatform) DiscoverServices(address string) error {
	d, err := p.connected(address)
	if err != nil {
		return err
	}
	go func() {
		services, err := d.discoverServices()
		p.events.ServicesDiscovered(address, services, err)
	}()
	return nil
}

func (d *winrtDevice) discoverServices() (infos []ServiceInfo, err error) {
	defer recoverNative(&err)
	// IAsyncOperation<GattDeviceServicesResult>
	getServicesOperation, err := d.device.GetGattServicesWithCacheModeAsync(bluetooth.BluetoothCacheModeUncached)
	if err != nil {
		return nil, wrapError(Failed, err)
	}
	if err := awaitAsyncOperation(getServicesOperation, genericattributeprofile.SignatureGattDeviceServicesResult); err != nil {
		return nil, wrapError(Failed, err)
	}
	res, err := getServicesOperation.GetResults()
	if err != nil {
		return nil, wrapError(Failed, err)
	}
	servicesResult := (*genericattributeprofile.GattDeviceServicesResult)(res)
	status, err := servicesResult.GetStatus()
	if err != nil {
		return nil, wrapError(Failed, err)
	}
	if err := statusError(status); err != nil {
		return nil, err
	}

	// IVectorView<GattDeviceService>
	servicesVector, err := servicesResult.GetServices()
	if err != nil {
		return nil, wrapError(Failed, err)
	}
	servicesSize, err := servicesVector.GetSize()
	if err != nil {
		return nil, wrapError(Failed, err)
	}

	p := d.p
	for i := uint32(0); i < servicesSize; i++ {
		s, err := servicesVector.GetAt(i)
		if err != nil {
			return nil, wrapError(Failed, err)
		}
		srv := (*genericattributeprofile.GattDeviceService)(s)
		guid, err := srv.GetUuid()
		if err != nil {
			return nil, wrapError(Failed, err)
		}
		p.mu.Lock()
		h := p.newHandle("svc")
		d.services[h] = srv
		p.mu.Unlock()
		infos = append(infos, ServiceInfo{Handle: h, UUID: winRTUuidToUuid(guid), Primary: true})
	}
	return infos, nil
}

func (p *winrtPlatform) DiscoverCharacteristics(address string, service Handle) error {
	d, err := p.connected(address)
	if err != nil {
		return err
	}
	p.mu.Lock()
	srv := d.services[service]
	p.mu.Unlock()
	if srv == nil {
		return errorf(ItemNotFound, "unknown service %s", service)
	}
	go func() {
		chars, err := d.discoverCharacteristics(srv)
		p.events.CharacteristicsDiscovered(address, service, chars, err)
	}()
	return nil
}

func (d *winrtDevice) discoverCharacteristics(srv *genericattributeprofile.GattDeviceService) (infos []CharacteristicInfo, err error) {
	defer recoverNative(&err)
	getCharacteristicsOp, err := srv.GetCharacteristicsWithCacheModeAsync(bluetooth.BluetoothCacheModeUncached)
	if err != nil {
		return nil, wrapError(Failed, err)
	}
	// IAsyncOperation<GattCharacteristicsResult>
	if err := awaitAsyncOperation(getCharacteristicsOp, genericattributeprofile.SignatureGattCharacteristicsResult); err != nil {
		return nil, wrapError(Failed, err)
	}
	res, err := getCharacteristicsOp.GetResults()
	if err != nil {
		return nil, wrapError(Failed, err)
	}
	gattCharResult := (*genericattributeprofile.GattCharacteristicsResult)(res)

	// IVectorView<GattCharacteristic>
	charVector, err := gattCharResult.GetCharacteristics()
	if err != nil {
		return nil, wrapError(Failed, err)
	}
	characteristicsSize, err := charVector.GetSize()
	if err != nil {
		return nil, wrapError(Failed, err)
	}

	p := d.p
	for i := uint32(0); i < characteristicsSize; i++ {
		c, err := charVector.GetAt(i)
		if err != nil {
			return nil, wrapError(Failed, err)
		}
		characteristic := (*genericattributeprofile.GattCharacteristic)(c)
		guid, err := characteristic.GetUuid()
		if err != nil {
			return nil, wrapError(Failed, err)
		}
		properties, err := characteristic.GetCharacteristicProperties()
		if err != nil {
			return nil, wrapError(Failed, err)
		}
		p.mu.Lock()
		h := p.newHandle("chr")
		d.chars[h] = characteristic
		p.mu.Unlock()
		infos = append(infos, CharacteristicInfo{
			Handle: h,
			UUID:   winRTUuidToUuid(guid),
			// The low bits of GattCharacteristicProperties match the
			// properties byte of the characteristic declaration.
			Properties: CharacteristicProperties(properties & 0xff),
		})
	}
	return infos, nil
}

// DiscoverDescriptors is not implemented: the WinRT bindings in use do not
// include GattDescriptor.
func (p *winrtPlatform) DiscoverDescriptors(address string, characteristic Handle) error {
	return errorf(NotImplemented, "descriptors are not available")
}

func (p *winrtPlatform) ReadDescriptor(address string, descriptor Handle) error {
	return errorf(NotImplemented, "descriptors are not available")
}

func (p *winrtPlatform) WriteDescriptor(address string, descriptor Handle, value []byte) error {
	return errorf(NotImplemented, "descriptors are not available")
}

func (p *winrtPlatform) characteristic(address string, h Handle) (*winrtDevice, *genericattributeprofile.GattCharacteristic, error) {
	d, err := p.connected(address)
	if err != nil {
		return nil, nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := d.chars[h]
	if c == nil {
		return nil, nil, errorf(ItemNotFound, "unknown characteristic %s", h)
	}
	return d, c, nil
}

func (p *winrtPlatform) ReadCharacteristic(address string, characteristic Handle) error {
	_, c, err := p.characteristic(address, characteristic)
	if err != nil {
		return err
	}
	go func() {
		value, err := readCharacteristic(c)
		p.events.CharacteristicRead(address, characteristic, value, err)
	}()
	return nil
}

func readCharacteristic(c *genericattributeprofile.GattCharacteristic) (value []byte, err error) {
	defer recoverNative(&err)
	readOp, err := c.ReadValueWithCacheModeAsync(bluetooth.BluetoothCacheModeUncached)
	if err != nil {
		return nil, wrapError(Failed, err)
	}
	// IAsyncOperation<GattReadResult>
	if err := awaitAsyncOperation(readOp, genericattributeprofile.SignatureGattReadResult); err != nil {
		return nil, wrapError(Failed, err)
	}
	res, err := readOp.GetResults()
	if err != nil {
		return nil, wrapError(Failed, err)
	}
	result := (*genericattributeprofile.GattReadResult)(res)
	status, err := result.GetStatus()
	if err != nil {
		return nil, wrapError(Failed, err)
	}
	if err := statusError(status); err != nil {
		return nil, err
	}
	buffer, err := result.GetValue()
	if err != nil {
		return nil, wrapError(Failed, err)
	}
	return bufferToSlice(buffer), nil
}

func (p *winrtPlatform) WriteCharacteristic(address string, characteristic Handle, value []byte, withResponse bool) error {
	_, c, err := p.characteristic(address, characteristic)
	if err != nil {
		return err
	}
	mode := genericattributeprofile.GattWriteOptionWriteWithResponse
	if !withResponse {
		mode = genericattributeprofile.GattWriteOptionWriteWithoutResponse
	}
	go func() {
		p.events.CharacteristicWritten(address, characteristic, writeCharacteristic(c, value, mode))
	}()
	return nil
}

func writeCharacteristic(c *genericattributeprofile.GattCharacteristic, p []byte, mode genericattributeprofile.GattWriteOption) (err error) {
	defer recoverNative(&err)
	value, err := sliceToBuffer(p)
	if err != nil {
		return wrapError(Failed, err)
	}
	// IAsyncOperation<GattCommunicationStatus>
	asyncOp, err := c.WriteValueWithOptionAsync(value, mode)
	if err != nil {
		return wrapError(Failed, err)
	}
	if err := awaitAsyncOperation(asyncOp, genericattributeprofile.SignatureGattCommunicationStatus); err != nil {
		return wrapError(Failed, err)
	}
	res, err := asyncOp.GetResults()
	if err != nil {
		return wrapError(Failed, err)
	}
	return statusError(genericattributeprofile.GattCommunicationStatus(uintptr(res)))
}

// SetNotify writes the Client Characteristic Configuration Descriptor and
// listens for value changes. Indications are used when the characteristic
// cannot notify.
func (p *winrtPlatform) SetNotify(address string, characteristic Handle, enabled bool) error {
	d, c, err := p.characteristic(address, characteristic)
	if err != nil {
		return err
	}
	properties, err := c.GetCharacteristicProperties()
	if err != nil {
		return wrapError(Failed, err)
	}
	cccd := genericattributeprofile.GattClientCharacteristicConfigurationDescriptorValueNone
	if enabled {
		cccd = genericattributeprofile.GattClientCharacteristicConfigurationDescriptorValueNotify
		if properties&genericattributeprofile.GattCharacteristicPropertiesNotify == 0 {
			cccd = genericattributeprofile.GattClientCharacteristicConfigurationDescriptorValueIndicate
		}
		if err := d.watchValue(characteristic, c); err != nil {
			return err
		}
	}
	go func() {
		err := writeCCCD(c, cccd)
		if !enabled || err != nil {
			d.unwatchValue(characteristic, c)
		}
		p.events.NotifyStateChanged(address, characteristic, enabled == (err == nil), err)
	}()
	return nil
}

func writeCCCD(c *genericattributeprofile.GattCharacteristic, value genericattributeprofile.GattClientCharacteristicConfigurationDescriptorValue) (err error) {
	defer recoverNative(&err)
	writeOp, err := c.WriteClientCharacteristicConfigurationDescriptorAsync(value)
	if err != nil {
		return wrapError(Failed, err)
	}
	// IAsyncOperation<GattCommunicationStatus>
	if err := awaitAsyncOperation(writeOp, genericattributeprofile.SignatureGattCommunicationStatus); err != nil {
		return wrapError(Failed, err)
	}
	res, err := writeOp.GetResults()
	if err != nil {
		return wrapError(Failed, err)
	}
	return statusError(genericattributeprofile.GattCommunicationStatus(uintptr(res)))
}

func (d *winrtDevice) watchValue(h Handle, c *genericattributeprofile.GattCharacteristic) error {
	d.p.mu.Lock()
	_, watching := d.valueTokens[h]
	d.p.mu.Unlock()
	if watching {
		return nil
	}
	// TypedEventHandler<GattCharacteristic,GattValueChangedEventArgs>
	guid := winrt.ParameterizedInstanceGUID(foundation.GUIDTypedEventHandler, genericattributeprofile.SignatureGattCharacteristic, genericattributeprofile.SignatureGattValueChangedEventArgs)
	handler := foundation.NewTypedEventHandler(ole.NewGUID(guid), func(instance *foundation.TypedEventHandler, sender, args unsafe.Pointer) {
		valueChangedEvent := (*genericattributeprofile.GattValueChangedEventArgs)(args)
		buf, err := valueChangedEvent.GetCharacteristicValue()
		if err != nil {
			return
		}
		d.p.events.CharacteristicChanged(d.address, h, bufferToSlice(buf))
	})
	token, err := c.AddValueChanged(handler)
	if err != nil {
		handler.Release()
		return wrapError(Failed, err)
	}
	d.p.mu.Lock()
	d.valueTokens[h] = token
	d.p.mu.Unlock()
	return nil
}

func (d *winrtDevice) unwatchValue(h Handle, c *genericattributeprofile.GattCharacteristic) {
	d.p.mu.Lock()
	token, ok := d.valueTokens[h]
	delete(d.valueTokens, h)
	d.p.mu.Unlock()
	if ok {
		c.RemoveValueChanged(token)
	}
}
