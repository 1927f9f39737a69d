package gattcentral

// Registered attribute types used by the package and its examples.
var (
	ServiceUUIDGenericAccess     = New16BitUUID(0x1800)
	ServiceUUIDGenericAttribute  = New16BitUUID(0x1801)
	ServiceUUIDDeviceInformation = New16BitUUID(0x180A)
	ServiceUUIDHeartRate         = New16BitUUID(0x180D)
	ServiceUUIDBattery           = New16BitUUID(0x180F)

	CharacteristicUUIDDeviceName           = New16BitUUID(0x2A00)
	CharacteristicUUIDBatteryLevel         = New16BitUUID(0x2A19)
	CharacteristicUUIDHeartRateMeasurement = New16BitUUID(0x2A37)

	// DescriptorUUIDClientCharacteristicConfiguration is the CCCD toggled by
	// SubscribeAsync and UnsubscribeAsync.
	DescriptorUUIDClientCharacteristicConfiguration = New16BitUUID(0x2902)
	DescriptorUUIDCharacteristicUserDescription     = New16BitUUID(0x2901)
)
