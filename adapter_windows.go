package gattcentral

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/go-ole/go-ole"
	"github.com/saltosystems/winrt-go"
	"github.com/saltosystems/winrt-go/windows/devices/bluetooth/advertisement"
	"github.com/saltosystems/winrt-go/windows/devices/bluetooth/genericattributeprofile"
	"github.com/saltosystems/winrt-go/windows/foundation"
	"github.com/saltosystems/winrt-go/windows/storage/streams"
	"github.com/sirupsen/logrus"
)

// winrtPlatform drives the WinRT Bluetooth APIs. Asynchronous WinRT
// operations are awaited on their own goroutine.
type winrtPlatform struct {
	log    logrus.FieldLogger
	events PlatformEvents

	mu         sync.Mutex
	watcher    *advertisement.BluetoothLEAdvertisementWatcher
	scanTokens []foundation.EventRegistrationToken
	scanEvents []*foundation.TypedEventHandler
	stopping   bool
	devices    map[string]*winrtDevice
	nextHandle int
}

// DefaultPlatform returns the WinRT platform.
func DefaultPlatform(log logrus.FieldLogger) (Platform, error) {
	return &winrtPlatform{
		log:     log.WithField("platform", "winrt"),
		devices: make(map[string]*winrtDevice),
	}, nil
}

// Enable initializes the Windows runtime. WinRT exposes no radio state to
// desktop applications through these APIs, so the radio is reported as
// powered on once the runtime is up.
func (p *winrtPlatform) Enable(events PlatformEvents) error {
	p.events = events
	if err := ole.RoInitialize(1); err != nil { // initialize with multithreading enabled
		events.StateChanged(StateNotSupported)
		return nil
	}
	events.StateChanged(StatePoweredOn)
	return nil
}

func (p *winrtPlatform) Close() error {
	p.mu.Lock()
	watcher := p.watcher
	devices := p.devices
	p.devices = make(map[string]*winrtDevice)
	p.mu.Unlock()
	if watcher != nil {
		p.StopScan()
	}
	for _, d := range devices {
		d.close()
	}
	return nil
}

// newHandle must be called with p.mu held.
func (p *winrtPlatform) newHandle(kind string) Handle {
	p.nextHandle++
	return Handle(kind + strconv.Itoa(p.nextHandle))
}

// awaitAsyncOperation blocks until the WinRT operation completes.
// genericParamSignature is the signature of the operation's result type.
func awaitAsyncOperation(asyncOperation *foundation.IAsyncOperation, genericParamSignature string) error {
	var status foundation.AsyncStatus

	// AsyncOperationCompletedHandler is a generic delegate, so its GUID
	// depends on the result type.
	iid := winrt.ParameterizedInstanceGUID(foundation.GUIDAsyncOperationCompletedHandler, genericParamSignature)

	waitChan := make(chan struct{})
	handler := foundation.NewAsyncOperationCompletedHandler(ole.NewGUID(iid), func(instance *foundation.AsyncOperationCompletedHandler, asyncInfo *foundation.IAsyncOperation, asyncStatus foundation.AsyncStatus) {
		status = asyncStatus
		close(waitChan)
	})
	defer handler.Release()

	if err := asyncOperation.SetCompleted(handler); err != nil {
		return err
	}
	<-waitChan

	if status != foundation.AsyncStatusCompleted {
		return fmt.Errorf("async operation failed with status %d", status)
	}
	return nil
}

// statusError converts a GATT communication status into an error.
func statusError(status genericattributeprofile.GattCommunicationStatus) error {
	switch status {
	case genericattributeprofile.GattCommunicationStatusSuccess:
		return nil
	case genericattributeprofile.GattCommunicationStatusUnreachable:
		return errorf(BluetoothBusy, "device unreachable")
	case genericattributeprofile.GattCommunicationStatusAccessDenied:
		return errorf(Failed, "access denied")
	default:
		return errorf(Failed, "gatt communication failed with status %d", status)
	}
}

func bufferToSlice(buffer *streams.IBuffer) []byte {
	dataReader, err := streams.DataReaderFromBuffer(buffer)
	if err != nil {
		return nil
	}
	defer dataReader.Release()
	bufferSize, _ := buffer.GetLength()
	if bufferSize == 0 {
		return nil
	}
	data, _ := dataReader.ReadBytes(bufferSize)
	return data
}

func sliceToBuffer(p []byte) (*streams.IBuffer, error) {
	writer, err := streams.NewDataWriter()
	if err != nil {
		return nil, err
	}
	defer writer.Release()
	if err := writer.WriteBytes(uint32(len(p)), p); err != nil {
		return nil, err
	}
	return writer.DetachBuffer()
}
