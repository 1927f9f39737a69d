//go:build linux

package gattcentral

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		err  error
		code ErrorCode
	}{
		{nil, NoError},
		{dbus.Error{Name: "org.bluez.Error.InProgress"}, BluetoothBusy},
		{dbus.Error{Name: "org.bluez.Error.NotReady"}, BluetoothBusy},
		{dbus.Error{Name: "org.bluez.Error.NotSupported"}, NotImplemented},
		{dbus.Error{Name: "org.bluez.Error.InvalidArguments"}, InvalidArgument},
		{dbus.Error{Name: "org.bluez.Error.DoesNotExist"}, ItemNotFound},
		{dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownObject"}, ItemNotFound},
		{dbus.Error{Name: "org.bluez.Error.Failed"}, Failed},
		{fmt.Errorf("connect: %w", dbus.Error{Name: "org.bluez.Error.InProgress"}), BluetoothBusy},
		{errors.New("plain"), Failed},
		{errorf(ItemNotFound, "unknown"), ItemNotFound},
	}
	for _, tc := range tests {
		if code := Code(mapError(tc.err)); code != tc.code {
			t.Errorf("mapError(%v): got %v, want %v", tc.err, code, tc.code)
		}
	}
}

func TestStateFromEnableError(t *testing.T) {
	if s := stateFromEnableError(dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"}); s != StatePermissionDenied {
		t.Errorf("access denied: got %v", s)
	}
	if s := stateFromEnableError(errors.New("no adapter")); s != StateNotSupported {
		t.Errorf("missing adapter: got %v", s)
	}
}

func TestEncodeManufacturerData(t *testing.T) {
	m := map[uint16]interface{}{
		0x0059: dbus.MakeVariant([]byte{0x01, 0x02}),
		0x004c: []byte{0xff},
	}
	want := []byte{0x4c, 0x00, 0xff, 0x59, 0x00, 0x01, 0x02}
	if got := encodeManufacturerData(m); !bytes.Equal(got, want) {
		t.Errorf("got %x, want %x", got, want)
	}
	if got := encodeManufacturerData(nil); got != nil {
		t.Errorf("empty map: got %x", got)
	}
}

func TestAddressFromPath(t *testing.T) {
	tests := map[dbus.ObjectPath]string{
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF":             "AA:BB:CC:DD:EE:FF",
		"/org/bluez/hci0/dev_aa_bb_cc_dd_ee_01/service000a": "AA:BB:CC:DD:EE:01",
		"/org/bluez/hci0": "",
	}
	for path, want := range tests {
		if got := addressFromPath(path); got != want {
			t.Errorf("addressFromPath(%s) = %q, want %q", path, got, want)
		}
	}
}

func TestHandleEpochs(t *testing.T) {
	const path = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/service000a")
	first, second := makeHandle(path, 1), makeHandle(path, 2)
	if first == second {
		t.Fatalf("rediscovery reused handle %s", first)
	}
	if p, epoch, ok := splitHandle(second); !ok || p != path || epoch != 2 {
		t.Errorf("splitHandle(%s) = %s, %d, %v", second, p, epoch, ok)
	}
	for _, h := range []Handle{Handle(path), Handle(path + "#x"), ""} {
		if _, _, ok := splitHandle(h); ok {
			t.Errorf("splitHandle(%q) accepted", h)
		}
	}

	d := &bluezDevice{epoch: 2}
	if _, _, err := d.resolveHandle(first); Code(err) != ItemNotFound {
		t.Errorf("handle of an earlier discovery: got %v", err)
	}
	if p, _, err := d.resolveHandle(second); err != nil || p != path {
		t.Errorf("current handle: got %s, %v", p, err)
	}
	if _, _, err := d.resolveHandle(Handle(path)); Code(err) != InvalidArgument {
		t.Errorf("untagged handle: got %v", err)
	}
}
