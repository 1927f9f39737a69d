// Package gattcentral provides a cross-platform Bluetooth Low Energy GATT
// central for Go on Linux (BlueZ), macOS (CoreBluetooth) and Windows (WinRT).
//
// A Central scans for peripherals, keeps a registry of the devices it has
// seen and connects to them. Connected devices expose their services,
// characteristics and descriptors, which can be read, written and subscribed
// to. Every request returns immediately and reports its outcome later through
// a handler; all of this happens on the Central's Loop, so applications never
// need locks around the objects of this package.
//
// The Simulator platform runs the same code paths without a radio and is
// meant for tests and demos.
package gattcentral // import "github.com/cclsoftware/gattcentral"
