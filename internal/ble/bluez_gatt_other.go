//go:build !linux || tinygo

package ble

func newGATTExporter(onWrite func(writeRequest)) (gattExporter, error) {
	return nil, nil
}
