//go:build !linux || tinygo

package ble

func newPairingAgent(emit func(GAPEvent)) (pairingAgent, error) {
	return nil, nil
}
