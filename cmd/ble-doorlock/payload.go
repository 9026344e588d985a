package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chaz8081/ble-doorlock/internal/ble"
	"github.com/chaz8081/ble-doorlock/internal/ble/advdata"
)

var payloadCmd = &cobra.Command{
	Use:   "payload",
	Short: "Print the encoded advertising payload",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := advdata.Marshal(ble.LockAdvPayload())
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}
		p, err := advdata.Unmarshal(raw)
		if err != nil {
			return fmt.Errorf("decoding payload: %w", err)
		}

		params := ble.LockAdvParams()
		fmt.Printf("Payload (%d/%d bytes): %s\n", len(raw), advdata.MaxPayloadBytes, hex.EncodeToString(raw))
		fmt.Printf("  Flags:        0x%02x\n", p.Flags)
		for _, u := range p.ServiceUUIDs {
			fmt.Printf("  Service UUID: %s\n", u)
		}
		fmt.Printf("  Company ID:   0x%04x\n", p.CompanyID())
		fmt.Printf("  Manufacturer: %s\n", hex.EncodeToString(p.ManufacturerData))
		fmt.Printf("  Interval:     %s - %s\n", params.IntervalMin.Duration(), params.IntervalMax.Duration())
		return nil
	},
}
