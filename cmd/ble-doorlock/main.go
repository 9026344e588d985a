// Command ble-doorlock runs the BLE door lock on a Linux host: a Raspberry
// Pi with a servo, confirm button and indicator LED, or a desktop simulator.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaz8081/ble-doorlock/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "ble-doorlock <command>",
	Short:        "BLE door lock peripheral",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to config file (default: ~/.config/ble-doorlock/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(payloadCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}
