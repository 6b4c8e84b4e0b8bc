package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "espat",
	Short: "Drive an ESP-AT Wi-Fi co-processor over a serial port",
	Long: `espat talks to an ESP8266/ESP32 running the stock AT firmware and
exposes its five multiplexed links as TCP sockets.

Use --emulate to run against a built-in emulated co-processor.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("port", "", "serial port (overrides config)")
	rootCmd.PersistentFlags().Bool("emulate", false, "use the built-in emulated co-processor")

	rootCmd.AddCommand(replCmd, infoCmd, joinCmd, getCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
