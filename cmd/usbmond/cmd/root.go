// Package cmd implements the usbmond CLI commands.
package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const envConfigPath = "USBMON_CONFIG"

var (
	// Version is set at build time
	Version = "0.1.0"

	// Global flags
	configPath string
)

var (
	okFmt   = color.New(color.FgGreen, color.Bold).SprintFunc()
	failFmt = color.New(color.FgRed, color.Bold).SprintFunc()
	keyFmt  = color.New(color.FgCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "usbmond",
	Short: "USB device authorization daemon",
	Long: `usbmond decides whether newly attached USB devices may be used.

It applies per-model security rules, screens descriptors for protocol
anomalies and runs the configured authorization policy, prompting on the
terminal when confirmation is required.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(envConfigPath), "Daemon config file (YAML)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
