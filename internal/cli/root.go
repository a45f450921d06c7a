// Package cli implements the command-line interface for the Sol CLI.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/colthorp/sol-cli-go/internal/core"
	"github.com/colthorp/sol-cli-go/internal/logging"
)

// Global flags
var (
	verbose    bool
	quiet      bool
	raw        bool
	configPath string
	cacheRoot  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sol",
	Short: "Sol CLI – solar imagery and space weather",
	Long: `A command-line utility for browsing SDO solar images and SWPC space-weather
reports. Downloads are cached on disk and revalidated with ETags.`,
	Version:       core.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress messages")
	rootCmd.PersistentFlags().BoolVar(&raw, "raw", false, "Emit raw JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", core.ConfigPath(), "Config file")
	rootCmd.PersistentFlags().StringVar(&cacheRoot, "cache-root", "", "Cache directory (overrides config)")
}
