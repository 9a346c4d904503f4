package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "trumpswap",
	Short: "Admission-controlled image generation backend",
	Long: `trumpswap is the backend for the image-composite site.

It meters every generation request through a layered admission pipeline:
global capacity protection, per-IP abuse detection, tiered per-identity
quotas and privileged bypass paths, then forwards admitted requests to the
external generation API and records usage only on confirmed success.

Quick start:
  trumpswap validate   # check configuration
  trumpswap serve      # start the server`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "trumpswap.yaml", "config file path")
}
