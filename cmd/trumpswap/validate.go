package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pizzacorruption/trumpswap-sub001/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("config OK: listening on %s:%d, upstream %s\n",
			cfg.Server.Host, cfg.Server.Port, cfg.Upstream.URL)
		if cfg.Admin.TestSecret != "" {
			fmt.Println("warning: test bypass secret is configured")
		}
		if cfg.Admin.PasswordHash == "" {
			fmt.Println("note: no admin password hash set, admin login disabled")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
