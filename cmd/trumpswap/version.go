package main

import (
	"fmt"

	"github.com/spf13/cobra"

	httpadapter "github.com/pizzacorruption/trumpswap-sub001/adapters/http"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trumpswap %s\n", httpadapter.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
