package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/reelfetch/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Version needs no config or logger
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "reelfetch version %s\n", common.GetFullVersion())
	},
}
