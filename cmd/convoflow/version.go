package main

import (
	"fmt"

	"github.com/convoflow/convoflow"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of convoflow",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("convoflow version %s\n", convoflow.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
