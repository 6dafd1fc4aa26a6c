package main

import (
	"os"

	cmd "github.com/davidjrichardson/erts-2020/cmd/tpwsn/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.VersionCmd,
		cmd.NewTrickleCmd(),
		cmd.NewRMHCmd())

	//Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
