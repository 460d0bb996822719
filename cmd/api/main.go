package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := serveCmd()

	rootCmd := &cobra.Command{
		Use:           "payflow",
		Short:         "Payflow - payment transfer engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running the binary bare starts the API.
		RunE: serve.RunE,
	}

	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}
