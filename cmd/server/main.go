// Command kvfabric runs the sharded key-value serving process and its
// supporting tooling, following cockroachdb-pebble's cmd/pebble: one
// cobra root command, subcommands added via rootCmd.AddCommand, no
// global flag parsing outside of cobra.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kvfabric [command] (flags)",
	Short: "sharded, UDF-extensible key-value serving runtime",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(serveCmd, deltaCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
