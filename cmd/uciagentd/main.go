package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orin-labs/uciagent/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "uciagentd",
		Short: "UCI agent daemon",
		Long:  "uciagentd turns natural-language requests into validated UCI scripts for OpenWRT routers and serves the API for submitting and running them",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.IngestCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
