package main

import (
	"fmt"
	"os"

	"github.com/engramhq/engram/internal/cli"
	"github.com/engramhq/engram/internal/cli/admin"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "engramd",
		Short:   "Engram daemon",
		Long:    "Engram daemon for running the knowledge API server and ingestion worker",
		Version: version,
	}

	rootCmd.AddCommand(admin.ServeCmd())
	cli.AddHelpJSONFlag(rootCmd)

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
