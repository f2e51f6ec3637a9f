package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "warpgrid-agent",
		Short: "WarpGrid shim agent",
		Long:  "Run the WarpGrid host-side shim agent: connection pooling, DNS resolution, and the virtual filesystem exposed to a guest component",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to daemon config file")
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
