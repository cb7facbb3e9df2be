package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Mvula88/impota-portal/internal/portal"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "impota-portal",
	Short:   "Impota portal - import cost guide backend",
	Long:    `Impota portal is the backend for the Impota import cost guides: entitlements, device limits, sessions, and Stripe checkout.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		if err := portal.Run(context.Background(), Version); err != nil {
			log.Error().Err(err).Msg("Portal failed")
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("impota-portal %s\n", Version)
		fmt.Printf("  build time: %s\n", BuildTime)
		fmt.Printf("  git commit: %s\n", GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
