package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// exitDrift is the exit status when reconciliation finds drift; 1 means the
// check could not run.
const exitDrift = 2

var errDrift = errors.New("stock drift detected")

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.InfoLevel)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errDrift) {
			os.Exit(exitDrift)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "stockctl",
	Short:         "stockpos operations CLI",
	Long:          "Schema migration, stock reconciliation and alert queue inspection for stockpos.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(alertsCmd)
}
