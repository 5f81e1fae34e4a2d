package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quizsnap/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "quizsnap",
	Short: "quizsnap - answers multiple-choice exam screenshots",
	Long: `quizsnap watches a capture folder for exam screenshots, reads them with OCR,
drops questions it has already seen and asks an AI model for the answer.

Results are written as JSON next to the OCR output in the output folder and
can be streamed over HTTP or exported to a Google Sheet.

Configuration is read from the environment and an optional .env file.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("quizsnap executed")

		fmt.Println("Welcome to quizsnap!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
