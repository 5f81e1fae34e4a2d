package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quizsnap/internal/logger"
	"quizsnap/internal/sheets"
	"quizsnap/internal/store"
	"quizsnap/pkg/models"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Append stored answers to the configured Google Sheet",
	Long: `Read every result in OUTPUT_DIR and append the answered ones to the
worksheet GOOGLE_SHEET_WORKSHEET of GOOGLE_SHEET_URL. The worksheet and its
header row are created when missing.

Required environment variables:
  GOOGLE_SHEET_URL - URL of the spreadsheet
  GOOGLE_SERVICE_ACCOUNT_KEY - Path to a service account JSON file, OR
  GOOGLE_APPLICATION_CREDENTIALS / GOOGLE_CREDENTIALS`,
	Example: `  quizsnap export
  quizsnap export --since 2h`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().Duration("since", 0, "Only export results created within this duration")
	exportCmd.Flags().Int("timeout", 120, "Export timeout in seconds")
}

func runExport(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("export")

	since, _ := cmd.Flags().GetDuration("since")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.New(cfg.OutputDir, cfg.VideoCaptureDir)
	if err != nil {
		return fmt.Errorf("failed to open output folder: %w", err)
	}
	all, err := st.Results()
	if err != nil {
		return fmt.Errorf("failed to read results: %w", err)
	}

	cutoff := time.Time{}
	if since > 0 {
		cutoff = time.Now().Add(-since)
	}
	var results []models.AnswerResult
	for _, r := range all {
		if r.Question == "" || r.CreatedAt.Before(cutoff) {
			continue
		}
		results = append(results, r)
	}
	if len(results) == 0 {
		fmt.Println("Nothing to export")
		return nil
	}

	ctx, cancel := createContextWithTimeout(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	svc, err := sheets.NewSheetsService(ctx, cfg.SheetsConfig())
	if err != nil {
		if errors.Is(err, sheets.ErrNotConfigured) {
			return fmt.Errorf("GOOGLE_SHEET_URL is not set")
		}
		return fmt.Errorf("failed to connect to Google Sheets: %w", err)
	}
	if err := svc.AppendResults(ctx, results); err != nil {
		log.Error().Err(err).Msg("Export failed")
		return fmt.Errorf("failed to export answers: %w", err)
	}

	log.Info().Int("rows", len(results)).Msg("Answers exported")
	fmt.Printf("Exported %d answer(s)\n", len(results))
	return nil
}
