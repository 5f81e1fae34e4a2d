package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"quizsnap/internal/logger"
	"quizsnap/pkg/models"
)

var askCmd = &cobra.Command{
	Use:   "ask [image-file]",
	Short: "Answer a single screenshot, bypassing the duplicate gates",
	Long: `Read the screenshot with OCR, ask the AI model and print the answer.

Unlike "process", the image is answered even when it or its question was seen
before. The result is still saved to OUTPUT_DIR.`,
	Example: `  quizsnap ask Captures/q1.png
  quizsnap ask Captures/q1.png --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	askCmd.Flags().Bool("json", false, "Output as JSON")
	askCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runAsk(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ask")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.pipeline.AnswerImage(ctx, args[0])
	if err != nil {
		return handleOCRError(err, log)
	}

	data, err := marshalResults([]models.AnswerResult{*r}, jsonOutput)
	if err != nil {
		return err
	}
	return writeOutput(data, outputPath, log)
}
