package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"quizsnap/internal/logger"
	"quizsnap/internal/pipeline"
	"quizsnap/internal/store"
	"quizsnap/pkg/models"
)

var processCmd = &cobra.Command{
	Use:   "process [image...]",
	Short: "Run screenshots through the full pipeline once",
	Long: `Submit the given screenshots to the pipeline, wait until every one has an
outcome and print the answers.

The duplicate gates apply exactly as in "run": an image already answered in
OUTPUT_DIR is skipped, as is a question whose text, number or content was
seen before.`,
	Example: `  quizsnap process Captures/q1.png Captures/q2.png
  quizsnap process Captures/*.png --json -o answers.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	processCmd.Flags().Bool("json", false, "Output as JSON")
	processCmd.Flags().Int("timeout", 600, "Processing timeout in seconds")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("process")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.AutoAnswer = true

	ctx, cancel := createContextWithTimeout(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	var (
		mu       sync.Mutex
		outcomes = make(map[string]pipeline.Outcome)
	)
	a, err := newApp(ctx, cfg, func(path string, outcome pipeline.Outcome) {
		mu.Lock()
		outcomes[path] = outcome
		mu.Unlock()
	})
	if err != nil {
		return err
	}
	defer a.Close()

	p := a.pipeline
	p.Start(ctx)

	var submitted []string
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("invalid path %s: %w", arg, err)
		}
		if _, err := os.Stat(path); err != nil {
			log.Error().Str("file", arg).Msg("Image not found")
			return fmt.Errorf("image not found: %s", arg)
		}
		if !p.Submit(path) {
			log.Warn().Str("file", arg).Msg("Image skipped, already processed or in progress")
			continue
		}
		submitted = append(submitted, path)
	}

	waitErr := p.WaitIdle(ctx)
	cancel()
	p.Wait()
	if waitErr != nil {
		return handleOCRError(waitErr, log)
	}

	var results []models.AnswerResult
	mu.Lock()
	defer mu.Unlock()
	for _, path := range submitted {
		outcome := outcomes[path]
		log.Info().Str("file", filepath.Base(path)).Str("outcome", outcome.String()).Msg("Image processed")
		if outcome != pipeline.OutcomeAnswered && outcome != pipeline.OutcomeNoStructure {
			continue
		}
		r, err := a.store.LoadResult(store.BaseName(path))
		if err != nil {
			log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("Result not readable")
			continue
		}
		results = append(results, *r)
	}

	data, err := marshalResults(results, jsonOutput)
	if err != nil {
		return err
	}
	return writeOutput(data, outputPath, log)
}
