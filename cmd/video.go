package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quizsnap/internal/logger"
	"quizsnap/internal/video"
)

var videoCmd = &cobra.Command{
	Use:   "video [video-file]",
	Short: "Extract question frames from a screen recording",
	Long: `Sample one frame every --interval seconds of a screen recording with ffmpeg
and write the frames that differ from each other to CAPTURE_DIR as
capture_video_<timestamp>_<n>.png.

A running "quizsnap run" picks the frames up like any other capture; with
--process they are answered right away. Answered frames are moved to
VIDEO_CAPTURE_DIR.

ffmpeg must be installed and on PATH.`,
	Example: `  # One frame every 2 seconds
  quizsnap video exam.mp4

  # One frame every 5 seconds, answered immediately
  quizsnap video exam.mp4 --interval 5 --process`,
	Args: cobra.ExactArgs(1),
	RunE: runVideo,
}

func init() {
	rootCmd.AddCommand(videoCmd)

	videoCmd.Flags().IntP("interval", "i", video.DefaultInterval, "Seconds between frames (1-20)")
	videoCmd.Flags().Bool("process", false, "Answer the extracted frames")
	videoCmd.Flags().Int("timeout", 1800, "Processing timeout in seconds")
}

func runVideo(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("video")

	interval, _ := cmd.Flags().GetInt("interval")
	process, _ := cmd.Flags().GetBool("process")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	frames, err := video.New(cfg.CaptureDir).Extract(ctx, args[0], interval)
	switch {
	case errors.Is(err, video.ErrInvalidInterval):
		return fmt.Errorf("--interval must be between %d and %d seconds", video.MinInterval, video.MaxInterval)
	case errors.Is(err, video.ErrVideoNotFound):
		return fmt.Errorf("video file not found: %s", args[0])
	case err != nil:
		log.Error().Err(err).Msg("Frame extraction failed")
		return fmt.Errorf("frame extraction failed. Is ffmpeg installed and on PATH? %w", err)
	}

	fmt.Printf("Extracted %d frame(s) to %s\n", len(frames), cfg.CaptureDir)
	if !process || len(frames) == 0 {
		return nil
	}

	cfg.AutoAnswer = true
	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	p := a.pipeline
	p.Start(ctx)
	queued := 0
	for _, f := range frames {
		if p.Submit(f) {
			queued++
		}
	}
	log.Info().Int("frames", queued).Msg("Answering extracted frames")

	waitErr := p.WaitIdle(ctx)
	cancel()
	p.Wait()
	if waitErr != nil {
		return handleOCRError(waitErr, log)
	}
	fmt.Printf("Answered frames are in %s\n", cfg.OutputDir)
	return nil
}
