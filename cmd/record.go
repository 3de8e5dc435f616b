package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rcowellai/old-recording-app/internal/capture"
	"github.com/rcowellai/old-recording-app/internal/service"

	"github.com/spf13/cobra"
)

var recordVideo bool

var recordCmd = &cobra.Command{
	Use:   "record [name]",
	Short: "Record one take from the terminal",
	Long: `Record a single take: acquire the configured device, play the countdown,
capture until Ctrl+C or the duration cap, then save the recording to the
library and print its identifier.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "untitled"
		if len(args) == 1 {
			name = args[0]
		}

		svc := service.New(cfg)
		defer svc.Close()
		ctx := context.Background()

		mode := "audio"
		if recordVideo {
			mode = "video"
		}
		slog.Info("Acquiring capture device", "mode", mode)

		var err error
		if recordVideo {
			err = svc.RequestVideo(ctx)
		} else {
			err = svc.RequestAudio(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to acquire %s stream: %w", mode, err)
		}

		// Print countdown steps as they fire.
		go func() {
			for step := range svc.CountdownSteps() {
				if step != "" {
					fmt.Printf("  %s\n", step)
				}
			}
		}()

		if err := svc.Begin(); err != nil {
			return fmt.Errorf("failed to begin recording: %w", err)
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		fmt.Printf("Recording up to %d seconds. Press Ctrl+C to finish early.\n",
			svc.Status().MaxDurationSeconds)

		// Wait for a manual stop or the cap to finish the take.
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
	wait:
		for {
			select {
			case <-sigChan:
				slog.Info("Stopping recording")
				if err := svc.Done(); err != nil {
					return fmt.Errorf("failed to stop recording: %w", err)
				}
				break wait
			case <-ticker.C:
				status := svc.Status()
				if status.State == string(capture.StateStopped) {
					break wait
				}
				if status.State == string(capture.StateStreamReady) && status.LastError != "" {
					return fmt.Errorf("recording failed: %s", status.LastError)
				}
			}
		}

		status := svc.Status()
		if status.AutoFinalized {
			fmt.Println("Duration cap reached, recording finished automatically.")
		}
		fmt.Printf("Captured %d seconds (%s, %d bytes)\n",
			status.ElapsedSeconds, status.MimeType, status.ArtifactBytes)

		id, err := svc.SaveLast(name, func(fraction float64) {
			fmt.Printf("\rSaving... %3.0f%%", fraction*100)
		})
		if err != nil {
			return fmt.Errorf("failed to save recording: %w", err)
		}
		fmt.Printf("\rSaved %q as %s\n", name, id)
		return nil
	},
}

func init() {
	recordCmd.Flags().BoolVar(&recordVideo, "video", false, "capture video with audio instead of audio only")
}
