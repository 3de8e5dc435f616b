package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rcowellai/old-recording-app/internal/media"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Show configured capture devices and codec support",
	Long: `Probe the configured audio and video devices and report whether each is
reachable, then check which of the configured recording formats the local
ffmpeg build can encode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		host := media.NewFFmpegHost(media.FFmpegOptions{
			BinaryPath:  cfg.FFmpeg.Binary,
			AudioDevice: cfg.Devices.Audio,
			VideoDevice: cfg.Devices.Video,
		})

		fmt.Println("Capture devices")
		fmt.Println("===============")
		fmt.Printf("  audio: %-20s %s\n", cfg.Devices.Audio, deviceStatus(cfg.Devices.Audio))
		fmt.Printf("  video: %-20s %s\n", cfg.Devices.Video, deviceStatus(cfg.Devices.Video))

		fmt.Println("\nFormat support")
		fmt.Println("==============")
		for _, mt := range cfg.Formats.Audio {
			fmt.Printf("  %-32s %s\n", mt, supportMark(host, mt))
		}
		for _, mt := range cfg.Formats.Video {
			fmt.Printf("  %-32s %s\n", mt, supportMark(host, mt))
		}
		return nil
	},
}

// deviceStatus probes a device path. ALSA names without a path are left to
// ffmpeg to resolve at capture time.
func deviceStatus(device string) string {
	if !strings.HasPrefix(device, "/") {
		return "(ALSA name, resolved at capture time)"
	}
	_, err := os.Stat(device)
	switch {
	case err == nil:
		return "present"
	case os.IsNotExist(err):
		return "MISSING"
	case os.IsPermission(err):
		return "PERMISSION DENIED"
	default:
		return fmt.Sprintf("error: %v", err)
	}
}

func supportMark(host media.Host, mimeType string) string {
	if host.Supports(mimeType) {
		return "supported"
	}
	return "NOT SUPPORTED"
}
