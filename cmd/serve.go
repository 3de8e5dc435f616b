package cmd

import (
	"fmt"

	"github.com/rcowellai/old-recording-app/internal/server"
	"github.com/rcowellai/old-recording-app/internal/service"

	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the recorder web server so a browser UI or any HTTP client can
drive the capture session: request a device, start the countdown, pause,
resume, finish, and download saved recordings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		svc := service.New(cfg)
		srv := server.New(svc, cfg.Server.Host, port)

		if err := srv.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "port for the web server (overrides config)")
}
