/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/muninndb/muninn/pkg/api"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only inspection server",
	Long: `Serve the region's records and zone reports over HTTP. The surface is
read-only: GET /v1/records, GET /v1/report, GET /healthz and GET /metrics.

Examples:
  muninn serve
  muninn serve --port 9220 --bind 0.0.0.0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bind, _ := cmd.Flags().GetString("bind")
		port, _ := cmd.Flags().GetInt("port")
		if bind == "" {
			bind = current.cfg.API.Bind
		}
		if port == 0 {
			port = current.cfg.API.Port
		}

		return api.StartServer(current.store, api.ServerConfig{
			Bind:     bind,
			Port:     port,
			Gatherer: current.registry,
			Logger:   current.logger,
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("bind", "", "Bind address (defaults to the configured one)")
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (defaults to the configured one)")
}
