package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/courier-dev/courier"
)

var serveConfigFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatch host",
	Long: `Loads the config file, registers the agents it declares, and serves
dispatch traffic until SIGINT or SIGTERM. COURIER_* environment variables
override individual settings from the file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Printf("Starting courier host v%s", Version)
		log.Printf("Config: %s", serveConfigFile)
		return courier.Run(serveConfigFile)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c",
		getEnv("CONFIG_FILE", "config/courier.yaml"), "host configuration file")
}
