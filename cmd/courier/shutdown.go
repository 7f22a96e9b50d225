package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	shutdownAddr  string
	shutdownGrace time.Duration
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask a running host to drain and stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(map[string]string{"grace": shutdownGrace.String()})
		if err != nil {
			return err
		}

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Post(shutdownAddr+"/api/v1/shutdown", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("signal %s: %w", shutdownAddr, err)
		}
		defer resp.Body.Close()

		if err := printResponseJSON(resp.Body); err != nil {
			return err
		}
		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("host returned %s", resp.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(shutdownCmd)
	shutdownCmd.Flags().StringVar(&shutdownAddr, "addr",
		getEnv("COURIER_ADDR", "http://localhost:8080"), "host base URL")
	shutdownCmd.Flags().DurationVar(&shutdownGrace, "grace", 10*time.Second, "drain grace period")
}
