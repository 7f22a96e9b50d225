package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var stateAddr string

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show a running host's state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(stateAddr + "/api/v1/state")
		if err != nil {
			return fmt.Errorf("query %s: %w", stateAddr, err)
		}
		defer resp.Body.Close()

		if err := printResponseJSON(resp.Body); err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("host returned %s", resp.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.Flags().StringVar(&stateAddr, "addr",
		getEnv("COURIER_ADDR", "http://localhost:8080"), "host base URL")
}
