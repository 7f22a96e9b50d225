package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/courier-dev/courier/agent"
)

var (
	sendAddr        string
	sendType        string
	sendPayload     string
	sendSender      string
	sendID          string
	sendCorrelation string
	sendTimeout     time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit one envelope to a running host",
	Long: `Builds an envelope from the flags and submits it over the host's
HTTP endpoint. The payload flag takes raw JSON; anything that does not
parse as JSON is sent as a plain string.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := buildEnvelope()
		if err != nil {
			return err
		}

		body, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("encode envelope: %w", err)
		}

		client := &http.Client{Timeout: sendTimeout}
		resp, err := client.Post(sendAddr+"/api/v1/dispatch", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("submit to %s: %w", sendAddr, err)
		}
		defer resp.Body.Close()

		if err := printResponseJSON(resp.Body); err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("host returned %s", resp.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendAddr, "addr",
		getEnv("COURIER_ADDR", "http://localhost:8080"), "host base URL")
	sendCmd.Flags().StringVarP(&sendType, "type", "t", "", "envelope type (required)")
	sendCmd.Flags().StringVarP(&sendPayload, "payload", "p", "", "payload, raw JSON or plain string")
	sendCmd.Flags().StringVar(&sendSender, "sender", "cli", "sender identity")
	sendCmd.Flags().StringVar(&sendID, "id", "", "envelope ID (defaults to a new UUID)")
	sendCmd.Flags().StringVar(&sendCorrelation, "correlation", "", "correlation ID")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 30*time.Second, "request timeout")
	_ = sendCmd.MarkFlagRequired("type")
}

func buildEnvelope() (*agent.Envelope, error) {
	var payload interface{}
	if sendPayload != "" {
		if json.Valid([]byte(sendPayload)) {
			payload = json.RawMessage(sendPayload)
		} else {
			payload = sendPayload
		}
	}

	env, err := agent.NewEnvelope(sendType, payload)
	if err != nil {
		return nil, fmt.Errorf("build envelope: %w", err)
	}
	env.Sender = sendSender
	if sendID != "" {
		env.ID = sendID
	}
	if sendCorrelation != "" {
		env.CorrelationID = sendCorrelation
	}
	return env, nil
}

// printResponseJSON pretty-prints a JSON response body, falling back to raw
// output for anything that does not decode.
func printResponseJSON(r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		fmt.Println(string(data))
		return nil
	}

	pretty, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	fmt.Println(string(pretty))
	return nil
}
