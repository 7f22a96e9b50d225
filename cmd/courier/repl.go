package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/courier-dev/courier/agent"
)

var replAddr string

var replCommands = []string{"send", "state", "help", "exit", "quit"}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive shell against a running host",
	Long: `Opens an interactive shell for poking at a running host. Type
"help" inside the shell for the available commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runREPL(replAddr)
	},
}

func init() {
	rootCmd.AddCommand(replCmd)
	replCmd.Flags().StringVar(&replAddr, "addr",
		getEnv("COURIER_ADDR", "http://localhost:8080"), "host base URL")
}

func runREPL(addr string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string
		for _, c := range replCommands {
			if strings.HasPrefix(c, strings.ToLower(prefix)) {
				out = append(out, c)
			}
		}
		return out
	})

	historyPath := replHistoryPath()
	if f, err := os.Open(historyPath); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
	}()

	fmt.Printf("courier repl, host %s (help for commands)\n", addr)

	for {
		input, err := line.Prompt("courier> ")
		if err != nil {
			// Ctrl-C aborts the line, Ctrl-D leaves the shell
			if err == liner.ErrPromptAborted {
				continue
			}
			fmt.Println()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		switch fields[0] {
		case "exit", "quit":
			return nil
		case "help":
			replHelp()
		case "state":
			if err := replState(addr); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "send":
			if len(fields) < 2 {
				fmt.Println("usage: send <type> [payload]")
				continue
			}
			rest := strings.TrimSpace(input[len("send"):])
			payload := strings.TrimSpace(strings.TrimPrefix(rest, fields[1]))
			if err := replSend(addr, fields[1], payload); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		default:
			fmt.Printf("unknown command %q (help for commands)\n", fields[0])
		}
	}
}

func replHelp() {
	fmt.Println(`commands:
  send <type> [payload]   submit an envelope (payload is JSON or a string)
  state                   show host state
  help                    this help
  exit                    leave the shell`)
}

func replSend(addr, msgType, payloadStr string) error {
	var payload interface{}
	if payloadStr != "" {
		if json.Valid([]byte(payloadStr)) {
			payload = json.RawMessage(payloadStr)
		} else {
			payload = payloadStr
		}
	}

	env, err := agent.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	env.Sender = "repl"

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(addr+"/api/v1/dispatch", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponseJSON(resp.Body)
}

func replState(addr string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(addr + "/api/v1/state")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponseJSON(resp.Body)
}

func replHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".courier_history")
	}
	return filepath.Join(home, ".courier_history")
}
