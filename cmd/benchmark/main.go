// Benchmark drives the dispatch path in process and reports throughput and
// latency percentiles. No transport involved: just registry, dispatcher,
// and handlers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/courier-dev/courier/agent"
)

func main() {
	var (
		handlers     = flag.Int("handlers", 1, "Handlers bound to the benchmark type (fan-out width)")
		messages     = flag.Int("messages", 10000, "Envelopes to dispatch")
		concurrency  = flag.Int("concurrency", 8, "Concurrent submitters")
		payloadBytes = flag.Int("payload-bytes", 256, "Payload size per envelope")
		handlerDelay = flag.Duration("handler-delay", 0, "Artificial work per handler invocation")
		outputFile   = flag.String("output", "", "Output file path (default: stdout)")
		outputFormat = flag.String("format", "text", "Output format: json, text")
		timeout      = flag.Duration("timeout", 5*time.Minute, "Overall benchmark timeout")
	)
	flag.Parse()

	if err := run(*handlers, *messages, *concurrency, *payloadBytes, *handlerDelay, *outputFile, *outputFormat, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Report is the benchmark output, stable enough to diff across runs.
type Report struct {
	GeneratedAt time.Time     `json:"generated_at"`
	GitCommit   string        `json:"git_commit,omitempty"`
	Environment string        `json:"environment"`
	GoVersion   string        `json:"go_version"`
	Handlers    int           `json:"handlers"`
	Messages    int           `json:"messages"`
	Concurrency int           `json:"concurrency"`
	Payload     int           `json:"payload_bytes"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Throughput  float64       `json:"throughput_per_sec"`
	P50         time.Duration `json:"p50_ns"`
	P95         time.Duration `json:"p95_ns"`
	P99         time.Duration `json:"p99_ns"`
	Max         time.Duration `json:"max_ns"`
	Failures    int64         `json:"failures"`
}

func run(handlers, messages, concurrency, payloadBytes int, handlerDelay time.Duration, outputFile, outputFormat string, timeout time.Duration) error {
	if handlers < 1 || messages < 1 || concurrency < 1 {
		return fmt.Errorf("handlers, messages, and concurrency must be positive")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	registry := agent.NewRegistry()
	for i := 0; i < handlers; i++ {
		id := fmt.Sprintf("bench-handler-%d", i)
		err := registry.Register(id, "bench.message", agent.HandlerFunc(
			func(ctx context.Context, env *agent.Envelope) (*agent.Envelope, error) {
				if handlerDelay > 0 {
					time.Sleep(handlerDelay)
				}
				return nil, nil
			}))
		if err != nil {
			return fmt.Errorf("register handler: %w", err)
		}
	}
	dispatcher := agent.NewDispatcher(registry)

	payload := strings.Repeat("x", payloadBytes)
	env, err := agent.NewEnvelope("bench.message", payload)
	if err != nil {
		return fmt.Errorf("build envelope: %w", err)
	}

	var (
		remaining atomic.Int64
		failures  atomic.Int64
		wg        sync.WaitGroup
	)
	remaining.Store(int64(messages))

	latencies := make([][]time.Duration, concurrency)
	start := time.Now()

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for remaining.Add(-1) >= 0 {
				t0 := time.Now()
				result := dispatcher.Dispatch(ctx, env)
				latencies[w] = append(latencies[w], time.Since(t0))
				if result.Status != agent.StatusSuccess {
					failures.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return fmt.Errorf("benchmark timed out after %s", timeout)
	}

	var all []time.Duration
	for _, l := range latencies {
		all = append(all, l...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	report := &Report{
		GeneratedAt: time.Now(),
		GitCommit:   getGitCommit(),
		Environment: getEnvironment(),
		GoVersion:   runtime.Version(),
		Handlers:    handlers,
		Messages:    messages,
		Concurrency: concurrency,
		Payload:     payloadBytes,
		Elapsed:     elapsed,
		Throughput:  float64(messages) / elapsed.Seconds(),
		P50:         percentile(all, 0.50),
		P95:         percentile(all, 0.95),
		P99:         percentile(all, 0.99),
		Max:         all[len(all)-1],
		Failures:    failures.Load(),
	}

	writer := os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile) // #nosec G304 - user-provided CLI argument
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		writer = f
	}

	switch outputFormat {
	case "json":
		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "text":
		return writeTextReport(writer, report)
	default:
		return fmt.Errorf("unknown format %q (json, text)", outputFormat)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func writeTextReport(w *os.File, r *Report) error {
	_, err := fmt.Fprintf(w, `dispatch benchmark (%s, %s)
  handlers:    %d
  messages:    %d
  concurrency: %d
  payload:     %d bytes

  elapsed:     %s
  throughput:  %.0f dispatches/sec
  p50:         %s
  p95:         %s
  p99:         %s
  max:         %s
  failures:    %d
`, r.Environment, r.GoVersion, r.Handlers, r.Messages, r.Concurrency, r.Payload,
		r.Elapsed.Round(time.Millisecond), r.Throughput,
		r.P50, r.P95, r.P99, r.Max, r.Failures)
	return err
}

func getGitCommit() string {
	if commit := os.Getenv("GITHUB_SHA"); commit != "" {
		return commit
	}
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func getEnvironment() string {
	if os.Getenv("CI") != "" {
		return "ci"
	}
	return "local"
}
