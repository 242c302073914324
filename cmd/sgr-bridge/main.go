// Command sgr-bridge serves an OpenAI-compatible chat-completions API in
// front of the SGR deep-research agent API.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	sgrbridge "github.com/Rosti35/sgr-agent-core"
)

var (
	host          string
	port          int
	upstreamURL   string
	upstreamKey   string
	apiKey        string
	defaultAgent  string
	timeout       time.Duration
	showToolCalls bool
	configPath    string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "sgr-bridge",
	Short: "OpenAI-compatible bridge to the SGR deep-research agent API",
	Long: `sgr-bridge exposes /v1/chat/completions and /v1/models in front of an
SGR deep-research agent backend, translating its event stream into
OpenAI-compatible incremental chunks.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&host, "host", envOr("HOST", "0.0.0.0"), "Listen host")
	rootCmd.Flags().IntVar(&port, "port", envIntOr("PORT", 9000), "Listen port")
	rootCmd.Flags().StringVar(&upstreamURL, "upstream", envOr("SGR_API_BASE_URL", "http://localhost:8010"), "Base URL of the SGR agent API")
	rootCmd.Flags().StringVar(&upstreamKey, "upstream-key", os.Getenv("SGR_API_KEY"), "Bearer token for the SGR agent API")
	rootCmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("BRIDGE_API_KEY"), "Bearer token required on inbound requests (empty disables auth)")
	rootCmd.Flags().StringVar(&defaultAgent, "default-agent", envOr("DEFAULT_MODEL", "sgr_tool_calling_agent"), "Agent used when a request names no model")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 300*time.Second, "Maximum duration of one turn")
	rootCmd.Flags().BoolVar(&showToolCalls, "show-tool-calls", true, "Emit tool annotations in the response stream")
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to a bridge.yaml config file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := &sgrbridge.Config{
		UpstreamURL:   upstreamURL,
		UpstreamKey:   upstreamKey,
		APIKey:        apiKey,
		DefaultAgent:  defaultAgent,
		Timeout:       timeout,
		ShowToolCalls: showToolCalls,
	}

	// Config file values override flag/env defaults.
	if configPath != "" {
		logger.Info("loading config", "path", configPath)
		if err := sgrbridge.LoadConfigFile(configPath, cfg); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	s := sgrbridge.New(
		sgrbridge.WithHost(host),
		sgrbridge.WithPort(port),
		sgrbridge.WithConfig(cfg),
		sgrbridge.WithLogger(logger),
	)
	return s.Start()
}

// envOr returns the environment variable or a default value.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envIntOr returns the environment variable as int or a default value.
func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
