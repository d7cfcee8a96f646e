package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/verdantlabs/carbonetl/etl/pkg/mapping"
	"github.com/verdantlabs/carbonetl/server/internal/server"
	"github.com/verdantlabs/carbonetl/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", ":8080", "HTTP listen address (or set LISTEN_ADDR env var)")
	outputDirFlag := flag.String("output-dir", "outputs", "directory for per-run outputs")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	modelFlag := flag.String("model", "claude-sonnet-4-0", "Anthropic model for mapping proposal (or set CARBONETL_MODEL env var)")
	maxTokensFlag := flag.Int64("max-tokens", 4096, "max tokens for the mapping proposal response")

	flag.Parse()

	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if envAddr := os.Getenv("LISTEN_ADDR"); envAddr != "" {
		*listenAddrFlag = envAddr
	}
	if envModel := os.Getenv("CARBONETL_MODEL"); envModel != "" {
		*modelFlag = envModel
	}

	// Runs may still supply explicit mappings when no API key is present.
	var proposer mapping.Proposer
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		proposer = mapping.NewAnthropicProposer(log, anthropic.Model(*modelFlag), *maxTokensFlag)
	} else {
		log.Warn("ANTHROPIC_API_KEY not set, mapping proposal disabled")
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		OutputDir:       *outputDirFlag,
		Proposer:        proposer,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
