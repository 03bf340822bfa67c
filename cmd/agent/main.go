// Command agent is the engine entrypoint: load configuration, build the
// §4.K engine façade, and run until signalled. Descended from the
// teacher's cmd/agent/main.go, which built one fixed (stt, llm, tts)
// triple and ran a local-mic/speaker loop; this version builds the engine
// façade instead and runs the ARI/RTP/AudioSocket call loop until SIGINT
// or SIGTERM.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/config"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/engine"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
)

// Exit codes per spec.md §6: 0 normal, 1 config error, 2 transport bind
// error, 3 provider init error.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitTransportBind = 2
	exitProviderInit  = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the engine's YAML configuration")
	flag.Parse()

	logger, err := logging.NewProduction()
	if err != nil {
		log.Println("falling back to no-op logger:", err)
		logger = logging.NoOp{}
	}

	watcher, err := config.NewWatcher(*configPath, func(err error) {
		logger.Warn("config reload rejected", "error", err)
	})
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		return exitConfigError
	}

	eng, err := engine.New(watcher.Current(), logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		return exitProviderInit
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("agent starting")
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("engine run failed", "error", err)
		return exitTransportBind
	}
	logger.Info("agent stopped")
	return exitOK
}
