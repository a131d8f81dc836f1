package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"xnoded/services/agent"
)

func main() {
	configPath := flag.String("config", agent.ConfigPath, "path to agent configuration file")
	stateDir := flag.String("state-dir", "", "override the agent state directory")
	flag.Parse()

	logger := log.New(os.Stdout, "xnode-agent: ", log.LstdFlags)

	svc, err := agent.NewService(*configPath, agent.NewFileApplier(*stateDir))
	if err != nil {
		logger.Fatalf("failed to initialize service: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("service exited with error: %v", err)
	}
}
