package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ixlab-labs/igni/internal/config"
	"github.com/ixlab-labs/igni/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to an igni config file (optional; IGNI_* env vars also apply)")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath, log)
	if err != nil {
		log.Fatal("loading config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, log)
	if err := srv.Start(ctx); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
