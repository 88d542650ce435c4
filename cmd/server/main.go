package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/rvesse/jena-fuseki-kafka/internal/config"
	"github.com/rvesse/jena-fuseki-kafka/internal/connector"
	"github.com/rvesse/jena-fuseki-kafka/internal/engine"
	"github.com/rvesse/jena-fuseki-kafka/internal/logging"
	"github.com/rvesse/jena-fuseki-kafka/internal/telemetry"
	"github.com/rvesse/jena-fuseki-kafka/source/kafka"
)

func main() {
	cfgPath := flag.String("config", "server.yml", "server configuration file")
	flag.Parse()

	logging.InitFromEnv()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Log.Level != "" || cfg.Log.JSON {
		logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	}

	kafka.Register("sarama", func() kafka.Consumer { return &kafka.SaramaDriver{} })

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := connector.NewRegistry()
	e, err := engine.Prepare(cfg, reg)
	if err != nil {
		log.Fatalf("prepare: %v", err)
	}
	if cfg.MetricsPort > 0 {
		telemetry.Expose(cfg.MetricsPort)
	}

	e.Start(ctx)
	logging.L().Info("connector engine running", "topics", e.Topics())

	<-ctx.Done()
	e.Stop()
	logging.L().Info("connector engine stopped")
}
