package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/0x556c79/deltabadger/internal/di"
	"github.com/0x556c79/deltabadger/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("deltabadger: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Printf("starting env=%s sweep=%q", cfg.Environment, cfg.Sweep.Schedule)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	log.Printf("clickhouse ready db=%s", cfg.ClickHouse.Database)
	log.Printf("kafka ready brokers=%v fills=%s", cfg.Kafka.Brokers, cfg.Kafka.FillsTopic)

	return app.Run()
}
