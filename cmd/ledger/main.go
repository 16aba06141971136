package main

import (
	"log"

	"github.com/shestoi/backoffice/internal/app"
	"github.com/shestoi/backoffice/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Log()

	// Build собирает граф зависимостей: storage, cache, publisher, services, router
	application, err := app.Build(cfg)
	if err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	// блокируется до SIGINT/SIGTERM
	if err := application.Run(); err != nil {
		log.Fatalf("Service error: %v", err)
	}
}
