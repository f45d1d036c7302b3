package main

import (
	"log"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	"github.com/mohammad-safakhou/coach/internal/server"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := server.Run(cfg); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
