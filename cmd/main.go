package main

import (
	"log"

	"match-service/internal/config"
	"match-service/internal/server"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env vars")
	}

	cfg := config.Load()
	server.NewServer(cfg) // handles lifecycle & shutdown internally
}
