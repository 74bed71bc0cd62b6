package main

import (
	"log"

	"github.com/joho/godotenv"

	"peoplecounter/internal/app"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	application, err := app.New()
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer application.Close()

	if err := application.Run(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
